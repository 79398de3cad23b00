package link

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/chaz8081/btlink/internal/bt"
)

// connectWorker performs one blocking connect attempt. Closing the socket
// is its only cancellation mechanism.
type connectWorker struct {
	epoch uint64
	dev   bt.Device

	mu        sync.Mutex
	sock      bt.Socket
	cancelled atomic.Bool
	done      chan struct{}
}

func startConnect(m *Machine, epoch uint64, dev bt.Device) *connectWorker {
	w := &connectWorker{
		epoch: epoch,
		dev:   dev,
		done:  make(chan struct{}),
	}
	go w.run(m)
	return w
}

func (w *connectWorker) run(m *Machine) {
	defer close(w.done)

	sock, err := m.factory.CreateSocket(w.dev, m.opts.ServiceUUID)
	if err != nil {
		if w.cancelled.Load() {
			return
		}
		slog.Warn("[LINK] socket creation failed", "device", w.dev.Address, "error", err)
		m.report(report{kind: reportConnectFailed, epoch: w.epoch, err: fmt.Errorf("%w: %w", bt.ErrSocketCreation, err)})
		return
	}

	// cancel may have run before the socket existed.
	w.mu.Lock()
	if w.cancelled.Load() {
		w.mu.Unlock()
		_ = sock.Close()
		return
	}
	w.sock = sock
	w.mu.Unlock()

	slog.Debug("[LINK] connecting", "device", w.dev.Address, "epoch", w.epoch)
	if err := sock.Connect(); err != nil {
		_ = sock.Close()
		if w.cancelled.Load() {
			slog.Debug("[LINK] connect cancelled", "device", w.dev.Address, "epoch", w.epoch)
			return
		}
		slog.Warn("[LINK] connect failed", "device", w.dev.Address, "error", err)
		m.report(report{kind: reportConnectFailed, epoch: w.epoch, err: fmt.Errorf("%w: %w", bt.ErrConnectFailed, err)})
		return
	}

	if w.cancelled.Load() {
		_ = sock.Close()
		return
	}
	m.report(report{kind: reportConnected, epoch: w.epoch, sock: sock})
}

// cancel force-closes the socket. It does not wait for the goroutine.
func (w *connectWorker) cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancelled.Swap(true) {
		return
	}
	if w.sock != nil {
		_ = w.sock.Close()
	}
}
