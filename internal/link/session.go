package link

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/chaz8081/btlink/internal/bt"
)

// sessionWorker owns a connected socket and forwards everything read from
// it to the data handler.
type sessionWorker struct {
	epoch uint64
	peer  bt.Device
	sock  bt.Socket

	mu        sync.Mutex
	stream    io.ReadCloser
	cancelled atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func startSession(m *Machine, epoch uint64, peer bt.Device, sock bt.Socket) *sessionWorker {
	w := &sessionWorker{
		epoch: epoch,
		peer:  peer,
		sock:  sock,
		done:  make(chan struct{}),
	}
	go w.run(m)
	return w
}

func (w *sessionWorker) run(m *Machine) {
	defer close(w.done)

	stream, err := w.sock.InputStream()
	if err != nil {
		w.close()
		if !w.cancelled.Load() {
			slog.Warn("[LINK] input stream unavailable", "device", w.peer.Address, "error", err)
			m.report(report{kind: reportSessionEnded, epoch: w.epoch, err: fmt.Errorf("%w: %w", bt.ErrStreamUnavailable, err)})
		}
		return
	}
	w.mu.Lock()
	w.stream = stream
	w.mu.Unlock()
	if w.cancelled.Load() {
		// cancel may have closed the socket before the stream was stored.
		_ = stream.Close()
		w.close()
		return
	}

	err = w.readLoop(stream, m.opts.ReadBufferSize, m.onData)
	w.close()
	if w.cancelled.Load() {
		slog.Debug("[LINK] session cancelled", "device", w.peer.Address, "epoch", w.epoch)
		return
	}
	slog.Info("[LINK] session ended", "device", w.peer.Address, "reason", err)
	m.report(report{kind: reportSessionEnded, epoch: w.epoch, err: err})
}

// readLoop returns the terminal condition: ErrStreamClosed on end of data,
// ErrRead wrapping the cause otherwise.
func (w *sessionWorker) readLoop(r io.Reader, size int, deliver bt.DataHandler) error {
	buf := make([]byte, size)
	for {
		n, err := r.Read(buf)
		if n > 0 && deliver != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			deliver(w.peer, chunk)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return bt.ErrStreamClosed
			}
			return fmt.Errorf("%w: %w", bt.ErrRead, err)
		}
	}
}

// cancel closes the stream and socket, unblocking a pending read.
func (w *sessionWorker) cancel() {
	if w.cancelled.Swap(true) {
		return
	}
	w.close()
}

func (w *sessionWorker) close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		stream := w.stream
		w.mu.Unlock()
		if stream != nil {
			_ = stream.Close()
		}
		_ = w.sock.Close()
	})
}
