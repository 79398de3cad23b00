package manager

import (
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/btlink/internal/bt"
)

// ReconnectOptions configures automatic reconnection to the last requested
// peer. A zero Max disables it.
type ReconnectOptions struct {
	Base time.Duration // first retry delay; defaults to one second
	Max  time.Duration // backoff cap
}

// backoffDelay returns the reconnection delay for attempt n, capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt > 30 {
		return max
	}
	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}

// reconnector retries the peer last passed to Connect after a failed
// attempt or a lost session, with exponential backoff. An explicit
// Disconnect clears the target.
type reconnector struct {
	connect func(bt.Device) error
	opts    ReconnectOptions

	mu      sync.Mutex
	target  bt.Device
	attempt int
	timer   *time.Timer
	gen     uint64
	closed  bool
}

func newReconnector(connect func(bt.Device) error, opts ReconnectOptions) *reconnector {
	if opts.Base <= 0 {
		opts.Base = time.Second
	}
	return &reconnector{connect: connect, opts: opts}
}

// want records dev as the peer to keep connected.
func (r *reconnector) want(dev bt.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.target.Same(dev) {
		r.attempt = 0
	}
	r.target = dev
	r.stopTimerLocked()
}

// forget drops the target.
func (r *reconnector) forget() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = bt.Device{}
	r.attempt = 0
	r.stopTimerLocked()
}

func (r *reconnector) handle(n bt.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.target.Address == "" {
		return
	}

	switch n.Kind {
	case bt.KindConnecting:
		// A teardown for a new attempt is always followed by Connecting.
		if r.target.Same(n.Device) {
			r.stopTimerLocked()
		}

	case bt.KindConnected:
		if r.target.Same(n.Device) {
			r.attempt = 0
			r.stopTimerLocked()
		}

	case bt.KindConnectFailed, bt.KindDisconnected:
		switch {
		case n.State == bt.StateAdapterOff || n.State == bt.StateNoAdapter:
			// Wait for the adapter to come back.
			r.stopTimerLocked()
		case n.Device.Address == "" && n.State == bt.StateDisconnected:
			// Adapter powered on.
			r.attempt = 0
			r.scheduleLocked(0)
		case r.target.Same(n.Device) && n.State == bt.StateDisconnected:
			delay := backoffDelay(r.attempt, r.opts.Base, r.opts.Max)
			r.attempt++
			r.scheduleLocked(delay)
		}
	}
}

func (r *reconnector) scheduleLocked(delay time.Duration) {
	r.stopTimerLocked()
	gen := r.gen
	target := r.target
	slog.Info("[MANAGER] reconnect scheduled", "device", target.Address, "attempt", r.attempt, "delay", delay)
	r.timer = time.AfterFunc(delay, func() {
		// Held across connect so a concurrent forget cannot be overtaken.
		// connect only queues notifications, so handle never runs inside it.
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed || gen != r.gen {
			return
		}
		r.timer = nil
		if err := r.connect(target); err != nil {
			slog.Warn("[MANAGER] reconnect failed", "device", target.Address, "error", err)
		}
	})
}

func (r *reconnector) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.gen++
}

func (r *reconnector) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.stopTimerLocked()
}
