package bt

import "sync"

type handler struct {
	id int
	fn func(Event)
}

// Handlers is a registry of platform event handlers. Backends embed it to
// implement Discoverer.Subscribe. The zero value is ready to use.
type Handlers struct {
	mu     sync.Mutex
	hs     []handler
	nextID int
}

// Subscribe registers fn and returns an idempotent unsubscribe func.
// Handlers are called in subscription order.
func (h *Handlers) Subscribe(fn func(Event)) (unsubscribe func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.hs = append(h.hs, handler{id: id, fn: fn})
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, s := range h.hs {
			if s.id == id {
				h.hs = append(h.hs[:i:i], h.hs[i+1:]...)
				return
			}
		}
	}
}

// Len returns the number of registered handlers.
func (h *Handlers) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.hs)
}

// Emit calls every handler with ev on the calling goroutine. Handlers may
// subscribe or unsubscribe while being called.
func (h *Handlers) Emit(ev Event) {
	h.mu.Lock()
	hs := make([]handler, len(h.hs))
	copy(hs, h.hs)
	h.mu.Unlock()
	for _, s := range hs {
		s.fn(ev)
	}
}
