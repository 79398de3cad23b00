package bt

import "sync"

type subscriber struct {
	id uint64
	fn func(Notification)
}

// Notifier fans notifications out to registered handlers.
//
// Publish never blocks: notifications are queued and delivered in publish
// order by a single dispatcher goroutine, so a handler may call back into
// the component that published without deadlocking on its lock.
type Notifier struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []Notification
	subs      []subscriber
	nextID    uint64
	published uint64
	delivered uint64
	closed    bool
	done      chan struct{}
}

// NewNotifier starts the dispatcher. Call Close when done.
func NewNotifier() *Notifier {
	n := &Notifier{done: make(chan struct{})}
	n.cond = sync.NewCond(&n.mu)
	go n.dispatch()
	return n
}

// Subscribe registers handler and returns its unsubscribe function.
// Unsubscribing is idempotent.
func (n *Notifier) Subscribe(handler func(Notification)) (unsubscribe func()) {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.subs = append(n.subs, subscriber{id: id, fn: handler})
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			for i, s := range n.subs {
				if s.id == id {
					n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish queues nt for delivery. Notifications published after Close are
// dropped.
func (n *Notifier) Publish(nt Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.queue = append(n.queue, nt)
	n.published++
	n.cond.Broadcast()
}

// Flush blocks until every notification published before the call has been
// handed to the subscribers. It must not be called from a handler.
func (n *Notifier) Flush() {
	n.mu.Lock()
	defer n.mu.Unlock()
	target := n.published
	for n.delivered < target {
		n.cond.Wait()
	}
}

// Close delivers what is already queued, then stops the dispatcher.
// Safe to call multiple times.
func (n *Notifier) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		n.cond.Broadcast()
	}
	n.mu.Unlock()
	<-n.done
}

func (n *Notifier) dispatch() {
	defer close(n.done)
	for {
		n.mu.Lock()
		for len(n.queue) == 0 && !n.closed {
			n.cond.Wait()
		}
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return
		}
		nt := n.queue[0]
		n.queue = n.queue[1:]
		subs := make([]subscriber, len(n.subs))
		copy(subs, n.subs)
		n.mu.Unlock()

		for _, s := range subs {
			s.fn(nt)
		}

		n.mu.Lock()
		n.delivered++
		n.cond.Broadcast()
		n.mu.Unlock()
	}
}
