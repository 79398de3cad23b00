package link

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chaz8081/btlink/internal/bt"
)

var errSocketClosed = errors.New("mock: socket closed")

// mockSocket blocks in Connect until the test resolves it or the socket is
// closed, like a real RFCOMM socket.
type mockSocket struct {
	dev       bt.Device
	connectCh chan error
	closed    chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32

	// ignoreClose makes Connect wait for the test even after Close, like a
	// stack that completes a connect it was asked to abort.
	ignoreClose bool
	entered     chan struct{}
	enterOnce   sync.Once

	streamErr error
	pr        *io.PipeReader
	pw        *io.PipeWriter
}

func newMockSocket(dev bt.Device) *mockSocket {
	pr, pw := io.Pipe()
	return &mockSocket{
		dev:       dev,
		connectCh: make(chan error, 1),
		entered:   make(chan struct{}),
		closed:    make(chan struct{}),
		pr:        pr,
		pw:        pw,
	}
}

func (s *mockSocket) Connect() error {
	s.enterOnce.Do(func() { close(s.entered) })
	if s.ignoreClose {
		return <-s.connectCh
	}
	select {
	case err := <-s.connectCh:
		return err
	case <-s.closed:
		return errSocketClosed
	}
}

func (s *mockSocket) InputStream() (io.ReadCloser, error) {
	if s.streamErr != nil {
		return nil, s.streamErr
	}
	return s.pr, nil
}

func (s *mockSocket) Close() error {
	s.closes.Add(1)
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.pw.CloseWithError(errSocketClosed)
	})
	return nil
}

func (s *mockSocket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// succeed lets the pending Connect return nil.
func (s *mockSocket) succeed() { s.connectCh <- nil }

// fail lets the pending Connect return err.
func (s *mockSocket) fail(err error) { s.connectCh <- err }

// mockFactory records every socket it creates.
type mockFactory struct {
	mu          sync.Mutex
	err         error
	streamErr   error
	ignoreClose bool
	uuids       []string
	created     chan *mockSocket
}

func newMockFactory() *mockFactory {
	return &mockFactory{created: make(chan *mockSocket, 16)}
}

func (f *mockFactory) CreateSocket(dev bt.Device, serviceUUID string) (bt.Socket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uuids = append(f.uuids, serviceUUID)
	if f.err != nil {
		return nil, f.err
	}
	s := newMockSocket(dev)
	s.streamErr = f.streamErr
	s.ignoreClose = f.ignoreClose
	f.created <- s
	return s, nil
}

// next returns the next socket the factory creates.
func (f *mockFactory) next(t *testing.T) *mockSocket {
	t.Helper()
	select {
	case s := <-f.created:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for socket creation")
		return nil
	}
}

// recorder collects notifications in delivery order.
type recorder struct {
	ch chan bt.Notification
}

func newRecorder(n *bt.Notifier) *recorder {
	r := &recorder{ch: make(chan bt.Notification, 64)}
	n.Subscribe(func(nt bt.Notification) { r.ch <- nt })
	return r
}

func (r *recorder) next(t *testing.T) bt.Notification {
	t.Helper()
	select {
	case nt := <-r.ch:
		return nt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return bt.Notification{}
	}
}

func (r *recorder) expect(t *testing.T, kind bt.Kind, state bt.State) bt.Notification {
	t.Helper()
	nt := r.next(t)
	if nt.Kind != kind || nt.State != state {
		t.Fatalf("notification = %v/%v, want %v/%v", nt.Kind, nt.State, kind, state)
	}
	return nt
}

func (r *recorder) expectNone(t *testing.T) {
	t.Helper()
	select {
	case nt := <-r.ch:
		t.Fatalf("unexpected notification %v (state %v, device %q)", nt.Kind, nt.State, nt.Device.Address)
	case <-time.After(50 * time.Millisecond):
	}
}

type countingDiscovery struct {
	n atomic.Int32
}

func (d *countingDiscovery) CancelDiscovery() { d.n.Add(1) }

func waitClosed(t *testing.T, s *mockSocket) {
	t.Helper()
	select {
	case <-s.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("socket was not closed")
	}
}

func TestMockSocketImplementsInterface(t *testing.T) {
	var _ bt.Socket = (*mockSocket)(nil)
	var _ bt.SocketFactory = (*mockFactory)(nil)
}
