package manager

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/btlink/internal/bt"
	"github.com/chaz8081/btlink/internal/bt/bttest"
	"github.com/chaz8081/btlink/internal/discovery"
)

// blockingSocket never connects on its own; Close unblocks it.
type blockingSocket struct {
	once   sync.Once
	closed chan struct{}
}

func (s *blockingSocket) Connect() error {
	<-s.closed
	return errors.New("socket closed")
}

func (s *blockingSocket) InputStream() (io.ReadCloser, error) {
	return nil, errors.New("not connected")
}

func (s *blockingSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type blockingFactory struct{}

func (blockingFactory) CreateSocket(bt.Device, string) (bt.Socket, error) {
	return &blockingSocket{closed: make(chan struct{})}, nil
}

type notes struct {
	ch chan bt.Notification
}

func subscribe(m *Manager) *notes {
	n := &notes{ch: make(chan bt.Notification, 64)}
	m.Subscribe(func(nt bt.Notification) { n.ch <- nt })
	return n
}

func (n *notes) expect(t *testing.T, kind bt.Kind) bt.Notification {
	t.Helper()
	select {
	case nt := <-n.ch:
		if nt.Kind != kind {
			t.Fatalf("notification = %v, want %v", nt.Kind, kind)
		}
		return nt
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %v", kind)
		return bt.Notification{}
	}
}

func newTestManager(t *testing.T, a *bttest.Adapter) *Manager {
	t.Helper()
	var adapter bt.Adapter
	if a != nil {
		adapter = a
	}
	m := New(adapter, blockingFactory{}, Options{Discovery: discovery.Options{Duration: -1}})
	t.Cleanup(func() { m.Close() })
	return m
}

func TestConstructWithPairedDevice(t *testing.T) {
	a := bttest.New(bt.AdapterEnabled, bt.Device{Address: "98:D3:31:FB:2A:11", Name: "HC-06"})
	m := newTestManager(t, a)

	if got := m.State(); got != bt.StateDisconnected {
		t.Errorf("State() = %v, want disconnected", got)
	}
	devs := m.QueryPairedDevices()
	found := false
	for _, d := range devs {
		if d.Name == "HC-06" {
			found = true
		}
	}
	if !found {
		t.Errorf("QueryPairedDevices() = %v, want HC-06", devs)
	}
	if m.Discovering() {
		t.Error("no scan should run at construction")
	}
}

func TestNilAdapter(t *testing.T) {
	m := newTestManager(t, nil)
	if got := m.State(); got != bt.StateNoAdapter {
		t.Errorf("State() = %v, want no-adapter", got)
	}
	m.StartDiscovery()
	m.EnableAdapter()
	if err := m.Connect(bt.Device{Address: "AA:BB:CC:DD:EE:FF"}); !errors.Is(err, bt.ErrAdapterUnavailable) {
		t.Errorf("Connect() error = %v, want ErrAdapterUnavailable", err)
	}
	if devs := m.QueryPairedDevices(); len(devs) != 0 {
		t.Errorf("QueryPairedDevices() = %v, want empty", devs)
	}
}

func TestConnectCancelsDiscovery(t *testing.T) {
	a := bttest.New(bt.AdapterEnabled)
	m := newTestManager(t, a)
	n := subscribe(m)

	m.StartDiscovery()
	n.expect(t, bt.KindDiscoveryStarted)

	dev := bt.Device{Address: "AA:BB:CC:DD:EE:FF", Name: "HC-05"}
	if err := m.Connect(dev); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	n.expect(t, bt.KindDiscoveryFinished)
	nt := n.expect(t, bt.KindConnecting)
	if !nt.Device.Same(dev) {
		t.Errorf("Connecting device = %q, want %q", nt.Device.Address, dev.Address)
	}
	if a.Discovering() {
		t.Error("discovery should be cancelled by Connect")
	}
}

func TestPlatformLinkDownReachesMachine(t *testing.T) {
	a := bttest.New(bt.AdapterEnabled)
	m := newTestManager(t, a)
	n := subscribe(m)

	dev := bt.Device{Address: "AA:BB:CC:DD:EE:FF"}
	_ = m.Connect(dev)
	n.expect(t, bt.KindConnecting)

	a.Emit(bt.Event{Type: bt.EventLinkDisconnected, Device: dev})
	n.expect(t, bt.KindDisconnected)
	if _, ok := m.Peer(); ok {
		t.Error("Peer() should be cleared after link down")
	}
}

func TestEnableDisableAdapter(t *testing.T) {
	a := bttest.New(bt.AdapterDisabled)
	m := newTestManager(t, a)
	n := subscribe(m)

	if got := m.State(); got != bt.StateAdapterOff {
		t.Fatalf("State() = %v, want adapter-off", got)
	}

	m.EnableAdapter()
	nt := n.expect(t, bt.KindDisconnected)
	if nt.State != bt.StateDisconnected {
		t.Errorf("state after enable = %v, want disconnected", nt.State)
	}

	m.DisableAdapter()
	nt = n.expect(t, bt.KindDisconnected)
	if nt.State != bt.StateAdapterOff {
		t.Errorf("state after disable = %v, want adapter-off", nt.State)
	}
	if got := m.State(); got != bt.StateAdapterOff {
		t.Errorf("State() = %v, want adapter-off", got)
	}
}

func TestCloseUnsubscribesFromAdapter(t *testing.T) {
	a := bttest.New(bt.AdapterEnabled)
	m := New(a, blockingFactory{}, Options{})
	if a.Subscribers() != 2 {
		t.Fatalf("Subscribers() = %d, want 2 (discovery + link events)", a.Subscribers())
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if a.Subscribers() != 0 {
		t.Errorf("Subscribers() after Close = %d, want 0", a.Subscribers())
	}
}
