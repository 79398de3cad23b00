package discovery

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/btlink/internal/bt"
	"github.com/chaz8081/btlink/internal/bt/bttest"
)

// collector records notifications published by the controller.
type collector struct {
	mu  sync.Mutex
	got []bt.Notification
}

func (c *collector) handle(nt bt.Notification) {
	c.mu.Lock()
	c.got = append(c.got, nt)
	c.mu.Unlock()
}

func (c *collector) kinds() []bt.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]bt.Kind, len(c.got))
	for i, nt := range c.got {
		out[i] = nt.Kind
	}
	return out
}

func newTestController(t *testing.T, a *bttest.Adapter, opts Options) (*Controller, *bt.Notifier, *collector) {
	t.Helper()
	n := bt.NewNotifier()
	col := &collector{}
	n.Subscribe(col.handle)
	c := New(a, nil, n, opts)
	t.Cleanup(func() {
		c.Close()
		n.Close()
	})
	return c, n, col
}

func equalKinds(a, b []bt.Kind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStartDiscoveryForwardsEvents(t *testing.T) {
	a := bttest.New(bt.AdapterEnabled)
	c, n, col := newTestController(t, a, Options{Duration: -1})

	c.StartDiscovery()
	if !c.Discovering() {
		t.Fatal("Discovering() should be true after StartDiscovery")
	}
	a.Found(bt.Device{Address: "AA:BB:CC:DD:EE:01", Name: "HC-05"})
	a.Found(bt.Device{Address: "AA:BB:CC:DD:EE:02"})
	c.CancelDiscovery()
	n.Flush()

	want := []bt.Kind{bt.KindDiscoveryStarted, bt.KindScanResult, bt.KindScanResult, bt.KindDiscoveryFinished}
	if got := col.kinds(); !equalKinds(got, want) {
		t.Errorf("notifications = %v, want %v", got, want)
	}
	col.mu.Lock()
	if col.got[1].Device.Name != "HC-05" {
		t.Errorf("first scan result = %+v, want HC-05", col.got[1].Device)
	}
	col.mu.Unlock()
}

func TestStartDiscoveryRestartsRunningScan(t *testing.T) {
	a := bttest.New(bt.AdapterEnabled)
	c, n, col := newTestController(t, a, Options{Duration: -1})

	c.StartDiscovery()
	c.StartDiscovery()
	n.Flush()

	starts, stops := a.Counts()
	if starts != 2 || stops != 1 {
		t.Errorf("starts/stops = %d/%d, want 2/1", starts, stops)
	}
	want := []bt.Kind{bt.KindDiscoveryStarted, bt.KindDiscoveryFinished, bt.KindDiscoveryStarted}
	if got := col.kinds(); !equalKinds(got, want) {
		t.Errorf("notifications = %v, want %v", got, want)
	}
}

func TestCancelDiscoveryWhenIdleIsNoOp(t *testing.T) {
	a := bttest.New(bt.AdapterEnabled)
	c, n, col := newTestController(t, a, Options{})

	c.CancelDiscovery()
	c.CancelDiscovery()
	n.Flush()

	if _, stops := a.Counts(); stops != 0 {
		t.Errorf("StopDiscovery called %d times, want 0", stops)
	}
	if got := col.kinds(); len(got) != 0 {
		t.Errorf("notifications = %v, want none", got)
	}
}

func TestScanWindowStopsDiscovery(t *testing.T) {
	a := bttest.New(bt.AdapterEnabled)
	c, n, col := newTestController(t, a, Options{Duration: 20 * time.Millisecond})

	c.StartDiscovery()
	deadline := time.Now().Add(2 * time.Second)
	for c.Discovering() {
		if time.Now().After(deadline) {
			t.Fatal("scan window did not stop discovery")
		}
		time.Sleep(5 * time.Millisecond)
	}
	n.Flush()

	want := []bt.Kind{bt.KindDiscoveryStarted, bt.KindDiscoveryFinished}
	if got := col.kinds(); !equalKinds(got, want) {
		t.Errorf("notifications = %v, want %v", got, want)
	}
}

func TestCancelledWindowDoesNotStopNextScan(t *testing.T) {
	a := bttest.New(bt.AdapterEnabled)
	c, _, _ := newTestController(t, a, Options{Duration: 30 * time.Millisecond})

	c.StartDiscovery()
	c.CancelDiscovery()
	c.StartDiscovery()
	time.Sleep(15 * time.Millisecond)
	if !c.Discovering() {
		t.Error("second scan stopped early by the first scan's window")
	}
}

func TestAbsentAdapterIsNoOp(t *testing.T) {
	a := bttest.New(bt.AdapterAbsent, bt.Device{Address: "AA:BB:CC:DD:EE:01"})
	c, n, col := newTestController(t, a, Options{})

	c.StartDiscovery()
	c.CancelDiscovery()
	n.Flush()

	if starts, _ := a.Counts(); starts != 0 {
		t.Errorf("StartDiscovery reached the adapter %d times, want 0", starts)
	}
	if devs := c.QueryPairedDevices(); len(devs) != 0 {
		t.Errorf("QueryPairedDevices() = %v, want empty", devs)
	}
	if got := col.kinds(); len(got) != 0 {
		t.Errorf("notifications = %v, want none", got)
	}
}

func TestNilAdapterIsNoOp(t *testing.T) {
	n := bt.NewNotifier()
	defer n.Close()
	c := New(nil, nil, n, Options{})
	c.StartDiscovery()
	c.CancelDiscovery()
	if c.Discovering() {
		t.Error("Discovering() should be false without an adapter")
	}
	if devs := c.QueryPairedDevices(); devs != nil {
		t.Errorf("QueryPairedDevices() = %v, want nil", devs)
	}
	c.Close()
}

func TestQueryPairedDevices(t *testing.T) {
	a := bttest.New(bt.AdapterEnabled,
		bt.Device{Address: "AA:BB:CC:DD:EE:02", Name: "HC-06"},
		bt.Device{Address: "AA:BB:CC:DD:EE:01", Name: "ESP32"},
	)
	c, _, _ := newTestController(t, a, Options{})

	devs := c.QueryPairedDevices()
	if len(devs) != 2 {
		t.Fatalf("got %d devices, want 2", len(devs))
	}
	if devs[0].Name != "ESP32" || devs[1].Name != "HC-06" {
		t.Errorf("devices = %v, want sorted by name", devs)
	}

	a.FailPaired(errors.New("org.bluez.Error.NotReady"))
	if devs := c.QueryPairedDevices(); devs != nil {
		t.Errorf("QueryPairedDevices() on failure = %v, want nil", devs)
	}
}

func TestCloseUnsubscribes(t *testing.T) {
	a := bttest.New(bt.AdapterEnabled)
	n := bt.NewNotifier()
	defer n.Close()
	c := New(a, nil, n, Options{})
	if a.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d, want 1", a.Subscribers())
	}
	c.Close()
	if a.Subscribers() != 0 {
		t.Errorf("Subscribers() after Close = %d, want 0", a.Subscribers())
	}
}
