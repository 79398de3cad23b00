// Package bttest provides an in-memory Bluetooth adapter for host-side
// testing of the discovery controller and the manager.
package bttest

import (
	"errors"
	"sync"

	"github.com/chaz8081/btlink/internal/bt"
)

// Adapter implements bt.Adapter. Discovery events are delivered
// synchronously to subscribers, on the calling goroutine.
type Adapter struct {
	mu          sync.Mutex
	status      bt.AdapterStatus
	paired      []bt.Device
	pairedErr   error
	discovering bool
	starts      int
	stops       int
	events      bt.Handlers
}

// New returns an adapter in the given state with the given bonded devices.
func New(status bt.AdapterStatus, paired ...bt.Device) *Adapter {
	return &Adapter{status: status, paired: paired}
}

func (a *Adapter) Status() bt.AdapterStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Enable powers the adapter on and emits EventAdapterPowered.
func (a *Adapter) Enable() error { return a.setPowered(true) }

// Disable powers the adapter off and emits EventAdapterPowered.
func (a *Adapter) Disable() error { return a.setPowered(false) }

func (a *Adapter) setPowered(on bool) error {
	a.mu.Lock()
	if a.status == bt.AdapterAbsent {
		a.mu.Unlock()
		return bt.ErrAdapterUnavailable
	}
	if on {
		a.status = bt.AdapterEnabled
	} else {
		a.status = bt.AdapterDisabled
		a.discovering = false
	}
	a.mu.Unlock()
	a.Emit(bt.Event{Type: bt.EventAdapterPowered, Powered: on})
	return nil
}

func (a *Adapter) PairedDevices() ([]bt.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pairedErr != nil {
		return nil, a.pairedErr
	}
	out := make([]bt.Device, len(a.paired))
	copy(out, a.paired)
	return out, nil
}

// FailPaired makes PairedDevices return err.
func (a *Adapter) FailPaired(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pairedErr = err
}

// StartDiscovery marks the adapter as scanning and emits DiscoveryStarted.
func (a *Adapter) StartDiscovery() error {
	a.mu.Lock()
	if a.status != bt.AdapterEnabled {
		a.mu.Unlock()
		return errors.New("bttest: adapter not powered")
	}
	a.discovering = true
	a.starts++
	a.mu.Unlock()
	a.Emit(bt.Event{Type: bt.EventDiscoveryStarted})
	return nil
}

// StopDiscovery ends the scan and emits DiscoveryFinished.
func (a *Adapter) StopDiscovery() error {
	a.mu.Lock()
	if !a.discovering {
		a.mu.Unlock()
		return errors.New("bttest: not discovering")
	}
	a.discovering = false
	a.stops++
	a.mu.Unlock()
	a.Emit(bt.Event{Type: bt.EventDiscoveryFinished})
	return nil
}

func (a *Adapter) Discovering() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.discovering
}

// Counts returns how many scans were started and stopped.
func (a *Adapter) Counts() (starts, stops int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.starts, a.stops
}

func (a *Adapter) Subscribe(handler func(bt.Event)) func() {
	return a.events.Subscribe(handler)
}

// Subscribers returns the number of registered handlers.
func (a *Adapter) Subscribers() int { return a.events.Len() }

// Found simulates an inquiry result.
func (a *Adapter) Found(dev bt.Device) {
	a.Emit(bt.Event{Type: bt.EventDeviceFound, Device: dev})
}

// Emit delivers ev to every subscriber.
func (a *Adapter) Emit(ev bt.Event) { a.events.Emit(ev) }

var _ bt.Adapter = (*Adapter)(nil)
