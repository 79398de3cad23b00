// Package manager is the embedding surface for host applications. It wires
// one adapter, one discovery controller and one link state machine to a
// single notification stream.
package manager

import (
	"log/slog"

	"github.com/chaz8081/btlink/internal/bt"
	"github.com/chaz8081/btlink/internal/discovery"
	"github.com/chaz8081/btlink/internal/link"
)

// Options configures the manager.
type Options struct {
	Link      link.Options
	Discovery discovery.Options
	// Scanner overrides the adapter's own discovery, e.g. with an LE scanner.
	Scanner bt.Discoverer
	// Reconnect retries the requested peer after failures. Off when Max is 0.
	Reconnect ReconnectOptions
}

// Manager discovers peers and manages the single stream link.
type Manager struct {
	adapter   bt.Adapter
	notifier  *bt.Notifier
	discovery *discovery.Controller
	link      *link.Machine
	reconnect *reconnector
	unsub     func()
}

// New builds a manager. A nil adapter behaves as an absent one: the link
// starts and stays in NoAdapter and every operation is a no-op.
func New(adapter bt.Adapter, factory bt.SocketFactory, opts Options) *Manager {
	status := bt.AdapterAbsent
	if adapter != nil {
		status = adapter.Status()
	}

	n := bt.NewNotifier()
	disc := discovery.New(adapter, opts.Scanner, n, opts.Discovery)
	opts.Link.Discovery = disc
	m := &Manager{
		adapter:   adapter,
		notifier:  n,
		discovery: disc,
		link:      link.New(status, factory, n, opts.Link),
	}
	if opts.Reconnect.Max > 0 {
		m.reconnect = newReconnector(m.link.Connect, opts.Reconnect)
		n.Subscribe(m.reconnect.handle)
	}
	if adapter != nil {
		m.unsub = adapter.Subscribe(m.handlePlatformEvent)
	}
	slog.Info("[MANAGER] ready", "adapter", status, "state", m.link.State())
	return m
}

// Subscribe registers handler for every notification. Handlers run on a
// single dispatcher goroutine in publish order and may call back into the
// manager.
func (m *Manager) Subscribe(handler func(bt.Notification)) (unsubscribe func()) {
	return m.notifier.Subscribe(handler)
}

// State returns the current link state.
func (m *Manager) State() bt.State { return m.link.State() }

// Peer returns the pending or connected peer.
func (m *Manager) Peer() (bt.Device, bool) { return m.link.Peer() }

// StartDiscovery starts a new scan, cancelling a running one.
func (m *Manager) StartDiscovery() { m.discovery.StartDiscovery() }

// CancelDiscovery stops a running scan.
func (m *Manager) CancelDiscovery() { m.discovery.CancelDiscovery() }

// Discovering reports whether a scan is running.
func (m *Manager) Discovering() bool { return m.discovery.Discovering() }

// QueryPairedDevices returns the bonded devices.
func (m *Manager) QueryPairedDevices() []bt.Device { return m.discovery.QueryPairedDevices() }

// Connect starts a connect attempt to dev, superseding any current one.
// With reconnection enabled dev becomes the peer to keep connected, even
// when the adapter is not ready yet.
func (m *Manager) Connect(dev bt.Device) error {
	if m.reconnect != nil && dev.Address != "" {
		m.reconnect.want(dev)
	}
	return m.link.Connect(dev)
}

// Disconnect tears down the current attempt or session and stops any
// reconnection.
func (m *Manager) Disconnect() {
	if m.reconnect != nil {
		m.reconnect.forget()
	}
	m.link.Disconnect()
}

// EnableAdapter requests the adapter be powered on. Fire-and-forget.
func (m *Manager) EnableAdapter() { m.setPower(true) }

// DisableAdapter requests the adapter be powered off. Fire-and-forget.
func (m *Manager) DisableAdapter() { m.setPower(false) }

func (m *Manager) setPower(on bool) {
	if m.adapter == nil {
		return
	}
	var err error
	if on {
		err = m.adapter.Enable()
	} else {
		err = m.adapter.Disable()
	}
	if err != nil {
		slog.Warn("[MANAGER] adapter power request failed", "on", on, "error", err)
		return
	}
	// Re-query: some platforms do not signal power changes they initiated.
	switch m.adapter.Status() {
	case bt.AdapterEnabled:
		m.link.HandleEvent(bt.Event{Type: bt.EventAdapterPowered, Powered: true})
	case bt.AdapterDisabled:
		m.link.HandleEvent(bt.Event{Type: bt.EventAdapterPowered, Powered: false})
	}
}

// Close tears everything down. Notifications already queued are delivered
// before Close returns.
func (m *Manager) Close() error {
	if m.reconnect != nil {
		m.reconnect.close()
	}
	if m.unsub != nil {
		m.unsub()
	}
	m.discovery.Close()
	err := m.link.Close()
	m.notifier.Close()
	return err
}

func (m *Manager) handlePlatformEvent(ev bt.Event) {
	switch ev.Type {
	case bt.EventLinkConnected, bt.EventLinkDisconnected, bt.EventAdapterPowered:
		m.link.HandleEvent(ev)
	}
}
