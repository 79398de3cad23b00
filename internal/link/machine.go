// Package link implements the connection lifecycle: a single state machine
// that owns the link state, the connected peer and at most one connect
// worker and one session reader worker.
//
// Workers run on their own goroutines because connect and read block. They
// never touch machine state; they send one terminal report over a bounded
// channel, and the machine applies reports one at a time under the same lock
// that guards Connect and Disconnect. Every worker is tagged with the epoch
// of the Connect that spawned it and reports from older epochs are dropped.
package link

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/btlink/internal/bt"
)

// DiscoveryCanceller is the part of the discovery controller the machine
// needs: a scan is stopped before every connect attempt.
type DiscoveryCanceller interface {
	CancelDiscovery()
}

// Options configures the machine.
type Options struct {
	ServiceUUID    string
	ReadBufferSize int // bytes per read call
	ReportQueue    int // capacity of the worker report channel
	OnData         bt.DataHandler
	Discovery      DiscoveryCanceller
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		ServiceUUID:    bt.ServiceUUID,
		ReadBufferSize: 1024,
		ReportQueue:    16,
	}
}

type reportKind int

const (
	reportConnected reportKind = iota
	reportConnectFailed
	reportSessionEnded
)

func (k reportKind) String() string {
	return [...]string{"connected", "connect-failed", "session-ended"}[k]
}

// report is the single terminal message a worker sends.
type report struct {
	kind  reportKind
	epoch uint64
	sock  bt.Socket // reportConnected only; ownership moves to the machine
	err   error
}

// ErrClosed is returned by operations on a closed machine.
var ErrClosed = errors.New("link: machine closed")

// Machine is the link state machine. Safe for concurrent use.
type Machine struct {
	factory   bt.SocketFactory
	notifier  *bt.Notifier
	discovery DiscoveryCanceller
	onData    bt.DataHandler
	opts      Options

	mu        sync.Mutex
	state     bt.State
	peer      bt.Device
	hasPeer   bool
	epoch     uint64
	connector *connectWorker
	session   *sessionWorker
	closed    bool

	reports  chan report
	stop     chan struct{}
	loopDone chan struct{}
}

// New creates a machine whose initial state is derived from status.
// Notifications are published on notifier; the caller owns and closes it.
func New(status bt.AdapterStatus, factory bt.SocketFactory, notifier *bt.Notifier, opts Options) *Machine {
	def := DefaultOptions()
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = def.ServiceUUID
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = def.ReadBufferSize
	}
	if opts.ReportQueue <= 0 {
		opts.ReportQueue = def.ReportQueue
	}
	m := &Machine{
		factory:   factory,
		notifier:  notifier,
		discovery: opts.Discovery,
		onData:    opts.OnData,
		opts:      opts,
		state:     bt.InitialState(status),
		reports:   make(chan report, opts.ReportQueue),
		stop:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
	go m.loop()
	slog.Debug("[LINK] state machine started", "state", m.state)
	return m
}

// State returns the current link state.
func (m *Machine) State() bt.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Peer returns the pending or connected peer.
func (m *Machine) Peer() (bt.Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peer, m.hasPeer
}

// Connect cancels discovery and any existing attempt or session, then starts
// a connect attempt to dev. It returns without waiting for the outcome.
func (m *Machine) Connect(dev bt.Device) error {
	if dev.Address == "" {
		return errors.New("link: device address required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if !m.adapterReadyLocked() {
		return fmt.Errorf("link: connect %s: %w", dev.Address, bt.ErrAdapterUnavailable)
	}

	if m.discovery != nil {
		m.discovery.CancelDiscovery()
	}

	// Tear the current session down first so the consumer sees it end
	// before the new attempt begins.
	if m.session != nil {
		prev := m.peer
		m.session.cancel()
		m.session = nil
		m.state = bt.StateDisconnected
		m.clearPeerLocked()
		m.publishLocked(bt.KindDisconnected, prev)
	}
	if m.connector != nil {
		m.connector.cancel()
		m.connector = nil
	}

	m.epoch++
	m.state = bt.StateConnecting
	m.peer = dev
	m.hasPeer = true
	m.publishLocked(bt.KindConnecting, dev)
	m.connector = startConnect(m, m.epoch, dev)
	slog.Info("[LINK] connect requested", "device", dev.Address, "name", dev.Name, "epoch", m.epoch)
	return nil
}

// Disconnect cancels any attempt or session and moves to Disconnected.
// It is a no-op while the adapter is absent or off.
func (m *Machine) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || !m.adapterReadyLocked() {
		return
	}
	hadWorkers := m.cancelWorkersLocked()
	if m.state == bt.StateDisconnected && !hadWorkers {
		return
	}
	prev := m.peer
	m.state = bt.StateDisconnected
	m.clearPeerLocked()
	m.publishLocked(bt.KindDisconnected, prev)
	slog.Info("[LINK] disconnected on request", "device", prev.Address)
}

// HandleEvent applies a platform link or adapter-power event. Discovery
// events are ignored.
func (m *Machine) HandleEvent(ev bt.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	switch ev.Type {
	case bt.EventLinkConnected:
		if m.state == bt.StateConnected && m.peer.Same(ev.Device) {
			m.publishLocked(bt.KindConnected, m.peer)
		}

	case bt.EventLinkDisconnected:
		if (m.state != bt.StateConnected && m.state != bt.StateConnecting) || !m.peer.Same(ev.Device) {
			return
		}
		m.cancelWorkersLocked()
		prev := m.peer
		m.state = bt.StateDisconnected
		m.clearPeerLocked()
		m.publishLocked(bt.KindDisconnected, prev)
		slog.Info("[LINK] platform reported link down", "device", prev.Address)

	case bt.EventAdapterPowered:
		switch {
		case ev.Powered && m.state == bt.StateAdapterOff:
			m.state = bt.StateDisconnected
			m.publishLocked(bt.KindDisconnected, bt.Device{})
		case !ev.Powered && m.adapterReadyLocked():
			m.cancelWorkersLocked()
			prev := m.peer
			m.state = bt.StateAdapterOff
			m.clearPeerLocked()
			m.publishLocked(bt.KindDisconnected, prev)
		}
		slog.Info("[LINK] adapter power changed", "powered", ev.Powered, "state", m.state)
	}
}

// Close cancels all workers and stops the report loop. It waits for the
// worker goroutines to unwind. Safe to call multiple times.
func (m *Machine) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var waits []chan struct{}
	if m.connector != nil {
		waits = append(waits, m.connector.done)
	}
	if m.session != nil {
		waits = append(waits, m.session.done)
	}
	m.cancelWorkersLocked()
	close(m.stop)
	m.mu.Unlock()

	<-m.loopDone
	for _, done := range waits {
		<-done
	}
	return nil
}

// report hands a worker's terminal report to the machine. If the machine
// is closed the report is dropped and any socket it carries is closed.
func (m *Machine) report(r report) {
	select {
	case m.reports <- r:
	case <-m.stop:
		if r.sock != nil {
			_ = r.sock.Close()
		}
	}
}

func (m *Machine) loop() {
	defer close(m.loopDone)
	for {
		select {
		case r := <-m.reports:
			m.apply(r)
		case <-m.stop:
			for {
				select {
				case r := <-m.reports:
					if r.sock != nil {
						_ = r.sock.Close()
					}
				default:
					return
				}
			}
		}
	}
}

func (m *Machine) apply(r report) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch r.kind {
	case reportConnected:
		if m.closed || m.connector == nil || m.connector.epoch != r.epoch || r.epoch != m.epoch {
			slog.Debug("[LINK] dropping stale report", "kind", r.kind, "epoch", r.epoch, "current", m.epoch)
			_ = r.sock.Close()
			return
		}
		m.connector = nil
		m.session = startSession(m, r.epoch, m.peer, r.sock)
		m.state = bt.StateConnected
		m.publishLocked(bt.KindConnected, m.peer)
		slog.Info("[LINK] connected", "device", m.peer.Address)

	case reportConnectFailed:
		if m.connector == nil || m.connector.epoch != r.epoch || r.epoch != m.epoch {
			slog.Debug("[LINK] dropping stale report", "kind", r.kind, "epoch", r.epoch, "current", m.epoch)
			return
		}
		m.connector = nil
		prev := m.peer
		m.state = bt.StateDisconnected
		m.clearPeerLocked()
		m.publishLocked(bt.KindConnectFailed, prev)
		slog.Info("[LINK] connect failed", "device", prev.Address, "error", r.err)

	case reportSessionEnded:
		if m.session == nil || m.session.epoch != r.epoch {
			slog.Debug("[LINK] dropping stale report", "kind", r.kind, "epoch", r.epoch, "current", m.epoch)
			return
		}
		m.session = nil
		prev := m.peer
		m.state = bt.StateDisconnected
		m.clearPeerLocked()
		m.publishLocked(bt.KindDisconnected, prev)
	}
}

// cancelWorkersLocked cancels and discards both workers and retires the
// current epoch. It reports whether any worker was live.
func (m *Machine) cancelWorkersLocked() bool {
	live := false
	if m.connector != nil {
		m.connector.cancel()
		m.connector = nil
		live = true
	}
	if m.session != nil {
		m.session.cancel()
		m.session = nil
		live = true
	}
	m.epoch++
	return live
}

func (m *Machine) clearPeerLocked() {
	m.peer = bt.Device{}
	m.hasPeer = false
}

func (m *Machine) adapterReadyLocked() bool {
	return m.state != bt.StateNoAdapter && m.state != bt.StateAdapterOff
}

func (m *Machine) publishLocked(kind bt.Kind, dev bt.Device) {
	if m.notifier == nil {
		return
	}
	m.notifier.Publish(bt.Notification{Kind: kind, State: m.state, Device: dev})
}
