// Package discovery orchestrates peer scans and the paired-device query and
// republishes scan events as consumer notifications.
package discovery

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/chaz8081/btlink/internal/bt"
)

// DefaultDuration matches the length of a classic inquiry.
const DefaultDuration = 12 * time.Second

// Options configures the controller.
type Options struct {
	// Duration bounds each scan. Platform scans run until stopped, so the
	// controller stops them after this long. Zero means DefaultDuration;
	// negative disables the window.
	Duration time.Duration
}

// Controller starts and stops scans. Safe for concurrent use.
//
// With a nil adapter, or one that reports AdapterAbsent, every operation
// is a no-op.
type Controller struct {
	adapter  bt.Adapter
	scanner  bt.Discoverer
	notifier *bt.Notifier
	window   time.Duration

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
	unsub func()
}

// New creates a controller. scanner runs the scans; when nil the adapter's
// own discovery is used. Scan events are published on notifier.
func New(adapter bt.Adapter, scanner bt.Discoverer, notifier *bt.Notifier, opts Options) *Controller {
	if scanner == nil && adapter != nil {
		scanner = adapter
	}
	window := opts.Duration
	if window == 0 {
		window = DefaultDuration
	}
	c := &Controller{
		adapter:  adapter,
		scanner:  scanner,
		notifier: notifier,
		window:   window,
	}
	if scanner != nil {
		c.unsub = scanner.Subscribe(c.forward)
	}
	return c
}

// StartDiscovery cancels a running scan, then starts a new one.
// DiscoveryStarted, ScanResult and DiscoveryFinished notifications follow
// asynchronously.
func (c *Controller) StartDiscovery() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.availableLocked() {
		return
	}

	if c.scanner.Discovering() {
		c.stopLocked()
	}
	if err := c.scanner.StartDiscovery(); err != nil {
		slog.Warn("[DISCOVERY] start failed", "error", err)
		return
	}
	slog.Info("[DISCOVERY] scan started", "window", c.window)

	if c.window > 0 {
		c.gen++
		gen := c.gen
		c.timer = time.AfterFunc(c.window, func() { c.expire(gen) })
	}
}

// CancelDiscovery stops a running scan. No-op when not scanning. A
// DiscoveryFinished notification may or may not follow.
func (c *Controller) CancelDiscovery() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.availableLocked() {
		return
	}
	c.stopTimerLocked()
	if !c.scanner.Discovering() {
		return
	}
	c.stopLocked()
}

// Discovering reports whether a scan is running.
func (c *Controller) Discovering() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.availableLocked() && c.scanner.Discovering()
}

// QueryPairedDevices returns the bonded devices sorted by display name.
// It returns nil when the adapter is unavailable or the query fails.
func (c *Controller) QueryPairedDevices() []bt.Device {
	if c.adapter == nil || c.adapter.Status() == bt.AdapterAbsent {
		return nil
	}
	devs, err := c.adapter.PairedDevices()
	if err != nil {
		slog.Warn("[DISCOVERY] paired device query failed", "error", err)
		return nil
	}
	sort.Slice(devs, func(i, j int) bool {
		return devs[i].DisplayName() < devs[j].DisplayName()
	})
	return devs
}

// Close stops any scan and drops the platform subscription.
func (c *Controller) Close() {
	c.CancelDiscovery()
	c.mu.Lock()
	unsub := c.unsub
	c.unsub = nil
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (c *Controller) expire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.timer == nil {
		return
	}
	c.timer = nil
	if c.scanner.Discovering() {
		slog.Debug("[DISCOVERY] scan window elapsed")
		c.stopLocked()
	}
}

func (c *Controller) stopLocked() {
	c.stopTimerLocked()
	if err := c.scanner.StopDiscovery(); err != nil {
		slog.Warn("[DISCOVERY] stop failed", "error", err)
	}
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}

func (c *Controller) availableLocked() bool {
	if c.scanner == nil {
		return false
	}
	return c.adapter == nil || c.adapter.Status() != bt.AdapterAbsent
}

// forward republishes scan events verbatim. It runs on the platform's
// event goroutine and never takes c.mu.
func (c *Controller) forward(ev bt.Event) {
	var kind bt.Kind
	switch ev.Type {
	case bt.EventDeviceFound:
		kind = bt.KindScanResult
	case bt.EventDiscoveryStarted:
		kind = bt.KindDiscoveryStarted
	case bt.EventDiscoveryFinished:
		kind = bt.KindDiscoveryFinished
	default:
		return
	}
	if ev.Type == bt.EventDeviceFound {
		slog.Debug("[DISCOVERY] device found", "address", ev.Device.Address, "name", ev.Device.Name)
	}
	c.notifier.Publish(bt.Notification{Kind: kind, Device: ev.Device})
}
