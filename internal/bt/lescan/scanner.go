// Package lescan discovers peers with a Bluetooth LE scan through
// tinygo.org/x/bluetooth. It only implements bt.Discoverer; power control,
// bonded devices and stream sockets come from another backend.
package lescan

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/btlink/internal/bt"
)

// stopRetry is how often StopDiscovery re-issues StopScan while the scan
// goroutine has not yet registered with the platform.
const stopRetry = 50 * time.Millisecond

// Scanner runs LE scans on the default adapter.
type Scanner struct {
	adapter *bluetooth.Adapter
	events  bt.Handlers

	mu       sync.Mutex
	enabled  bool
	scanning bool
	done     chan struct{}
}

// New creates a scanner on bluetooth.DefaultAdapter. The adapter is enabled
// lazily on the first scan.
func New() *Scanner {
	return &Scanner{adapter: bluetooth.DefaultAdapter}
}

// StartDiscovery begins a scan that runs until StopDiscovery.
func (s *Scanner) StartDiscovery() error {
	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		return errors.New("lescan: scan already running")
	}
	if !s.enabled {
		if err := s.adapter.Enable(); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("lescan: enable adapter: %w", err)
		}
		s.enabled = true
	}
	s.scanning = true
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	slog.Info("[LESCAN] scan started")
	s.events.Emit(bt.Event{Type: bt.EventDiscoveryStarted})
	go s.run(done)
	return nil
}

func (s *Scanner) run(done chan struct{}) {
	var seen dedupe
	err := s.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		dev := bt.Device{Address: result.Address.String(), Name: result.LocalName()}
		if !seen.add(dev) {
			return
		}
		slog.Debug("[LESCAN] advertisement", "address", dev.Address, "name", dev.Name, "rssi", result.RSSI)
		s.events.Emit(bt.Event{Type: bt.EventDeviceFound, Device: dev})
	})
	if err != nil {
		slog.Warn("[LESCAN] scan ended with error", "error", err)
	}

	s.mu.Lock()
	s.scanning = false
	s.mu.Unlock()
	slog.Info("[LESCAN] scan finished", "devices", seen.len())
	s.events.Emit(bt.Event{Type: bt.EventDiscoveryFinished})
	close(done)
}

// StopDiscovery stops the running scan and waits for DiscoveryFinished to
// be emitted.
func (s *Scanner) StopDiscovery() error {
	s.mu.Lock()
	if !s.scanning {
		s.mu.Unlock()
		return errors.New("lescan: not scanning")
	}
	done := s.done
	s.mu.Unlock()

	ticker := time.NewTicker(stopRetry)
	defer ticker.Stop()
	for {
		// Fails until Scan has registered; retried below.
		_ = s.adapter.StopScan()
		select {
		case <-done:
			return nil
		case <-ticker.C:
		}
	}
}

// Discovering reports whether a scan is running.
func (s *Scanner) Discovering() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning
}

// Subscribe registers handler for scan events. DeviceFound events arrive on
// the platform's scan goroutine.
func (s *Scanner) Subscribe(handler func(bt.Event)) func() {
	return s.events.Subscribe(handler)
}

// dedupe tracks the advertisers seen during one scan. A device is reported
// once, and again if its name becomes known after an unnamed advertisement.
type dedupe struct {
	named map[string]bool
}

func (d *dedupe) add(dev bt.Device) bool {
	if dev.Address == "" {
		return false
	}
	if d.named == nil {
		d.named = make(map[string]bool)
	}
	key := strings.ToUpper(dev.Address)
	named, ok := d.named[key]
	if ok && (named || dev.Name == "") {
		return false
	}
	d.named[key] = dev.Name != ""
	return true
}

func (d *dedupe) len() int { return len(d.named) }

var _ bt.Discoverer = (*Scanner)(nil)
