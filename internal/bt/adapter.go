// Package bt holds the types shared by the discovery controller, the link
// state machine and the platform backends: peer devices, adapter status,
// link states, consumer notifications and the transport socket contract.
package bt

import (
	"io"
	"strings"
)

// ServiceUUID is the Serial Port Profile UUID. Both ends of the link must
// use the same identifier.
const ServiceUUID = "00001101-0000-1000-8000-00805F9B34FB"

// Device is a remote peer as observed by discovery or the paired-device query.
type Device struct {
	Address string // platform address, e.g. AA:BB:CC:DD:EE:FF
	Name    string // optional
}

// DisplayName returns the device name, or its address when unnamed.
func (d Device) DisplayName() string {
	if d.Name == "" {
		return d.Address
	}
	return d.Name
}

// Same reports whether d and o refer to the same peer.
func (d Device) Same(o Device) bool {
	return d.Address != "" && strings.EqualFold(d.Address, o.Address)
}

// AdapterStatus is the result of the adapter presence query.
type AdapterStatus int

const (
	AdapterAbsent AdapterStatus = iota
	AdapterDisabled
	AdapterEnabled
)

func (s AdapterStatus) String() string {
	switch s {
	case AdapterDisabled:
		return "disabled"
	case AdapterEnabled:
		return "enabled"
	default:
		return "absent"
	}
}

// Socket is a bidirectional byte stream bound to one peer and one service.
//
// Connect blocks until the link is up or fails. Close may be called from
// any goroutine at any time and unblocks a pending Connect or read on the
// input stream with an error.
type Socket interface {
	Connect() error
	InputStream() (io.ReadCloser, error)
	Close() error
}

// SocketFactory creates unconnected sockets.
type SocketFactory interface {
	CreateSocket(dev Device, serviceUUID string) (Socket, error)
}

// Discoverer runs peer scans and publishes DeviceFound, DiscoveryStarted and
// DiscoveryFinished events to its subscribers.
type Discoverer interface {
	StartDiscovery() error
	StopDiscovery() error
	Discovering() bool
	// Subscribe registers handler for platform events. Events from one
	// source are delivered in order on a single goroutine.
	Subscribe(handler func(Event)) (unsubscribe func())
}

// Adapter abstracts the local Bluetooth adapter for testing.
type Adapter interface {
	Discoverer
	// Status queries adapter presence and power.
	Status() AdapterStatus
	// Enable and Disable request a power change. Completion is reported
	// through an EventAdapterPowered event, if at all.
	Enable() error
	Disable() error
	// PairedDevices returns the bonded-device set.
	PairedDevices() ([]Device, error)
}
