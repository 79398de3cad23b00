package main

import (
	"log"
	"strings"
	"sync"

	"github.com/chaz8081/btlink/internal/bt"
	"github.com/chaz8081/btlink/internal/config"
)

// linkController is the part of the manager auto-connect drives.
type linkController interface {
	Connect(dev bt.Device) error
	StartDiscovery()
	QueryPairedDevices() []bt.Device
}

// autoConnect makes one connection attempt to the configured peer: by
// address directly, or by name among paired devices, falling back to
// discovery until a scan result with that name shows up.
type autoConnect struct {
	mgr  linkController
	peer config.PeerConfig

	mu        sync.Mutex
	attempted bool
}

func newAutoConnect(mgr linkController, peer config.PeerConfig) *autoConnect {
	return &autoConnect{mgr: mgr, peer: peer}
}

// start attempts the connection now. With no peer configured it lists
// paired devices and scans instead.
func (a *autoConnect) start() {
	if a.peer.Address == "" && a.peer.Name == "" {
		printPaired(a.mgr.QueryPairedDevices())
		a.mgr.StartDiscovery()
		return
	}
	if a.peer.Address != "" {
		a.connect(bt.Device{Address: a.peer.Address, Name: a.peer.Name})
		return
	}
	if dev, ok := matchName(a.mgr.QueryPairedDevices(), a.peer.Name); ok {
		a.connect(dev)
		return
	}
	log.Printf("%q is not paired, scanning for it...", a.peer.Name)
	a.mgr.StartDiscovery()
}

// handle reacts to notifications: a scan result naming the peer triggers
// the connect, and the adapter coming up triggers start.
func (a *autoConnect) handle(n bt.Notification) {
	switch n.Kind {
	case bt.KindScanResult:
		if a.peer.Address != "" || a.peer.Name == "" {
			return
		}
		if _, ok := matchName([]bt.Device{n.Device}, a.peer.Name); ok {
			a.connect(n.Device)
		}
	case bt.KindDisconnected:
		if n.State == bt.StateDisconnected && n.Device.Address == "" && !a.done() {
			a.start()
		}
	}
}

func (a *autoConnect) connect(dev bt.Device) {
	a.mu.Lock()
	if a.attempted {
		a.mu.Unlock()
		return
	}
	a.attempted = true
	a.mu.Unlock()
	if err := a.mgr.Connect(dev); err != nil {
		log.Printf("ERROR: connect to %s: %v", dev.DisplayName(), err)
	}
}

func (a *autoConnect) done() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attempted
}

// matchName returns the first device whose name equals name, ignoring case.
func matchName(devs []bt.Device, name string) (bt.Device, bool) {
	for _, d := range devs {
		if d.Name != "" && strings.EqualFold(d.Name, name) {
			return d, true
		}
	}
	return bt.Device{}, false
}
