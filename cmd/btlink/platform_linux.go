//go:build linux

package main

import (
	"log"

	"github.com/chaz8081/btlink/internal/bt"
	"github.com/chaz8081/btlink/internal/bt/bluez"
	"github.com/chaz8081/btlink/internal/bt/lescan"
	"github.com/chaz8081/btlink/internal/bt/rfcomm"
	"github.com/chaz8081/btlink/internal/config"
)

// platform bundles the backends selected by the config.
type platform struct {
	adapter bt.Adapter
	factory bt.SocketFactory
	scanner bt.Discoverer
	closers []func() error
}

// openPlatform opens BlueZ on the configured adapter. A missing system bus
// is not fatal: the manager then runs without an adapter.
func openPlatform(cfg *config.Config) (*platform, error) {
	p := &platform{}

	a, err := bluez.Open(cfg.Adapter)
	if err != nil {
		log.Printf("WARNING: BlueZ unavailable: %v", err)
	} else {
		p.adapter = a
		p.closers = append(p.closers, a.Close)
	}

	switch cfg.Transport.Backend {
	case "rfcomm":
		p.factory = rfcomm.New(cfg.Transport.Channel)
	default:
		if a != nil {
			f := bluez.NewProfileFactory(a)
			p.factory = f
			// Unregister profiles before the bus goes away.
			p.closers = append([]func() error{f.Close}, p.closers...)
		} else {
			p.factory = rfcomm.New(cfg.Transport.Channel)
		}
	}

	switch cfg.Discovery.Backend {
	case "le":
		p.scanner = lescan.New()
	default:
		if a != nil {
			if err := a.SetDiscoveryFilter("bredr"); err != nil {
				log.Printf("WARNING: %v", err)
			}
		}
	}
	return p, nil
}

// Close releases the backends in order.
func (p *platform) Close() {
	for _, c := range p.closers {
		if err := c(); err != nil {
			log.Printf("ERROR: platform close: %v", err)
		}
	}
}
