//go:build !linux

package main

import (
	"log"

	"github.com/chaz8081/btlink/internal/bt"
	"github.com/chaz8081/btlink/internal/bt/lescan"
	"github.com/chaz8081/btlink/internal/bt/rfcomm"
	"github.com/chaz8081/btlink/internal/config"
)

// platform bundles the backends selected by the config.
type platform struct {
	adapter bt.Adapter
	factory bt.SocketFactory
	scanner bt.Discoverer
}

// openPlatform has no classic adapter off Linux. LE discovery still works
// through tinygo bluetooth; stream links do not.
func openPlatform(cfg *config.Config) (*platform, error) {
	log.Println("WARNING: RFCOMM stream links require Linux/BlueZ; running without an adapter")
	p := &platform{factory: rfcomm.New(cfg.Transport.Channel)}
	if cfg.Discovery.Backend == "le" {
		p.scanner = lescan.New()
	}
	return p, nil
}

func (p *platform) Close() {}
