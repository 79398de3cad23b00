//go:build !linux

package main

import (
	"github.com/chaz8081/btlink/internal/bt"
	"github.com/chaz8081/btlink/internal/bt/lescan"
)

// openScanner only offers LE scans off Linux.
func openScanner(_ string, _ bool) (bt.Adapter, bt.Discoverer, func(), error) {
	return nil, lescan.New(), func() {}, nil
}
