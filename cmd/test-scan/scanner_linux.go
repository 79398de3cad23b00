//go:build linux

package main

import (
	"github.com/chaz8081/btlink/internal/bt"
	"github.com/chaz8081/btlink/internal/bt/bluez"
	"github.com/chaz8081/btlink/internal/bt/lescan"
)

func openScanner(adapterName string, le bool) (bt.Adapter, bt.Discoverer, func(), error) {
	a, err := bluez.Open(adapterName)
	if err != nil {
		return nil, nil, nil, err
	}
	closeFn := func() { a.Close() }
	if le {
		return a, lescan.New(), closeFn, nil
	}
	if err := a.SetDiscoveryFilter("bredr"); err != nil {
		a.Close()
		return nil, nil, nil, err
	}
	return a, nil, closeFn, nil
}
