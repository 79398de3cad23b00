// Command test-scan is a manual test for peer discovery. It runs one scan
// window and prints every device found, then the bonded devices.
// Press Ctrl+C to stop early.
//
// Usage:
//
//	go run ./cmd/test-scan [--adapter hci0] [--le] [--duration 12s]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/btlink/internal/bt"
	"github.com/chaz8081/btlink/internal/discovery"
)

func main() {
	adapterName := flag.String("adapter", "hci0", "BlueZ adapter name")
	le := flag.Bool("le", false, "use an LE scan instead of classic inquiry")
	duration := flag.Duration("duration", discovery.DefaultDuration, "scan window")
	flag.Parse()

	adapter, scanner, closeFn, err := openScanner(*adapterName, *le)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer closeFn()

	n := bt.NewNotifier()
	defer n.Close()
	finished := make(chan struct{}, 1)
	n.Subscribe(func(nt bt.Notification) {
		switch nt.Kind {
		case bt.KindDiscoveryStarted:
			fmt.Println(">>> discovery started")
		case bt.KindScanResult:
			fmt.Printf("    %s  %s\n", nt.Device.Address, nt.Device.Name)
		case bt.KindDiscoveryFinished:
			fmt.Println("<<< discovery finished")
			select {
			case finished <- struct{}{}:
			default:
			}
		}
	})

	ctrl := discovery.New(adapter, scanner, n, discovery.Options{Duration: *duration})
	defer ctrl.Close()

	// Handle Ctrl+C
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	fmt.Printf("Scanning for %s...\n", *duration)
	ctrl.StartDiscovery()

	select {
	case <-finished:
	case <-sig:
		fmt.Println("\nStopping scan...")
		ctrl.CancelDiscovery()
	case <-time.After(*duration + 5*time.Second):
		fmt.Println("No discovery-finished event; giving up.")
	}

	devs := ctrl.QueryPairedDevices()
	fmt.Printf("Paired devices (%d):\n", len(devs))
	for _, d := range devs {
		fmt.Printf("    %s  %s\n", d.Address, d.Name)
	}
	fmt.Println("Done.")
}
