package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/btlink/internal/bt"
	"github.com/chaz8081/btlink/internal/config"
	"github.com/chaz8081/btlink/internal/discovery"
	"github.com/chaz8081/btlink/internal/link"
	"github.com/chaz8081/btlink/internal/manager"
	"github.com/chaz8081/btlink/internal/sink"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/btlink/config.yaml)")
	initConfig := flag.Bool("init", false, "write the default config file and exit")
	scanOnly := flag.Bool("scan", false, "discover peers instead of connecting")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("init: %v", err)
		}
		if path == "" {
			log.Printf("Config already exists at %s", config.DefaultConfigPath())
		} else {
			log.Printf("Wrote default config to %s", path)
		}
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	printBanner(cfg)

	plat, err := openPlatform(cfg)
	if err != nil {
		log.Fatalf("Failed to open Bluetooth platform: %v", err)
	}

	out, err := sink.Open(cfg.Output.Path, cfg.Output.Format)
	if err != nil {
		plat.Close()
		log.Fatalf("Failed to open output: %v", err)
	}

	linkOpts := link.DefaultOptions()
	linkOpts.ServiceUUID = cfg.Transport.ServiceUUID
	linkOpts.ReadBufferSize = cfg.Session.ReadBuffer
	linkOpts.ReportQueue = cfg.Session.ReportQueue
	linkOpts.OnData = out.Deliver

	mgr := manager.New(plat.adapter, plat.factory, manager.Options{
		Link:      linkOpts,
		Discovery: discovery.Options{Duration: cfg.Discovery.Duration},
		Scanner:   plat.scanner,
		Reconnect: manager.ReconnectOptions{Max: cfg.Peer.ReconnectMax},
	})

	peer := cfg.Peer
	if *scanOnly {
		peer = config.PeerConfig{}
	}
	auto := newAutoConnect(mgr, peer)
	mgr.Subscribe(func(n bt.Notification) {
		logNotification(n)
		auto.handle(n)
	})

	// Signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	switch {
	case mgr.State() == bt.StateNoAdapter:
		log.Println("No Bluetooth adapter available; waiting. Ctrl+C to quit.")
	case mgr.State() == bt.StateAdapterOff:
		log.Println("Adapter is off, requesting power on...")
		mgr.EnableAdapter()
	default:
		auto.start()
	}

	sig := <-sigCh
	log.Printf("Received %s, shutting down...", sig)
	if err := mgr.Close(); err != nil {
		log.Printf("ERROR: manager close: %v", err)
	}
	if err := out.Close(); err != nil {
		log.Printf("ERROR: output close: %v", err)
	}
	plat.Close()
	log.Printf("Received %d bytes. Goodbye!", out.Total())
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults (run with -init to write one)")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	peer := cfg.Peer.Address
	if peer == "" {
		peer = cfg.Peer.Name
	}
	if peer == "" {
		peer = "(none)"
	}
	output := cfg.Output.Path
	if output == "" {
		output = "stdout"
	}
	fmt.Println("=== btlink ===")
	fmt.Printf("  Adapter:   %s\n", cfg.Adapter)
	fmt.Printf("  Transport: %s (%s)\n", cfg.Transport.Backend, cfg.Transport.ServiceUUID)
	fmt.Printf("  Discovery: %s, %s window\n", cfg.Discovery.Backend, cfg.Discovery.Duration)
	fmt.Printf("  Peer:      %s\n", peer)
	fmt.Printf("  Output:    %s (%s)\n", output, cfg.Output.Format)
	fmt.Printf("  Log:       %s\n", cfg.LogLevel)
	fmt.Println("==============")
}

func printPaired(devs []bt.Device) {
	if len(devs) == 0 {
		log.Println("No paired devices")
		return
	}
	log.Printf("Paired devices (%d):", len(devs))
	for _, d := range devs {
		log.Printf("  %s  %s", d.Address, d.Name)
	}
}

func logNotification(n bt.Notification) {
	switch n.Kind {
	case bt.KindScanResult:
		log.Printf("Found %s  %s", n.Device.Address, n.Device.Name)
	case bt.KindDiscoveryStarted:
		log.Println("Discovery started")
	case bt.KindDiscoveryFinished:
		log.Println("Discovery finished")
	case bt.KindConnecting:
		log.Printf("Connecting to %s...", n.Device.DisplayName())
	case bt.KindConnected:
		log.Printf("Connected to %s", n.Device.DisplayName())
	case bt.KindConnectFailed:
		log.Printf("Connection to %s failed", n.Device.DisplayName())
	case bt.KindDisconnected:
		if n.Device.Address != "" {
			log.Printf("Disconnected from %s (%s)", n.Device.DisplayName(), n.State)
		} else {
			log.Printf("Link state: %s", n.State)
		}
	}
}
