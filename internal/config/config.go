package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/btlink/internal/bt"
)

// Config holds all application configuration.
type Config struct {
	Adapter   string          `yaml:"adapter"` // BlueZ adapter name, e.g. hci0
	Transport TransportConfig `yaml:"transport"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Session   SessionConfig   `yaml:"session"`
	Peer      PeerConfig      `yaml:"peer"`
	Output    OutputConfig    `yaml:"output"`
	LogLevel  string          `yaml:"log_level"`
}

// TransportConfig selects how stream sockets are opened.
type TransportConfig struct {
	Backend     string `yaml:"backend"`      // "bluez" (profile connect) or "rfcomm" (raw socket)
	Channel     uint8  `yaml:"channel"`      // RFCOMM channel, rfcomm backend only
	ServiceUUID string `yaml:"service_uuid"` // SPP by default
}

// DiscoveryConfig selects the scan backend and window.
type DiscoveryConfig struct {
	Backend  string        `yaml:"backend"`  // "bluez" (classic + LE) or "le"
	Duration time.Duration `yaml:"duration"` // scan window
}

// SessionConfig tunes the connected session.
type SessionConfig struct {
	ReadBuffer  int `yaml:"read_buffer"`
	ReportQueue int `yaml:"report_queue"`
}

// PeerConfig names the peer to connect to at startup. Address wins over Name.
type PeerConfig struct {
	Address      string        `yaml:"address"`
	Name         string        `yaml:"name"`
	ReconnectMax time.Duration `yaml:"reconnect_max"` // backoff cap; 0 disables reconnection
}

// OutputConfig controls where received bytes go.
type OutputConfig struct {
	Format string `yaml:"format"` // "raw", "hex" or "lines"
	Path   string `yaml:"path"`   // empty for stdout
}

var macPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "btlink")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Adapter: "hci0",
		Transport: TransportConfig{
			Backend:     "bluez",
			Channel:     1,
			ServiceUUID: bt.ServiceUUID,
		},
		Discovery: DiscoveryConfig{
			Backend:  "bluez",
			Duration: 12 * time.Second,
		},
		Session: SessionConfig{
			ReadBuffer:  1024,
			ReportQueue: 16,
		},
		Peer: PeerConfig{
			ReconnectMax: 30 * time.Second,
		},
		Output: OutputConfig{
			Format: "raw",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in output.path is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Output.Path = expandTilde(cfg.Output.Path)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Adapter == "" {
		return fmt.Errorf("adapter must not be empty")
	}

	switch c.Transport.Backend {
	case "bluez":
	case "rfcomm":
		if c.Transport.Channel < 1 || c.Transport.Channel > 30 {
			return fmt.Errorf("transport.channel must be 1-30 for the rfcomm backend, got %d", c.Transport.Channel)
		}
	default:
		return fmt.Errorf("transport.backend must be \"bluez\" or \"rfcomm\", got %q", c.Transport.Backend)
	}

	if _, err := bluetooth.ParseUUID(c.Transport.ServiceUUID); err != nil {
		return fmt.Errorf("transport.service_uuid %q: %w", c.Transport.ServiceUUID, err)
	}

	switch c.Discovery.Backend {
	case "bluez", "le":
	default:
		return fmt.Errorf("discovery.backend must be \"bluez\" or \"le\", got %q", c.Discovery.Backend)
	}

	if c.Discovery.Duration <= 0 {
		return fmt.Errorf("discovery.duration must be > 0")
	}

	if c.Session.ReadBuffer <= 0 {
		return fmt.Errorf("session.read_buffer must be > 0")
	}

	if c.Session.ReportQueue <= 0 {
		return fmt.Errorf("session.report_queue must be > 0")
	}

	if c.Peer.Address != "" && !macPattern.MatchString(c.Peer.Address) {
		return fmt.Errorf("peer.address must look like AA:BB:CC:DD:EE:FF, got %q", c.Peer.Address)
	}

	if c.Peer.ReconnectMax < 0 {
		return fmt.Errorf("peer.reconnect_max must be >= 0")
	}

	switch c.Output.Format {
	case "raw", "hex", "lines":
	default:
		return fmt.Errorf("output.format must be raw, hex, or lines, got %q", c.Output.Format)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a config log level to slog. Unknown values map to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# btlink configuration
#
# transport.backend: "bluez" connects through the BlueZ SPP profile,
#   "rfcomm" opens a raw RFCOMM socket on transport.channel.
# discovery.backend: "bluez" (classic inquiry) or "le" (LE scan).
# peer.reconnect_max: backoff cap for reconnecting to the peer, 0 to disable.
# output.format: raw, hex or lines.

`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// ("", nil) without touching anything when the file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
