package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	LogLevel    string         `yaml:"log_level"`
	ExtensionID string         `yaml:"extension_id"`
	Serial      SerialConfig   `yaml:"serial"`
	BLE         BLEConfig      `yaml:"ble"`
	Transfer    TransferConfig `yaml:"transfer"`
}

// SerialConfig holds serial port settings.
type SerialConfig struct {
	Port      string         `yaml:"port"` // fixed path; empty means pick by filters
	BaudRate  int            `yaml:"baud_rate"`
	DataBits  int            `yaml:"data_bits"`
	Parity    string         `yaml:"parity"` // none, odd, even, mark, space
	StopBits  float64        `yaml:"stop_bits"`
	ChunkSize int            `yaml:"chunk_size"`
	Filters   []SerialFilter `yaml:"filters"`
}

// SerialFilter matches USB serial ports by hex vendor and product ID.
type SerialFilter struct {
	VendorID  string `yaml:"vendor_id"`
	ProductID string `yaml:"product_id"`
}

// BLEConfig holds BLE device selection settings.
type BLEConfig struct {
	Address      string        `yaml:"address"` // fixed address; empty means scan
	ServiceUUID  string        `yaml:"service_uuid"`
	NamePrefix   string        `yaml:"name_prefix"`
	ScanTimeout  time.Duration `yaml:"scan_timeout"`
	ReconnectMax int           `yaml:"reconnect_max"` // max reconnect backoff in seconds
}

// TransferConfig holds file transfer settings.
type TransferConfig struct {
	MaxRetries int `yaml:"max_retries"` // NAKs tolerated per packet; 0 = unlimited
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "periphlink")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel:    "info",
		ExtensionID: "periphlink",
		Serial: SerialConfig{
			BaudRate:  115200,
			DataBits:  8,
			Parity:    "none",
			StopBits:  1,
			ChunkSize: 255,
		},
		BLE: BLEConfig{
			ScanTimeout:  5 * time.Second,
			ReconnectMax: 30,
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in serial.port is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Serial.Port = expandTilde(cfg.Serial.Port)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.ExtensionID == "" {
		return fmt.Errorf("extension_id must not be empty")
	}

	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baud_rate must be > 0")
	}

	switch c.Serial.DataBits {
	case 5, 6, 7, 8:
	default:
		return fmt.Errorf("serial.data_bits must be 5-8, got %d", c.Serial.DataBits)
	}

	switch c.Serial.Parity {
	case "none", "odd", "even", "mark", "space":
	default:
		return fmt.Errorf("serial.parity must be none, odd, even, mark, or space, got %q", c.Serial.Parity)
	}

	switch c.Serial.StopBits {
	case 1, 1.5, 2:
	default:
		return fmt.Errorf("serial.stop_bits must be 1, 1.5, or 2, got %v", c.Serial.StopBits)
	}

	if c.Serial.ChunkSize <= 0 {
		return fmt.Errorf("serial.chunk_size must be > 0")
	}

	for i, f := range c.Serial.Filters {
		if f.VendorID == "" && f.ProductID == "" {
			return fmt.Errorf("serial.filters[%d] must set vendor_id or product_id", i)
		}
		if !isHexID(f.VendorID) || !isHexID(f.ProductID) {
			return fmt.Errorf("serial.filters[%d] ids must be 4 hex digits", i)
		}
	}

	if c.BLE.ScanTimeout < 0 {
		return fmt.Errorf("ble.scan_timeout must not be negative")
	}

	if c.BLE.ReconnectMax < 1 {
		return fmt.Errorf("ble.reconnect_max must be at least 1 second")
	}

	if c.Transfer.MaxRetries < 0 {
		return fmt.Errorf("transfer.max_retries must not be negative")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// isHexID reports whether id is empty or exactly four hex digits.
func isHexID(id string) bool {
	if id == "" {
		return true
	}
	if len(id) != 4 {
		return false
	}
	for _, r := range strings.ToLower(id) {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// ParseLogLevel maps a log_level value to a slog.Level. Unknown values
// default to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
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

const defaultHeader = `# periphlink configuration
# serial.port and ble.address pin a device; leave them empty to pick one by
# serial.filters or by scanning for ble.service_uuid / ble.name_prefix.
# transfer.max_retries: NAKs tolerated per packet before cancelling (0 = unlimited).
`

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there. It returns the path written, or "" if a file was already
// present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
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
