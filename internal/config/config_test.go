package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return cfgPath
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.Serial.BaudRate != 115200 {
		t.Errorf("Serial.BaudRate = %d, want 115200", cfg.Serial.BaudRate)
	}
	if cfg.Serial.DataBits != 8 || cfg.Serial.Parity != "none" || cfg.Serial.StopBits != 1 {
		t.Errorf("Serial format = %d%s%v, want 8none1", cfg.Serial.DataBits, cfg.Serial.Parity, cfg.Serial.StopBits)
	}
	if cfg.Serial.ChunkSize != 255 {
		t.Errorf("Serial.ChunkSize = %d, want 255", cfg.Serial.ChunkSize)
	}
	if cfg.BLE.ScanTimeout != 5*time.Second {
		t.Errorf("BLE.ScanTimeout = %v, want 5s", cfg.BLE.ScanTimeout)
	}
	if cfg.Transfer.MaxRetries != 0 {
		t.Errorf("Transfer.MaxRetries = %d, want 0 (unlimited)", cfg.Transfer.MaxRetries)
	}
}

func TestLoad(t *testing.T) {
	cfgPath := writeConfig(t, `
log_level: debug
extension_id: microbitMore
serial:
  port: /dev/ttyACM0
  baud_rate: 9600
  parity: even
  stop_bits: 2
  filters:
    - vendor_id: "0d28"
      product_id: "0204"
ble:
  service_uuid: "0000f005-0000-1000-8000-00805f9b34fb"
  name_prefix: "BBC micro:bit"
  scan_timeout: 10s
  reconnect_max: 15
transfer:
  max_retries: 10
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.ExtensionID != "microbitMore" {
		t.Errorf("ExtensionID = %q, want %q", cfg.ExtensionID, "microbitMore")
	}
	if cfg.Serial.Port != "/dev/ttyACM0" || cfg.Serial.BaudRate != 9600 {
		t.Errorf("Serial = %+v", cfg.Serial)
	}
	if cfg.Serial.Parity != "even" || cfg.Serial.StopBits != 2 {
		t.Errorf("Serial format = %s/%v, want even/2", cfg.Serial.Parity, cfg.Serial.StopBits)
	}
	if cfg.Serial.DataBits != 8 {
		t.Errorf("Serial.DataBits = %d, want default 8", cfg.Serial.DataBits)
	}
	if len(cfg.Serial.Filters) != 1 || cfg.Serial.Filters[0].VendorID != "0d28" || cfg.Serial.Filters[0].ProductID != "0204" {
		t.Errorf("Serial.Filters = %+v", cfg.Serial.Filters)
	}
	if cfg.BLE.NamePrefix != "BBC micro:bit" {
		t.Errorf("BLE.NamePrefix = %q", cfg.BLE.NamePrefix)
	}
	if cfg.BLE.ScanTimeout != 10*time.Second {
		t.Errorf("BLE.ScanTimeout = %v, want 10s", cfg.BLE.ScanTimeout)
	}
	if cfg.BLE.ReconnectMax != 15 {
		t.Errorf("BLE.ReconnectMax = %d, want 15", cfg.BLE.ReconnectMax)
	}
	if cfg.Transfer.MaxRetries != 10 {
		t.Errorf("Transfer.MaxRetries = %d, want 10", cfg.Transfer.MaxRetries)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	cfg, err := Load(writeConfig(t, "serial:\n  port: ~/dev/fake-tty\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	expected := filepath.Join(home, "dev/fake-tty")
	if cfg.Serial.Port != expected {
		t.Errorf("Serial.Port = %q, want %q", cfg.Serial.Port, expected)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "serial: [unterminated\n")); err == nil {
		t.Error("Load() should return error for malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "empty extension id",
			modify:  func(c *Config) { c.ExtensionID = "" },
			wantErr: true,
		},
		{
			name:    "zero baud rate",
			modify:  func(c *Config) { c.Serial.BaudRate = 0 },
			wantErr: true,
		},
		{
			name:    "invalid data bits",
			modify:  func(c *Config) { c.Serial.DataBits = 9 },
			wantErr: true,
		},
		{
			name:    "invalid parity",
			modify:  func(c *Config) { c.Serial.Parity = "sideways" },
			wantErr: true,
		},
		{
			name:    "one and a half stop bits",
			modify:  func(c *Config) { c.Serial.StopBits = 1.5 },
			wantErr: false,
		},
		{
			name:    "invalid stop bits",
			modify:  func(c *Config) { c.Serial.StopBits = 3 },
			wantErr: true,
		},
		{
			name:    "zero chunk size",
			modify:  func(c *Config) { c.Serial.ChunkSize = 0 },
			wantErr: true,
		},
		{
			name:    "empty filter",
			modify:  func(c *Config) { c.Serial.Filters = []SerialFilter{{}} },
			wantErr: true,
		},
		{
			name:    "non-hex vendor id",
			modify:  func(c *Config) { c.Serial.Filters = []SerialFilter{{VendorID: "zz12"}} },
			wantErr: true,
		},
		{
			name:    "vendor id only",
			modify:  func(c *Config) { c.Serial.Filters = []SerialFilter{{VendorID: "2E8A"}} },
			wantErr: false,
		},
		{
			name:    "negative scan timeout",
			modify:  func(c *Config) { c.BLE.ScanTimeout = -time.Second },
			wantErr: true,
		},
		{
			name:    "zero reconnect max",
			modify:  func(c *Config) { c.BLE.ReconnectMax = 0 },
			wantErr: true,
		},
		{
			name:    "one second reconnect max",
			modify:  func(c *Config) { c.BLE.ReconnectMax = 1 },
			wantErr: false,
		},
		{
			name:    "negative max retries",
			modify:  func(c *Config) { c.Transfer.MaxRetries = -1 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "periphlink", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}

	if !strings.HasPrefix(string(data), "# periphlink") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Serial.BaudRate != 115200 {
		t.Errorf("written config Serial.BaudRate = %d, want 115200", cfg.Serial.BaudRate)
	}
	if cfg.BLE.ScanTimeout != 5*time.Second {
		t.Errorf("written config BLE.ScanTimeout = %v, want 5s", cfg.BLE.ScanTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("written config does not validate: %v", err)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "periphlink")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("serial:\n  port: /dev/ttyUSB0\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	// WriteDefault should return ("", nil) without overwriting
	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
