package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Device.BufferPages != 2 {
		t.Errorf("Device.BufferPages = %d, want 2", cfg.Device.BufferPages)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: 9000
device:
  name: B21_Pro-1234
  transport: serial
  serial_port: /dev/rfcomm0
  buffer_pages: 4
webhooks:
  retry_delay: 2s
  endpoints:
    - url: http://localhost:9999/hook
      secret: s3cret
      events: [job_completed]
profiles:
  - pattern: "^(B21_Pro).*"
    mode: 1
    density: 3
    multiple: 11.81
logging:
  level: debug
  format: console
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Device.Transport != "serial" || cfg.Device.SerialPort != "/dev/rfcomm0" {
		t.Errorf("Device = %+v, want serial on /dev/rfcomm0", cfg.Device)
	}
	if cfg.Device.DPI != 203 {
		t.Errorf("Device.DPI = %d, want default 203 preserved", cfg.Device.DPI)
	}
	if cfg.Webhooks.RetryDelay != 2*time.Second {
		t.Errorf("Webhooks.RetryDelay = %v, want 2s", cfg.Webhooks.RetryDelay)
	}
	if len(cfg.Webhooks.Endpoints) != 1 || cfg.Webhooks.Endpoints[0].Secret != "s3cret" {
		t.Errorf("Webhooks.Endpoints = %+v", cfg.Webhooks.Endpoints)
	}
	if len(cfg.Profiles) != 1 || cfg.Profiles[0].Multiple != 11.81 {
		t.Errorf("Profiles = %+v", cfg.Profiles)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load() should fail on malformed yaml")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("LABELSTREAM_PORT", "7070")
	t.Setenv("LABELSTREAM_DEVICE_NAME", "M2-H")
	t.Setenv("LABELSTREAM_LOG_LEVEL", "warn")

	cfg := LoadFromEnv()
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Device.Name != "M2-H" {
		t.Errorf("Device.Name = %q, want M2-H", cfg.Device.Name)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server port"},
		{"empty db path", func(c *Config) { c.Database.Path = "" }, "database path"},
		{"bad transport", func(c *Config) { c.Device.Transport = "usb" }, "invalid device transport"},
		{"zero buffer", func(c *Config) { c.Device.BufferPages = 0 }, "buffer pages"},
		{"zero copies", func(c *Config) { c.Print.Copies = 0 }, "copies"},
		{"bad profile pattern", func(c *Config) {
			c.Profiles = []ProfileRule{{Pattern: "^(B32", Multiple: 8}}
		}, "invalid pattern"},
		{"webhook without url", func(c *Config) {
			c.Webhooks.Endpoints = []WebhookEndpoint{{Secret: "x"}}
		}, "url is required"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "invalid log level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
