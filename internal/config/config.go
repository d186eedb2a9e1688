package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Device   DeviceConfig   `yaml:"device"`
	Print    PrintConfig    `yaml:"print"`
	Spooler  SpoolerConfig  `yaml:"spooler"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Webhooks WebhookConfig  `yaml:"webhooks"`
	Profiles []ProfileRule  `yaml:"profiles"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// DeviceConfig selects and parameterizes the printer backend.
type DeviceConfig struct {
	Name              string        `yaml:"name"`
	Transport         string        `yaml:"transport"` // tcp or serial
	Address           string        `yaml:"address"`
	Port              int           `yaml:"port"`
	SerialPort        string        `yaml:"serial_port"`
	BaudRate          int           `yaml:"baud_rate"`
	DPI               int           `yaml:"dpi"`
	GapMM             float64       `yaml:"gap_mm"`
	BufferPages       int           `yaml:"buffer_pages"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	StatusPoll        bool          `yaml:"status_poll"`
}

// PrintConfig holds the defaults used when a request leaves a
// parameter unset and no device profile applies.
type PrintConfig struct {
	Copies    int     `yaml:"copies"`
	Density   int     `yaml:"density"`
	MediaType int     `yaml:"media_type"`
	Mode      int     `yaml:"mode"`
	Multiple  float64 `yaml:"multiple"`
}

type SpoolerConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// ArchiveConfig controls moving finished jobs out of the live database.
// Days of zero disables archiving.
type ArchiveConfig struct {
	Path     string        `yaml:"path"`
	Days     int           `yaml:"days"`
	Interval time.Duration `yaml:"interval"`
}

type WebhookConfig struct {
	Endpoints   []WebhookEndpoint `yaml:"endpoints"`
	RetryCount  int               `yaml:"retry_count"`
	RetryDelay  time.Duration     `yaml:"retry_delay"`
	Timeout     time.Duration     `yaml:"timeout"`
	WorkerCount int               `yaml:"worker_count"`
	QueueSize   int               `yaml:"queue_size"`
}

type WebhookEndpoint struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

// ProfileRule maps a device-name pattern to a print profile.
type ProfileRule struct {
	Pattern  string  `yaml:"pattern"`
	Mode     int     `yaml:"mode"`
	Density  int     `yaml:"density"`
	Multiple float64 `yaml:"multiple"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "./data/labelstream.db",
		},
		Device: DeviceConfig{
			Transport:         "tcp",
			Port:              9100,
			BaudRate:          115200,
			DPI:               203,
			GapMM:             2.0,
			BufferPages:       2,
			ConnectionTimeout: 10 * time.Second,
		},
		Print: PrintConfig{
			Copies:    1,
			Density:   3,
			MediaType: 1,
			Mode:      1,
			Multiple:  8.0,
		},
		Spooler: SpoolerConfig{
			QueueSize: 1024,
		},
		Archive: ArchiveConfig{
			Path:     "./data/archives",
			Days:     30,
			Interval: 24 * time.Hour,
		},
		Webhooks: WebhookConfig{
			RetryCount:  3,
			RetryDelay:  5 * time.Second,
			Timeout:     10 * time.Second,
			WorkerCount: 2,
			QueueSize:   100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv returns the defaults overlaid with LABELSTREAM_* variables.
func LoadFromEnv() *Config {
	return ApplyEnv(defaults())
}

// ApplyEnv overlays LABELSTREAM_* environment variables onto cfg.
func ApplyEnv(cfg *Config) *Config {
	if v := os.Getenv("LABELSTREAM_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("LABELSTREAM_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("LABELSTREAM_DEVICE_NAME"); v != "" {
		cfg.Device.Name = v
	}

	if v := os.Getenv("LABELSTREAM_DEVICE_ADDRESS"); v != "" {
		cfg.Device.Address = v
	}

	if v := os.Getenv("LABELSTREAM_SERIAL_PORT"); v != "" {
		cfg.Device.SerialPort = v
	}

	if v := os.Getenv("LABELSTREAM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	switch c.Device.Transport {
	case "tcp":
		if c.Device.Port < 1 || c.Device.Port > 65535 {
			return fmt.Errorf("device port must be between 1 and 65535, got %d", c.Device.Port)
		}
	case "serial":
		if c.Device.BaudRate <= 0 {
			return fmt.Errorf("device baud rate must be positive")
		}
	default:
		return fmt.Errorf("invalid device transport: %s (valid: tcp, serial)", c.Device.Transport)
	}

	if c.Device.DPI <= 0 {
		return fmt.Errorf("device dpi must be positive")
	}

	if c.Device.BufferPages < 1 {
		return fmt.Errorf("device buffer pages must be at least 1")
	}

	if c.Device.ConnectionTimeout < 0 {
		return fmt.Errorf("connection timeout must be non-negative")
	}

	if c.Print.Copies < 1 {
		return fmt.Errorf("default copies must be at least 1")
	}

	if c.Print.Multiple <= 0 {
		return fmt.Errorf("default print multiple must be positive")
	}

	if c.Spooler.QueueSize < 1 {
		return fmt.Errorf("spooler queue size must be at least 1")
	}

	if c.Archive.Days < 0 {
		return fmt.Errorf("archive days must be non-negative")
	}

	if c.Archive.Days > 0 && c.Archive.Interval <= 0 {
		return fmt.Errorf("archive interval must be positive")
	}

	if c.Webhooks.RetryCount < 0 {
		return fmt.Errorf("webhook retry count must be non-negative")
	}

	for i, ep := range c.Webhooks.Endpoints {
		if ep.URL == "" {
			return fmt.Errorf("webhook endpoint %d: url is required", i)
		}
	}

	for i, rule := range c.Profiles {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return fmt.Errorf("profile rule %d: invalid pattern %q: %w", i, rule.Pattern, err)
		}
		if rule.Multiple <= 0 {
			return fmt.Errorf("profile rule %d: multiple must be positive", i)
		}
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, console)", c.Logging.Format)
	}

	return nil
}
