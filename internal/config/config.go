package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skypro1111/headband-recorder/internal/capture"
	"github.com/skypro1111/headband-recorder/internal/protocol"
)

// Config represents the complete recorder service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	HTTP      HTTPConfig      `yaml:"http"`
	Recording RecordingConfig `yaml:"recording"`
	Capture   CaptureConfig   `yaml:"capture"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains frame relay listener configuration
type ServerConfig struct {
	UDPPort     int    `yaml:"udp_port"`
	BindAddress string `yaml:"bind_address"`
	BufferSize  int    `yaml:"buffer_size"`
	Workers     int    `yaml:"workers"`
	QueueSize   int    `yaml:"queue_size"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port            int    `yaml:"port"`
	Address         string `yaml:"address"`
	Enabled         bool   `yaml:"enabled"`
	ShutdownTimeout int    `yaml:"shutdown_timeout"` // seconds
}

// RecordingConfig contains recording session defaults
type RecordingConfig struct {
	OutputDirectory string   `yaml:"output_directory"`
	Sensors         []string `yaml:"sensors"`
	DropInvalid     bool     `yaml:"drop_invalid"`
	AutoStart       bool     `yaml:"auto_start"`
}

// CaptureConfig contains raw frame capture configuration
type CaptureConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Directory     string  `yaml:"directory"`
	Compression   string  `yaml:"compression"`
	FlushInterval float64 `yaml:"flush_interval"` // seconds
}

// CatalogConfig contains session catalog configuration
type CatalogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used for any field the file leaves unset
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			UDPPort:     5555,
			BindAddress: "127.0.0.1",
			BufferSize:  2048,
			Workers:     2,
			QueueSize:   1024,
		},
		HTTP: HTTPConfig{
			Port:            8080,
			Address:         "127.0.0.1",
			Enabled:         true,
			ShutdownTimeout: 10,
		},
		Recording: RecordingConfig{
			OutputDirectory: "./recordings",
			Sensors:         []string{"eeg", "ppg", "accelerometer"},
		},
		Capture: CaptureConfig{
			Enabled:       false,
			Directory:     "./captures",
			Compression:   "zstd",
			FlushInterval: 1.0,
		},
		Catalog: CatalogConfig{
			Enabled: false,
			Path:    "./recordings/catalog.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file over Default and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Recording.Validate(); err != nil {
		return fmt.Errorf("recording config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Catalog.Validate(); err != nil {
		return fmt.Errorf("catalog config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return errors.New("bind_address cannot be empty")
	}

	// Large enough for the biggest frame plus the sensor id byte
	if s.BufferSize < 256 {
		return fmt.Errorf("buffer_size must be at least 256 bytes, got %d", s.BufferSize)
	}

	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}

	if s.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", s.QueueSize)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return errors.New("http address cannot be empty when HTTP is enabled")
		}
	}

	if h.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout cannot be negative, got %d", h.ShutdownTimeout)
	}

	return nil
}

// Validate validates recording configuration
func (r *RecordingConfig) Validate() error {
	if r.OutputDirectory == "" {
		return errors.New("output_directory cannot be empty")
	}

	if _, err := protocol.ParseSensorTypes(r.Sensors); err != nil {
		return fmt.Errorf("sensors: %w", err)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if _, err := capture.ParseCompression(c.Compression); err != nil {
		return err
	}

	if !c.Enabled {
		return nil
	}

	if c.Directory == "" {
		return errors.New("directory cannot be empty when capture is enabled")
	}

	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush_interval must be positive, got %f", c.FlushInterval)
	}

	return nil
}

// Validate validates catalog configuration
func (c *CatalogConfig) Validate() error {
	if c.Enabled && c.Path == "" {
		return errors.New("path cannot be empty when the catalog is enabled")
	}
	return nil
}

// Validate validates logging configuration. Output is stdout, stderr or a file path.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	if l.Output == "" {
		return errors.New("output cannot be empty")
	}

	return nil
}

// SelectedSensors returns the default sensor selection for new sessions
func (r *RecordingConfig) SelectedSensors() []protocol.SensorType {
	types, _ := protocol.ParseSensorTypes(r.Sensors)
	return types
}

// GetCompression returns the parsed capture compression
func (c *CaptureConfig) GetCompression() capture.Compression {
	compression, _ := capture.ParseCompression(c.Compression)
	return compression
}

// GetFlushInterval returns the capture flush interval as a time.Duration
func (c *CaptureConfig) GetFlushInterval() time.Duration {
	return time.Duration(c.FlushInterval * float64(time.Second))
}

// GetShutdownTimeout returns the HTTP shutdown timeout as a time.Duration
func (h *HTTPConfig) GetShutdownTimeout() time.Duration {
	return time.Duration(h.ShutdownTimeout) * time.Second
}

// Address returns the host:port the frame relay listens on
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.BindAddress, s.UDPPort)
}
