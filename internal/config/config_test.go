package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skypro1111/headband-recorder/internal/capture"
	"github.com/skypro1111/headband-recorder/internal/protocol"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default config is invalid: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		errorMsg string
	}{
		{
			name:   "valid configuration",
			mutate: func(c *Config) {},
		},
		{
			name:     "invalid server port",
			mutate:   func(c *Config) { c.Server.UDPPort = 0 },
			errorMsg: "udp_port must be between 1 and 65535",
		},
		{
			name:     "no workers",
			mutate:   func(c *Config) { c.Server.Workers = 0 },
			errorMsg: "workers must be at least 1",
		},
		{
			name:     "http enabled without address",
			mutate:   func(c *Config) { c.HTTP.Address = "" },
			errorMsg: "http address cannot be empty",
		},
		{
			name: "http disabled ignores port",
			mutate: func(c *Config) {
				c.HTTP.Enabled = false
				c.HTTP.Port = 0
			},
		},
		{
			name:     "empty output directory",
			mutate:   func(c *Config) { c.Recording.OutputDirectory = "" },
			errorMsg: "output_directory cannot be empty",
		},
		{
			name:     "unknown sensor",
			mutate:   func(c *Config) { c.Recording.Sensors = []string{"eeg", "gyro"} },
			errorMsg: "recording config: sensors",
		},
		{
			name:     "unknown compression",
			mutate:   func(c *Config) { c.Capture.Compression = "brotli" },
			errorMsg: "capture config",
		},
		{
			name: "capture enabled without directory",
			mutate: func(c *Config) {
				c.Capture.Enabled = true
				c.Capture.Directory = ""
			},
			errorMsg: "directory cannot be empty",
		},
		{
			name: "catalog enabled without path",
			mutate: func(c *Config) {
				c.Catalog.Enabled = true
				c.Catalog.Path = ""
			},
			errorMsg: "catalog config",
		},
		{
			name:     "invalid log level",
			mutate:   func(c *Config) { c.Logging.Level = "trace" },
			errorMsg: "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)

			err := config.Validate()
			if tt.errorMsg != "" {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		expectError bool
		errorMsg    string
		check       func(t *testing.T, c *Config)
	}{
		{
			name: "full configuration",
			content: `
server:
  udp_port: 6000
  bind_address: "0.0.0.0"
  buffer_size: 4096
  workers: 4
  queue_size: 256

http:
  enabled: true
  address: "0.0.0.0"
  port: 9090
  shutdown_timeout: 5

recording:
  output_directory: "/data/sessions"
  sensors: ["eeg", "ppg"]
  drop_invalid: true

capture:
  enabled: true
  directory: "/data/captures"
  compression: "lz4"
  flush_interval: 0.5

catalog:
  enabled: true
  path: "/data/catalog.db"

logging:
  level: "debug"
  format: "text"
  output: "stderr"
`,
			check: func(t *testing.T, c *Config) {
				if c.Server.UDPPort != 6000 || c.Server.Workers != 4 {
					t.Errorf("Unexpected server config %+v", c.Server)
				}
				if !c.Recording.DropInvalid || c.Recording.OutputDirectory != "/data/sessions" {
					t.Errorf("Unexpected recording config %+v", c.Recording)
				}
				if c.Capture.GetCompression() != capture.CompressionLZ4 {
					t.Errorf("Expected lz4, got %s", c.Capture.GetCompression())
				}
				if c.Capture.GetFlushInterval() != 500*time.Millisecond {
					t.Errorf("Expected 500ms flush interval, got %v", c.Capture.GetFlushInterval())
				}
			},
		},
		{
			name: "partial configuration keeps defaults",
			content: `
recording:
  output_directory: "/tmp/out"
`,
			check: func(t *testing.T, c *Config) {
				if c.Server.UDPPort != Default().Server.UDPPort {
					t.Errorf("Expected default udp_port, got %d", c.Server.UDPPort)
				}
				if c.Recording.OutputDirectory != "/tmp/out" {
					t.Errorf("Expected overridden output_directory, got %s", c.Recording.OutputDirectory)
				}
				if len(c.Recording.SelectedSensors()) != 3 {
					t.Errorf("Expected default sensors, got %v", c.Recording.Sensors)
				}
			},
		},
		{
			name:        "invalid yaml",
			content:     "server:\n  udp_port: [not, a, number\n",
			expectError: true,
			errorMsg:    "failed to parse config file",
		},
		{
			name: "invalid values",
			content: `
server:
  buffer_size: 64
`,
			expectError: true,
			errorMsg:    "buffer_size must be at least 256",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(path)
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if tt.check != nil {
				tt.check(t, config)
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestSelectedSensors(t *testing.T) {
	r := RecordingConfig{Sensors: []string{"PPG", "accel", "ppg"}}

	got := r.SelectedSensors()
	if len(got) != 2 || got[0] != protocol.SensorPPG || got[1] != protocol.SensorAccelerometer {
		t.Errorf("Unexpected selection %v", got)
	}
}

func TestDurationHelpers(t *testing.T) {
	h := HTTPConfig{ShutdownTimeout: 7}
	if h.GetShutdownTimeout() != 7*time.Second {
		t.Errorf("Expected 7 seconds, got %v", h.GetShutdownTimeout())
	}

	c := CaptureConfig{FlushInterval: 1.5}
	if c.GetFlushInterval() != 1500*time.Millisecond {
		t.Errorf("Expected 1.5 seconds, got %v", c.GetFlushInterval())
	}

	s := ServerConfig{BindAddress: "127.0.0.1", UDPPort: 5555}
	if s.Address() != "127.0.0.1:5555" {
		t.Errorf("Unexpected address %s", s.Address())
	}
}
