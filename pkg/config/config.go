// Package config provides configuration handling for the session transport
// and the probe tool built on it.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/irctrakz/nbtransport/pkg/core"
	"github.com/irctrakz/nbtransport/pkg/logging"
	"github.com/irctrakz/nbtransport/pkg/nbt"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration.
type Config struct {
	// Transport contains the transport tunables.
	Transport core.TransportConfig `json:"transport" yaml:"transport"`

	// Target is the server to connect to.
	Target TargetConfig `json:"target" yaml:"target"`

	// Logging contains the logging configuration.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Metrics contains the metrics endpoint configuration.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// TargetConfig describes the peer and the local identity.
type TargetConfig struct {
	// Host is the server address or host name.
	Host string `json:"host" yaml:"host"`

	// Port is 139 for the NetBIOS session service or 445 for direct TCP.
	Port int `json:"port" yaml:"port"`

	// Mode forces "netbios" or "direct" framing. Empty picks by port.
	Mode string `json:"mode" yaml:"mode"`

	// Name is the server's NetBIOS name. Defaults to the first host label.
	Name string `json:"name" yaml:"name"`

	// Scope is the NetBIOS scope, if any.
	Scope string `json:"scope" yaml:"scope"`

	// LocalName is the NetBIOS name sent as the calling name.
	LocalName string `json:"localName" yaml:"localName"`

	// Interface pins outgoing traffic to a network interface.
	Interface string `json:"interface" yaml:"interface"`
}

// LoggingConfig contains configuration for logging.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `json:"level" yaml:"level"`

	// File is the log file path.
	File string `json:"file" yaml:"file"`

	// MaxSize is the maximum size of the log file in megabytes.
	MaxSize int `json:"maxSize" yaml:"maxSize"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `json:"maxBackups" yaml:"maxBackups"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `json:"maxAge" yaml:"maxAge"`
}

// MetricsConfig contains configuration for metrics.
type MetricsConfig struct {
	// Listen is the address of the /metrics and /health endpoint. Empty disables it.
	Listen string `json:"listen" yaml:"listen"`

	// ReportInterval is how often counters are logged. Zero disables reporting.
	ReportInterval time.Duration `json:"reportInterval" yaml:"reportInterval"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Transport: core.DefaultTransportConfig(),
		Target: TargetConfig{
			Port:      445,
			LocalName: "NBTPROBE",
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// LoadFromFile loads configuration from a file.
func LoadFromFile(path string, config *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch {
	case strings.HasSuffix(path, ".json"):
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	return nil
}

func envInt(name string, dst *int) {
	if val := os.Getenv(name); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func envString(name string, dst *string) {
	if val := os.Getenv(name); val != "" {
		*dst = val
	}
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv(config *Config) {
	// Transport config
	t := &config.Transport
	envInt("NBT_SEND_BUFFER_SIZE", &t.SendBufferSize)
	envInt("NBT_RECV_BUFFER_SIZE", &t.RecvBufferSize)
	envInt("NBT_RECV_CHUNK_SIZE", &t.RecvChunkSize)
	envDuration("NBT_TIMEOUT", &t.DefaultTimeout)
	envDuration("NBT_SEND_TIMEOUT", &t.SendTimeout)
	envDuration("NBT_CONNECT_TIMEOUT", &t.ConnectTimeout)
	envDuration("NBT_KEEPALIVE_PERIOD", &t.KeepAlivePeriod)
	envDuration("NBT_STALL_TIMEOUT", &t.StallTimeout)
	envInt("NBT_MAX_RETARGETS", &t.MaxRetargets)
	envInt("NBT_QOS", &t.QoS)

	// Target config
	envString("NBT_HOST", &config.Target.Host)
	envInt("NBT_PORT", &config.Target.Port)
	envString("NBT_MODE", &config.Target.Mode)
	envString("NBT_NAME", &config.Target.Name)
	envString("NBT_SCOPE", &config.Target.Scope)
	envString("NBT_LOCAL_NAME", &config.Target.LocalName)
	envString("NBT_INTERFACE", &config.Target.Interface)

	// Logging config
	envString("LOGGING_LEVEL", &config.Logging.Level)
	envString("LOGGING_FILE", &config.Logging.File)
	envInt("LOGGING_MAX_SIZE", &config.Logging.MaxSize)
	envInt("LOGGING_MAX_BACKUPS", &config.Logging.MaxBackups)
	envInt("LOGGING_MAX_AGE", &config.Logging.MaxAge)

	// Metrics config
	envString("METRICS_LISTEN", &config.Metrics.Listen)
	envDuration("METRICS_REPORT_INTERVAL", &config.Metrics.ReportInterval)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate Transport config
	t := c.Transport
	if t.SendBufferSize < 0 || t.RecvBufferSize < 0 || t.RecvChunkSize < 0 {
		return fmt.Errorf("buffer sizes cannot be negative")
	}
	if t.StallTimeout < 0 || t.DefaultTimeout < 0 || t.SendTimeout < 0 || t.ConnectTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	if t.MaxRetargets < 0 {
		return fmt.Errorf("invalid max retargets: %d", t.MaxRetargets)
	}
	if t.QoS < 0 || t.QoS > 0xFF {
		return fmt.Errorf("invalid QoS value: %d", t.QoS)
	}

	// Validate Target config
	if c.Target.Port <= 0 || c.Target.Port > 65535 {
		return fmt.Errorf("invalid target port: %d", c.Target.Port)
	}
	switch c.Target.Mode {
	case "", ModeNetBIOS, ModeDirect:
	default:
		return fmt.Errorf("invalid target mode: %s", c.Target.Mode)
	}

	// Validate Logging config
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}

	// Validate Metrics config
	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			return fmt.Errorf("invalid metrics listen address: %w", err)
		}
	}
	if c.Metrics.ReportInterval < 0 {
		return fmt.Errorf("invalid metrics report interval: %v", c.Metrics.ReportInterval)
	}

	return nil
}

// Target modes.
const (
	ModeNetBIOS = "netbios"
	ModeDirect  = "direct"
)

// NetBIOS reports whether the target uses the NetBIOS session service.
func (c *Config) NetBIOS() bool {
	switch c.Target.Mode {
	case ModeNetBIOS:
		return true
	case ModeDirect:
		return false
	}
	return c.Target.Port == nbt.PortNetBIOS
}

// ApplyLogging applies the logging configuration.
func (c *Config) ApplyLogging() error {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logging.InfoLevel
	}
	logging.SetLevel(level)

	if c.Logging.File != "" {
		err := logging.EnableFileLogging(
			c.Logging.File,
			c.Logging.MaxSize,
			c.Logging.MaxBackups,
			c.Logging.MaxAge,
		)
		if err != nil {
			return fmt.Errorf("failed to enable file logging: %w", err)
		}
	}

	return nil
}

// SaveToFile saves the configuration to a file.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch {
	case strings.HasSuffix(path, ".json"):
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		data, err = yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	if lastSlash := strings.LastIndex(path, "/"); lastSlash != -1 {
		if err := os.MkdirAll(path[:lastSlash], 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
