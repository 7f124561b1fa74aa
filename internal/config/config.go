// Package config provides configuration parsing and validation for the UDP relay.
package config

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/postalsys/udprelay/internal/logging"
)

// Relay modes.
const (
	ModeEcho    = "echo"
	ModeForward = "forward"
	ModeSink    = "sink"
)

// Config represents the complete relay configuration.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Relay   RelayConfig   `yaml:"relay"`
	Logging LoggingConfig `yaml:"logging"`
	Health  HealthConfig  `yaml:"health"`
}

// EngineConfig defines the socket the engine binds.
type EngineConfig struct {
	Address string `yaml:"address"` // IP literal
	Port    uint16 `yaml:"port"`
}

// RelayConfig defines what happens to received datagrams.
type RelayConfig struct {
	Mode            string `yaml:"mode"`             // echo, forward, sink
	ForwardTo       string `yaml:"forward_to"`       // ip:port, forward mode only
	TransmitRetries int    `yaml:"transmit_retries"` // attempts after a full outbound queue
}

// LoggingConfig defines log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// HealthConfig defines health check server settings.
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Address: "127.0.0.1",
			Port:    9001,
		},
		Relay: RelayConfig{
			Mode:            ModeEcho,
			TransmitRetries: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: logging.FormatText,
		},
		Health: HealthConfig{
			Enabled:      false,
			Address:      "127.0.0.1:8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes on top of Default.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
// ${VAR:-default} falls back to default; unknown variables are left as is.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			if val, ok := os.LookupEnv(name[:idx]); ok {
				return val
			}
			return name[idx+2:]
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if _, err := netip.ParseAddr(c.Engine.Address); err != nil {
		errs = append(errs, fmt.Sprintf("engine.address must be an IP address: %q", c.Engine.Address))
	}

	switch c.Relay.Mode {
	case ModeEcho, ModeSink:
	case ModeForward:
		if _, err := c.ForwardAddr(); err != nil {
			errs = append(errs, fmt.Sprintf("relay.forward_to: %v", err))
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid relay.mode: %s (must be echo, forward, or sink)", c.Relay.Mode))
	}
	if c.Relay.TransmitRetries < 0 {
		errs = append(errs, "relay.transmit_retries must not be negative")
	}

	if _, ok := logging.ParseLevel(c.Logging.Level); !ok {
		errs = append(errs, fmt.Sprintf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level))
	}
	if !logging.IsValidFormat(c.Logging.Format) {
		errs = append(errs, fmt.Sprintf("invalid logging.format: %s (must be text or json)", c.Logging.Format))
	}

	if c.Health.Enabled {
		if _, _, err := net.SplitHostPort(c.Health.Address); err != nil {
			errs = append(errs, fmt.Sprintf("health.address: %v", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// ForwardAddr parses relay.forward_to.
func (c *Config) ForwardAddr() (netip.AddrPort, error) {
	if c.Relay.ForwardTo == "" {
		return netip.AddrPort{}, fmt.Errorf("required when mode is %s", ModeForward)
	}
	ap, err := netip.ParseAddrPort(c.Relay.ForwardTo)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("must be ip:port: %w", err)
	}
	return ap, nil
}

// String returns the configuration as YAML.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}
