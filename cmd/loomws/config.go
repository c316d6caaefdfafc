package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML server configuration for `loomws serve`.
type Config struct {
	// Address to listen on, host:port.
	Listen string `yaml:"listen"`
	// Log level: debug, info, warn or error.
	LogLevel string `yaml:"logLevel"`
	// Echo every message to all connected clients instead of just the
	// sender.
	Broadcast bool `yaml:"broadcast"`

	MaxMessageSize int      `yaml:"maxMessageSize"`
	MaxFragments   int      `yaml:"maxFragments"`
	ReadWait       Duration `yaml:"readWait"`
	WriteWait      Duration `yaml:"writeWait"`

	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

// Duration decodes YAML strings like "30s" via time.ParseDuration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
	// Messages per second per connection.
	PerSecond int `yaml:"perSecond"`
	Burst     int `yaml:"burst"`
}

func defaultConfig() Config {
	return Config{
		Listen:   ":8080",
		LogLevel: "info",
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Listen == "" {
		return cfg, fmt.Errorf("config: listen address must not be empty")
	}
	if cfg.RateLimit.Enabled && cfg.RateLimit.PerSecond <= 0 {
		return cfg, fmt.Errorf("config: rateLimit.perSecond must be positive")
	}

	return cfg, nil
}
