// Package config loads the gateway's configuration following a 12-Factor
// precedence: environment variables override an optional YAML file, which
// overrides built-in defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the full set of tunables the gateway names.
type Config struct {
	Port                 int           `yaml:"port"`
	BackendServers       []string      `yaml:"backend_servers"`
	MaxSessionsPerServer int           `yaml:"max_sessions_per_server"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	HealthCheckInterval  time.Duration `yaml:"health_check_interval"`
	SessionCacheTTL      time.Duration `yaml:"session_cache_ttl"`
	MaxRetries           int           `yaml:"max_retries"`
	RetryDelay           time.Duration `yaml:"retry_delay"`
	LogLevel             string        `yaml:"log_level"`
	Logging              LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures pkg/logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// DefaultConfig returns the built-in defaults the gateway ships with.
func DefaultConfig() *Config {
	return &Config{
		Port: 3000,
		BackendServers: []string{
			"http://localhost:8081",
			"http://localhost:8082",
			"http://localhost:8083",
		},
		MaxSessionsPerServer: 25,
		RequestTimeout:       5000 * time.Millisecond,
		HealthCheckInterval:  10000 * time.Millisecond,
		SessionCacheTTL:      5000 * time.Millisecond,
		MaxRetries:           3,
		RetryDelay:           1000 * time.Millisecond,
		LogLevel:             "info",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// LoadFromFile loads configuration from a YAML file, seeded with defaults so
// a partial file only overrides what it sets.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks the configuration for the constraints the gateway
// implies: a positive port, a non-empty fixed fleet, and positive tunables.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if len(c.BackendServers) == 0 {
		return fmt.Errorf("at least one backend server must be configured")
	}
	seen := make(map[string]bool, len(c.BackendServers))
	for i, url := range c.BackendServers {
		if strings.TrimSpace(url) == "" {
			return fmt.Errorf("backend_servers[%d]: url cannot be empty", i)
		}
		if seen[url] {
			return fmt.Errorf("backend_servers[%d]: duplicate url %q", i, url)
		}
		seen[url] = true
	}
	if c.MaxSessionsPerServer <= 0 {
		return fmt.Errorf("max_sessions_per_server must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("health_check_interval must be positive")
	}
	if c.SessionCacheTTL <= 0 {
		return fmt.Errorf("session_cache_ttl must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry_delay cannot be negative")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	return nil
}

// SaveToFile writes the configuration to a YAML file, used by the admin
// tooling to snapshot a running configuration.
func (c *Config) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filename, err)
	}
	return nil
}
