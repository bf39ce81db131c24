package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFromEnvironment loads configuration from the gateway's environment
// keys, seeded with defaults so unset keys keep their default value.
// This implements 12-Factor App methodology - Factor #3: Config.
func LoadFromEnvironment() *Config {
	config := DefaultConfig()

	if port := getEnv("PORT", ""); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 && p <= 65535 {
			config.Port = p
		}
	}

	if servers := getEnv("BACKEND_SERVERS", ""); servers != "" {
		config.BackendServers = parseBackendServers(servers)
	}

	if max := getEnv("MAX_SESSIONS_PER_SERVER", ""); max != "" {
		if m, err := strconv.Atoi(max); err == nil && m > 0 {
			config.MaxSessionsPerServer = m
		}
	}

	if timeout := getEnv("REQUEST_TIMEOUT", ""); timeout != "" {
		if ms, err := strconv.Atoi(timeout); err == nil && ms > 0 {
			config.RequestTimeout = time.Duration(ms) * time.Millisecond
		}
	}

	if interval := getEnv("HEALTH_CHECK_INTERVAL", ""); interval != "" {
		if ms, err := strconv.Atoi(interval); err == nil && ms > 0 {
			config.HealthCheckInterval = time.Duration(ms) * time.Millisecond
		}
	}

	if ttl := getEnv("SESSION_CACHE_TTL", ""); ttl != "" {
		if ms, err := strconv.Atoi(ttl); err == nil && ms > 0 {
			config.SessionCacheTTL = time.Duration(ms) * time.Millisecond
		}
	}

	if retries := getEnv("MAX_RETRIES", ""); retries != "" {
		if r, err := strconv.Atoi(retries); err == nil && r >= 0 {
			config.MaxRetries = r
		}
	}

	if delay := getEnv("RETRY_DELAY", ""); delay != "" {
		if ms, err := strconv.Atoi(delay); err == nil && ms >= 0 {
			config.RetryDelay = time.Duration(ms) * time.Millisecond
		}
	}

	if level := getEnv("LOG_LEVEL", ""); level != "" {
		config.LogLevel = level
		config.Logging.Level = level
	}

	if format := getEnv("LOG_FORMAT", ""); format != "" {
		config.Logging.Format = format
	}

	return config
}

// getEnv gets environment variable with fallback to default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseBackendServers parses the fixed fleet from a comma-separated list of
// base URLs, e.g. "http://localhost:8081,http://localhost:8082".
func parseBackendServers(servers string) []string {
	var out []string
	for _, part := range strings.Split(servers, ",") {
		url := strings.TrimSpace(part)
		if url != "" {
			out = append(out, url)
		}
	}
	return out
}

// LoadConfig loads configuration with priority: env vars > config file >
// defaults. The file path is taken from GATEWAY_CONFIG; if unset or the file
// doesn't exist, only defaults and environment variables apply.
// This implements 12-Factor App methodology - Factor #3: Config.
func LoadConfig() (*Config, error) {
	config := DefaultConfig()

	if configFile := getEnv("GATEWAY_CONFIG", ""); configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			fileConfig, err := LoadFromFile(configFile)
			if err != nil {
				fmt.Printf("warning: failed to load config from file %s: %v\n", configFile, err)
			} else {
				config = fileConfig
			}
		}
	}

	envConfig := LoadFromEnvironment()
	mergeConfigs(config, envConfig)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// mergeConfigs overlays every env key that was actually set onto base,
// leaving file-sourced or default values in place otherwise.
func mergeConfigs(base, env *Config) {
	if os.Getenv("PORT") != "" {
		base.Port = env.Port
	}
	if os.Getenv("BACKEND_SERVERS") != "" {
		base.BackendServers = env.BackendServers
	}
	if os.Getenv("MAX_SESSIONS_PER_SERVER") != "" {
		base.MaxSessionsPerServer = env.MaxSessionsPerServer
	}
	if os.Getenv("REQUEST_TIMEOUT") != "" {
		base.RequestTimeout = env.RequestTimeout
	}
	if os.Getenv("HEALTH_CHECK_INTERVAL") != "" {
		base.HealthCheckInterval = env.HealthCheckInterval
	}
	if os.Getenv("SESSION_CACHE_TTL") != "" {
		base.SessionCacheTTL = env.SessionCacheTTL
	}
	if os.Getenv("MAX_RETRIES") != "" {
		base.MaxRetries = env.MaxRetries
	}
	if os.Getenv("RETRY_DELAY") != "" {
		base.RetryDelay = env.RetryDelay
	}
	if os.Getenv("LOG_LEVEL") != "" {
		base.LogLevel = env.LogLevel
		base.Logging.Level = env.LogLevel
	}
	if os.Getenv("LOG_FORMAT") != "" {
		base.Logging.Format = env.Logging.Format
	}
}
