package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mir00r/session-gateway/internal/config"
	"github.com/mir00r/session-gateway/internal/registry"
	"github.com/mir00r/session-gateway/internal/sessionindex"
	"github.com/mir00r/session-gateway/internal/ttlcache"
	"github.com/mir00r/session-gateway/internal/upstream"
	"github.com/mir00r/session-gateway/pkg/logger"
)

// runHealthCheck runs a one-off probe of every configured backend and prints
// its resulting status, without starting the HTTP server or the monitor's
// periodic loop.
func runHealthCheck() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	client := upstream.New(cfg.RequestTimeout)
	reg := registry.New(cfg.BackendServers, ttlcache.New[int](), sessionindex.New(), client, log, cfg.MaxSessionsPerServer, cfg.SessionCacheTTL)

	fmt.Printf("Checking health of %d backends...\n", len(cfg.BackendServers))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, b := range reg.AllBackends() {
		count, err := reg.SessionCount(ctx, b.ID)
		status := fmt.Sprintf("✓ healthy (%d sessions)", count)
		if err != nil {
			status = fmt.Sprintf("✗ unhealthy: %v", err)
		}
		fmt.Printf("Backend %s (%s): %s\n", b.ID, b.URL, status)
	}

	return nil
}

// runCleanup clears nothing: the session count cache and index live only in
// the running gateway's memory, so this one-off process just says so.
func runCleanup() error {
	fmt.Println("Cleanup only clears in-process caches; this process holds none to clear.")
	fmt.Println("Restart the gateway to reset its session cache and index from empty.")
	return nil
}

// runConfigValidation validates the current configuration without starting
// the server.
func runConfigValidation() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	fmt.Println("Configuration validation passed ✓")
	fmt.Printf("Port: %d\n", cfg.Port)
	fmt.Printf("Backends: %d\n", len(cfg.BackendServers))
	fmt.Printf("Max sessions per server: %d\n", cfg.MaxSessionsPerServer)
	fmt.Printf("Request timeout: %s\n", cfg.RequestTimeout)
	fmt.Printf("Health check interval: %s\n", cfg.HealthCheckInterval)
	fmt.Printf("Session cache TTL: %s\n", cfg.SessionCacheTTL)
	fmt.Printf("Max retries: %d, retry delay: %s\n", cfg.MaxRetries, cfg.RetryDelay)

	return nil
}

// runStats prints the configured fleet without probing it.
func runStats() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Printf("Total backends: %d\n", len(cfg.BackendServers))
	for i, url := range cfg.BackendServers {
		fmt.Printf("  server-%d: %s\n", i+1, url)
	}

	return nil
}

// runAdminProcess handles admin process execution.
func runAdminProcess() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: session-gateway -admin <command>")
		fmt.Println("Commands:")
		fmt.Println("  health-check    - Probe every backend once and print its status")
		fmt.Println("  cleanup         - Report on cache/index state")
		fmt.Println("  validate-config - Validate configuration")
		fmt.Println("  stats           - List the configured fleet")
		os.Exit(1)
	}

	command := os.Args[2]
	var err error

	switch command {
	case "health-check":
		err = runHealthCheck()
	case "cleanup":
		err = runCleanup()
	case "validate-config", "validate":
		err = runConfigValidation()
	case "stats":
		err = runStats()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("Command failed: %v\n", err)
		os.Exit(1)
	}
}

// checkIfAdminMode reports whether the process was invoked in admin mode.
func checkIfAdminMode() bool {
	for _, arg := range os.Args {
		if arg == "-admin" {
			return true
		}
	}
	return false
}
