package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mir00r/session-gateway/internal/balancer"
	"github.com/mir00r/session-gateway/internal/config"
	"github.com/mir00r/session-gateway/internal/controller"
	"github.com/mir00r/session-gateway/internal/httpapi"
	"github.com/mir00r/session-gateway/internal/monitor"
	"github.com/mir00r/session-gateway/internal/registry"
	"github.com/mir00r/session-gateway/internal/sessionindex"
	"github.com/mir00r/session-gateway/internal/ttlcache"
	"github.com/mir00r/session-gateway/internal/upstream"
	"github.com/mir00r/session-gateway/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// getConfigSource reports where the running configuration came from, for the
// startup log line.
func getConfigSource() string {
	if configFile := os.Getenv("GATEWAY_CONFIG"); configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			return "file+env"
		}
	}

	envVars := []string{
		"PORT", "BACKEND_SERVERS", "MAX_SESSIONS_PER_SERVER", "REQUEST_TIMEOUT",
		"HEALTH_CHECK_INTERVAL", "SESSION_CACHE_TTL", "MAX_RETRIES", "RETRY_DELAY", "LOG_LEVEL",
	}
	for _, envVar := range envVars {
		if os.Getenv(envVar) != "" {
			return "environment"
		}
	}

	return "defaults"
}

func main() {
	if checkIfAdminMode() {
		runAdminProcess()
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		File:   cfg.Logging.File,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithFields(map[string]interface{}{
		"version":       "1.0.0",
		"port":          cfg.Port,
		"backends":      len(cfg.BackendServers),
		"config_source": getConfigSource(),
		"process":       getProcessInfo(),
	}).Info("starting session gateway")

	client := upstream.New(cfg.RequestTimeout)
	cache := ttlcache.New[int]()
	index := sessionindex.New()

	reg := registry.New(cfg.BackendServers, cache, index, client, log, cfg.MaxSessionsPerServer, cfg.SessionCacheTTL)
	bal := balancer.New(reg, client, cfg.MaxRetries, cfg.RetryDelay, log)
	mon := monitor.New(reg, cfg.HealthCheckInterval, log)
	ctrl := controller.New(reg, bal, mon, log)

	router := httpapi.NewRouter(ctrl, log, cfg.RequestTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mon.Start(ctx)

	port := getPort(cfg.Port)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithFields(map[string]interface{}{
			"port":     port,
			"backends": len(cfg.BackendServers),
		}).Info("HTTP server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutdown signal received")

	mon.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("error shutting down HTTP server")
	}

	log.Info("session gateway stopped gracefully")
}
