// Copyright ORS Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	httpAdapter "github.com/orsproxy/ors-proxy/pkg/adapters/http"
	"github.com/orsproxy/ors-proxy/pkg/core/api"
	"github.com/orsproxy/ors-proxy/pkg/core/config"
	"github.com/orsproxy/ors-proxy/pkg/core/engine"
	"github.com/orsproxy/ors-proxy/pkg/core/state"
	"github.com/orsproxy/ors-proxy/pkg/observability/logging"
	"github.com/orsproxy/ors-proxy/pkg/observability/metrics"
	"github.com/orsproxy/ors-proxy/pkg/storage/memory"
	"github.com/orsproxy/ors-proxy/pkg/storage/postgres"
	"github.com/orsproxy/ors-proxy/pkg/storage/sqlite"
)

var (
	// Version is set via ldflags during build
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	port := flag.Int("port", 0, "HTTP port to listen on (overrides config)")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("ORS Proxy\nVersion: %s\nBuild Time: %s\n", Version, BuildTime)
		os.Exit(0)
	}

	// A local .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.Default()
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logger.Info("starting ors-proxy",
		"version", Version,
		"build_time", BuildTime)

	store, err := openStore(cfg.Storage.DatabaseURL)
	if err != nil {
		logger.Error("failed to open context store", "database_url", cfg.Storage.DatabaseURL, "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("context store ready", "database_url", cfg.Storage.DatabaseURL)

	upstream := api.NewUpstreamClient(cfg.Upstream.URL, cfg.Upstream.APIKey)
	eng, err := engine.New(store, upstream, logger.WithComponent("engine"), engine.Options{
		WallTimeout:  cfg.Upstream.WallTimeout,
		IdleTimeout:  cfg.Upstream.IdleTimeout,
		StrictDecode: cfg.Upstream.StrictDecode,
	})
	if err != nil {
		logger.Error("failed to initialize engine", "error", err)
		os.Exit(1)
	}
	logger.Info("engine ready", "upstream_url", cfg.Upstream.URL)

	handler := httpAdapter.New(eng, logger.WithComponent("http"), metrics.New())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: response streams may legitimately run for minutes;
		// the engine enforces its own wall and idle limits.
		IdleTimeout: 120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("server listening", "address", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// openStore selects the context store backend by DSN scheme.
func openStore(dsn string) (state.ContextStore, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return postgres.New(dsn)
	case strings.HasPrefix(dsn, "memory://"):
		return memory.New(), nil
	default:
		return sqlite.New(dsn)
	}
}
