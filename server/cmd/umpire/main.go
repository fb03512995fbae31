package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/obsidianstack/umpire/server/internal/api"
	"github.com/obsidianstack/umpire/server/internal/auth"
	"github.com/obsidianstack/umpire/server/internal/backend"
	"github.com/obsidianstack/umpire/server/internal/check"
	"github.com/obsidianstack/umpire/server/internal/config"
	"github.com/obsidianstack/umpire/server/internal/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "umpire.yaml", "path to config file")
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	// Bootstrap logger until the config says otherwise.
	slog.SetDefault(newLogger(os.Stdout, config.LogConfig{Level: "info", Format: "json"}))

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load env file", "path", *envFile, "err", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(os.Stdout, cfg.Log))

	port := cfg.Server.Port
	if p := os.Getenv("PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 && n <= 65535 {
			port = n
		} else {
			slog.Warn("ignoring invalid PORT", "value", p)
		}
	}

	slog.Info("umpire starting",
		"version", version,
		"config", *configPath,
		"port", port,
		"default_backend", cfg.Backends.Default,
		"backends", cfg.Backends.Enabled(),
		"auth_mode", cfg.Server.Auth.Mode,
		"force_https", cfg.Server.ForceHTTPS,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName, version, cfg.Telemetry.Insecure)
	if err != nil {
		slog.Error("failed to init tracing", "err", err)
		os.Exit(1)
	}

	adapters, err := backend.NewAll(cfg.Backends)
	if err != nil {
		slog.Error("failed to build backends", "err", err)
		os.Exit(1)
	}

	counters := telemetry.NewCounters()
	svc := check.NewService(adapters, counters)
	scopes := auth.NewScopes(cfg.Server.Auth.Mode, cfg.Server.Auth.Keys())

	// Scope keys reload live; everything else needs a restart.
	go func() {
		err := config.Watch(ctx, *configPath, func(next *config.Config) {
			scopes.Replace(next.Server.Auth.Keys())
		})
		if err != nil {
			slog.Warn("config watch stopped", "err", err)
		}
	}()

	httpSrv := &http.Server{
		Addr: fmt.Sprintf(":%d", port),
		Handler: api.New(svc, scopes, counters, api.Options{
			DefaultBackend: cfg.Backends.Default,
			ForceHTTPS:     cfg.Server.ForceHTTPS,
			Logger:         slog.Default(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
		// Leave room for a backend fetch at the full timeout.
		WriteTimeout: cfg.Backends.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("umpire shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("tracing shutdown", "err", err)
	}
}

// newLogger builds the process logger from the log section of the config.
func newLogger(w io.Writer, lc config.LogConfig) *slog.Logger {
	var level slog.Level
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
