package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"moderngov/internal/config"
	"moderngov/internal/health"
	"moderngov/internal/metrics"
	"moderngov/internal/proxy"
)

var version string = "<dev>"

// parseLogLevel converts a string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		slog.Warn("Invalid log level, defaulting to info", "level", level)
		return slog.LevelInfo
	}
}

func main() {
	var configFile string
	var addr string
	var healthAddr string
	var logLevel string

	flag.StringVar(&configFile, "config", "config.json", "Path to configuration file (.json, .yaml or .yml)")
	flag.StringVar(&addr, "addr", ":8080", "Address to listen on")
	flag.StringVar(&healthAddr, "health-addr", ":8081", "Address for /health and /metrics")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(logLevel),
	}))
	slog.SetDefault(logger)

	m := metrics.New()
	healthServer := health.New(healthAddr, m.Handler())

	cfg, err := config.Load(configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	proxyServer, err := proxy.New(cfg, m, version)
	if err != nil {
		slog.Error("Failed to create proxy server", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           proxyServer,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting server", "addr", addr, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		reload := make(chan os.Signal, 1)
		signal.Notify(reload, syscall.SIGHUP)
		defer signal.Stop(reload)

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-reload:
				slog.Info("Reloading configuration")
				newCfg, err := config.Load(configFile)
				if err != nil {
					slog.Error("Failed to reload configuration", "error", err)
					continue
				}
				if err := proxyServer.UpdateConfig(newCfg); err != nil {
					slog.Error("Failed to update proxy configuration", "error", err)
					continue
				}
				slog.Info("Configuration reloaded successfully")
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down server")
		healthServer.MarkNotReady()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return proxyServer.Close()
	})

	healthServer.MarkReady()

	if err := g.Wait(); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
