// Command voicebridge runs the bridge process: it selects a brain backend
// from configuration, owns the session store, and serves the metrics and
// websocket side-channel endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vango-go/voicebridge/internal/dotenv"
	"github.com/vango-go/voicebridge/pkg/brain"
	"github.com/vango-go/voicebridge/pkg/brain/gemini"
	"github.com/vango-go/voicebridge/pkg/brain/openai"
	"github.com/vango-go/voicebridge/pkg/config"
	"github.com/vango-go/voicebridge/pkg/metrics"
	"github.com/vango-go/voicebridge/pkg/session"
)

const (
	shutdownGrace = 15 * time.Second
	sweepInterval = 30 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	flag.Parse()

	if err := run(context.Background(), *configPath); err != nil {
		fmt.Fprintln(os.Stderr, "voicebridge:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	if err := dotenv.Load(); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	brain.Register(openai.Kind, openai.Factory)
	brain.Register(gemini.Kind, gemini.Factory)

	brainCfg, err := cfg.BrainConfig()
	if err != nil {
		return err
	}
	backend, err := brain.New(ctx, brainCfg)
	if err != nil {
		// An unknown kind is a configuration error, never a silent fallback.
		return fmt.Errorf("create brain backend: %w", err)
	}
	logger.Info("brain backend ready",
		"kind", backend.Kind(), "label", backend.Label(), "model", backend.Model())

	var mirror *session.RedisMirror
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %q: %w", cfg.Redis.Addr, err)
		}
		mirror = session.NewRedisMirror(client, "", 0)
		logger.Info("session mirror enabled", "addr", cfg.Redis.Addr)
	}

	store := session.NewStore(session.StoreConfig{
		Logger:        logger,
		DisconnectTTL: cfg.Session.DisconnectTTL,
		Mirror:        mirrorOrNil(mirror),
	})
	if mirror != nil {
		snapshots, err := mirror.LoadAll(ctx)
		if err != nil {
			logger.Warn("session mirror warm-up failed", "error", err)
		} else {
			for _, snap := range snapshots {
				store.Restore(snap)
			}
			logger.Info("sessions restored from mirror", "count", len(snapshots))
		}
	}

	prom := metrics.NewProm(cfg.MetricsNamespace)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go sweepSessions(sweepCtx, store, prom, logger)

	bridge := newBridge(logger, backend, store, prom, cfg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", prom.Handler())
	mux.HandleFunc("/v1/session", bridge.handleSession)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("voicebridge listening", "addr", cfg.Listen, "brain", backend.Kind())
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-serveErr; err != nil {
		return err
	}
	logger.Info("voicebridge stopped")
	return nil
}

// mirrorOrNil avoids handing the store a non-nil interface wrapping a nil
// pointer.
func mirrorOrNil(m *session.RedisMirror) session.Mirror {
	if m == nil {
		return nil
	}
	return m
}

func sweepSessions(ctx context.Context, store *session.Store, prom *metrics.Prom, logger *slog.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if evicted := store.EvictExpired(now); evicted > 0 {
				logger.Debug("expired sessions evicted", "count", evicted)
			}
			prom.SessionsActive.Set(float64(store.Len()))
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
