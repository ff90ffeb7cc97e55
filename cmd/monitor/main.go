package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/jwpark-dev/vi-monitor/internal/auth"
	"github.com/jwpark-dev/vi-monitor/internal/config"
	"github.com/jwpark-dev/vi-monitor/internal/connection"
	"github.com/jwpark-dev/vi-monitor/internal/database"
	"github.com/jwpark-dev/vi-monitor/internal/refdata"
	"github.com/jwpark-dev/vi-monitor/internal/router"
	"github.com/jwpark-dev/vi-monitor/internal/version"
	"github.com/jwpark-dev/vi-monitor/internal/vi"
	"github.com/jwpark-dev/vi-monitor/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/monitor.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting vi monitor",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"ws_url", cfg.API.WSURL,
		"vi_window", cfg.Feed.VIWindow,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Access token
	tokens := auth.NewTokenManager(auth.Config{
		BaseURL:    cfg.API.RestURL,
		AppKey:     cfg.API.AppKey,
		AppSecret:  cfg.API.AppSecret,
		CachePath:  cfg.API.TokenCache,
		Timeout:    cfg.API.Timeout,
		MaxRetries: cfg.API.MaxRetries,
	}, logger)

	token, err := tokens.Token(ctx)
	if err != nil {
		logger.Error("failed to obtain access token", "error", err)
		os.Exit(1)
	}

	// Reference data for the trading day
	store, err := refdata.Load(ctx, refdata.LoaderConfig{
		RestURL:  cfg.API.RestURL,
		CacheDir: cfg.Feed.RefDataDir,
		Timeout:  cfg.API.Timeout,
	}, token, logger)
	if err != nil {
		logger.Error("failed to load reference data", "error", err)
		os.Exit(1)
	}
	logger.Info("reference data ready", "symbols", store.Len())

	// Optional persistence
	var (
		pool *pgxpool.Pool
		w    *writer.Writer
		sink vi.Sink
	)
	if cfg.Database.Enabled() {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)

		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		w = writer.NewWriter(writer.Config{
			BatchSize:     cfg.Writer.BatchSize,
			FlushInterval: cfg.Writer.FlushInterval,
		}, pool, logger)
		if err := w.Start(ctx); err != nil {
			logger.Error("failed to start writer", "error", err)
			os.Exit(1)
		}
		sink = w

		logger.Info("database connected")
	} else {
		logger.Info("no database configured, running log-only")
	}

	// Transport
	manager := connection.NewManager(connection.ManagerConfig{
		WSURL:                cfg.API.WSURL,
		Token:                token,
		ReconnectDelay:       cfg.Feed.ReconnectDelay,
		MaxReconnectAttempts: cfg.Feed.MaxReconnectAttempts,
		PingInterval:         cfg.Feed.PingInterval,
		PingTimeout:          cfg.Feed.PingTimeout,
		WriteTimeout:         cfg.Feed.WriteTimeout,
	}, logger)

	// Subscription state machine
	subs := vi.NewManager(vi.Config{
		Window:       cfg.Feed.VIWindow,
		HistoryLimit: cfg.Feed.HistoryLimit,
	}, manager, store, sink, logger)
	manager.SetOnConnected(subs.HandleConnected)

	// Router
	rt := router.NewRouter(manager.Messages(), subs, store, logger)
	if err := rt.Start(ctx); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}

	if err := manager.Start(ctx); err != nil {
		logger.Error("failed to start transport", "error", err)
		os.Exit(1)
	}

	// Health server
	healthPort := 8080
	if cfg.Metrics.Port > 0 {
		healthPort = cfg.Metrics.Port
	}
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", healthPort),
		Handler: createHealthHandler(manager, rt, subs, w, pool),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting health server", "port", healthPort)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	logger.Info("vi monitor running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", healthPort),
	)

	exitCode := 0
	select {
	case <-ctx.Done():
	case err := <-manager.Fatal():
		logger.Error("feed permanently lost", "error", err)
		exitCode = 1
		cancel()
	}

	logger.Info("shutting down...")

	// Release active windows while the connection may still be usable, then
	// tear the transport down; closing the queue lets the router drain out.
	subs.Shutdown()
	manager.Stop()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	rt.Stop(stopCtx)
	if w != nil {
		w.Stop(stopCtx)
	}

	if err := g.Wait(); err != nil {
		logger.Error("health server error", "error", err)
	}

	logger.Info("vi monitor stopped")
	os.Exit(exitCode)
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(
	manager *connection.Manager,
	rt router.Router,
	subs *vi.Manager,
	w *writer.Writer,
	pool *pgxpool.Pool,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(rw http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		transport := manager.Stats()
		health.Components["transport"] = transport
		if !transport.Connected {
			health.Status = "degraded"
		}

		health.Components["router"] = rt.Stats()
		health.Components["subscriptions"] = subs.Stats()

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["database"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["database"] = "connected"
			}
		}
		if w != nil {
			health.Components["writer"] = w.Stats()
		}

		rw.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			rw.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(rw).Encode(health)
	})

	mux.HandleFunc("/debug/active", func(rw http.ResponseWriter, r *http.Request) {
		active := subs.Active()

		rw.Header().Set("Content-Type", "application/json")
		json.NewEncoder(rw).Encode(map[string]any{
			"count":   len(active),
			"active":  active,
			"history": subs.History(),
		})
	})

	return mux
}
