package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/foretell/marketex/internal/config"
	"github.com/foretell/marketex/internal/fetch"
	"github.com/foretell/marketex/internal/httpapi"
	"github.com/foretell/marketex/internal/metrics"
	"github.com/foretell/marketex/internal/resolver"
	"github.com/foretell/marketex/internal/scheduler"
	"github.com/foretell/marketex/internal/store"
	"github.com/foretell/marketex/internal/trading"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	// --- Initialize store ---
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		slog.Error("failed to create data dir", "err", err)
		os.Exit(1)
	}
	sqliteStore, err := store.Open(cfg.DataDir + "/marketex.db")
	if err != nil {
		slog.Error("failed to open store", "err", err)
		os.Exit(1)
	}
	var cleanup []func()
	cleanup = append(cleanup, func() { sqliteStore.Close() })

	var st store.Store = sqliteStore
	slog.Info("opened sqlite store", "path", cfg.DataDir)

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, 30*time.Second)
		slog.Info("Redis cache enabled")
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Metrics ---
	m := metrics.New()

	// --- WebSocket hub ---
	hub := trading.NewHub()
	go hub.Run()

	// --- Trading engine ---
	engine := trading.New(st, hub, m)

	// --- Resolver ---
	res := resolver.New(st, fetch.NewHTTPFetcher(), m)

	// --- Resolution scheduler ---
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.SchedulerEnabled {
		sched := scheduler.New(st, res, m).WithPeriod(cfg.SchedulerPeriod)
		go sched.Run(ctx)
		slog.Info("resolution scheduler started", "period", cfg.SchedulerPeriod)
	} else {
		slog.Info("resolution scheduler disabled")
	}

	// --- HTTP router ---
	api := httpapi.New(st, engine, res, hub, m)
	r := api.Router()

	// CORS middleware for frontend cross-origin requests.
	corsHandler := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      corsHandler(r),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("marketex listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	slog.Info("shutting down marketex...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("marketex stopped")
}
