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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/walletpay/wallet-engine/internal/config"
	"github.com/walletpay/wallet-engine/internal/fees"
	"github.com/walletpay/wallet-engine/internal/limits"
	"github.com/walletpay/wallet-engine/internal/metrics"
	"github.com/walletpay/wallet-engine/internal/payment"
	"github.com/walletpay/wallet-engine/internal/risk"
	"github.com/walletpay/wallet-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Risk engine ---
	// The counter store is fail-open by construction: without Redis the
	// velocity signal simply contributes nothing.
	var counter risk.Counter = risk.NoopCounter{}
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		counter = risk.NewRedisCounter(rdb)
		slog.Info("Redis counter store enabled")
	} else {
		slog.Warn("REDIS_URL not set, velocity scoring disabled")
	}
	engine := risk.NewEngine(st, counter, risk.DefaultConfig())

	// --- Event hub ---
	hub := payment.NewEventHub()
	go hub.Run()

	// --- Payment service ---
	svc := payment.NewService(st, engine, fees.DefaultSchedule(), limits.DefaultTable(), hub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"wallet-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for payment event streaming.
		r.Get("/ws", hub.HandleWS)

		// Account management.
		r.Post("/accounts", svc.CreateAccount)
		r.Put("/accounts/{userID}/tier", svc.UpdateTier)
		r.Get("/accounts/{userID}/balance", svc.GetBalance)
		r.Get("/accounts/{userID}/transactions", svc.GetTransactions)
		r.Get("/accounts/{userID}/stats", svc.GetStats)

		// Money movement.
		r.Post("/payments", svc.CreatePayment)
		r.Post("/topups", svc.CreateTopUp)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("wallet-engine listening", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down wallet-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("wallet-engine stopped")
}
