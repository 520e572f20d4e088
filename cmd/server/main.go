package main

import (
	"context"
	"flag"
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

	"github.com/atmx/energy-ledger/internal/api"
	"github.com/atmx/energy-ledger/internal/config"
	"github.com/atmx/energy-ledger/internal/events"
	"github.com/atmx/energy-ledger/internal/logging"
	"github.com/atmx/energy-ledger/internal/metrics"
	"github.com/atmx/energy-ledger/internal/pricing"
	"github.com/atmx/energy-ledger/internal/settlement"
	"github.com/atmx/energy-ledger/internal/store"
)

// logTreasury records external currency movements without a settlement
// rail behind it.
type logTreasury struct{ logger *slog.Logger }

func (t logTreasury) Pull(_ context.Context, user string, amount uint64) error {
	t.logger.Info("treasury pull", "user", user, "amount", amount)
	return nil
}

func (t logTreasury) Push(_ context.Context, user string, amount uint64) error {
	t.logger.Info("treasury push", "user", user, "amount", amount)
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to config file (default config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.ServiceName, cfg.Env)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Event fan-out ---
	wsHub := events.NewWSHub()
	go wsHub.Run(ctx)

	publishers := events.Multi{wsHub, events.LogPublisher{Logger: logger}}
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			slog.Error("kafka producer failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { kp.Close() })
		publishers = append(publishers, kp)
		slog.Info("kafka publishing enabled", "topic", cfg.Kafka.Topic)
	}

	// --- Settlement engine ---
	rates, err := pricing.NewTable(pricing.DefaultRates, cfg.Ledger.FeeBps)
	if err != nil {
		slog.Error("invalid rate table", "err", err)
		os.Exit(1)
	}
	engine, err := settlement.New(ctx, st, settlement.Options{
		Owner:          cfg.Ledger.Owner,
		MinTradeAmount: cfg.Ledger.MinTradeAmount,
		ExpiryWindow:   cfg.Ledger.ExpiryWindow,
		Rates:          rates,
		Treasury:       logTreasury{logger: logger},
		Publisher:      publishers,
		Logger:         logger,
	})
	if err != nil {
		slog.Error("ledger initialization failed", "err", err)
		os.Exit(1)
	}
	apiSrv := api.NewServer(engine, nil, logger)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+api.CallerHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":%q}`, cfg.ServiceName)
	})

	// Prometheus metrics endpoint.
	r.Handle(cfg.MetricsPath, metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for committed ledger events. Registered outside
		// the timeout middleware, which would cut long-lived connections.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			apiSrv.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		slog.Info("energy-ledger listening", "addr", srv.Addr, "owner", cfg.Ledger.Owner)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down energy-ledger...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("energy-ledger stopped")
}
