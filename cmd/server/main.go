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

	"github.com/atmx/options-engine/internal/auth"
	"github.com/atmx/options-engine/internal/config"
	"github.com/atmx/options-engine/internal/custody"
	"github.com/atmx/options-engine/internal/market"
	"github.com/atmx/options-engine/internal/metrics"
	"github.com/atmx/options-engine/internal/oracle"
	"github.com/atmx/options-engine/internal/risk"
	"github.com/atmx/options-engine/internal/store"
	"github.com/atmx/options-engine/internal/trade"
)

func main() {
	configPath := flag.String("config", os.Getenv("OPTIONS_CONFIG"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)

	// --- Redis (shared by cache and price feed) ---
	var cleanup []func()
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("invalid redis.url", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	// --- Initialize store ---
	var st store.Store
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.Redis.CacheTTL)
		}
	} else {
		slog.Warn("database.url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Price feed ---
	var feed oracle.Feed
	var publisher oracle.Publisher
	switch cfg.Oracle.Source {
	case config.OracleRedis:
		feed = oracle.NewRedisFeed(rdb)
		slog.Info("reading prices from Redis")
	default:
		static := oracle.NewStaticFeed()
		feed, publisher = static, static
		slog.Warn("static price feed: prices are set through PUT /api/v1/oracle/{feedID}")
	}

	// --- Engine ---
	limiter := risk.NewUtilizationLimiter(cfg.Risk.MaxUtilizationBps, cfg.Risk.MaxHolderShareBps)
	engine, err := market.NewEngine(cfg.MarketParams(), limiter)
	if err != nil {
		slog.Error("engine init failed", "err", err)
		os.Exit(1)
	}

	// Seed the open-markets gauge from whatever the store already holds.
	if markets, err := st.ListMarkets(context.Background()); err == nil {
		for _, m := range markets {
			if m.IsOpen() {
				metrics.ActiveMarkets.Inc()
			}
			metrics.ObserveMarket(m)
		}
	}

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run()

	// --- Trade service ---
	tradeSvc := trade.NewService(trade.Deps{
		Store:       st,
		Engine:      engine,
		Feed:        feed,
		Publisher:   publisher,
		Policy:      auth.NewAdminPolicy(cfg.Admins),
		Custodian:   custody.NewLogCustodian(logger),
		Hub:         wsHub,
		MaxPriceAge: cfg.Oracle.MaxAge,
	})

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
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+trade.PrincipalHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"options-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for committed market events.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			tradeSvc.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("options-engine listening", "port", cfg.Server.Port, "oracle", cfg.Oracle.Source)
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

	slog.Info("shutting down options-engine...")
	wsHub.Stop()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("options-engine stopped")
}
