package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/retaildss/rebalance-engine/internal/api"
	"github.com/retaildss/rebalance-engine/internal/config"
	"github.com/retaildss/rebalance-engine/internal/forecast"
	"github.com/retaildss/rebalance-engine/internal/matcher"
	"github.com/retaildss/rebalance-engine/internal/scheduler"
	"github.com/retaildss/rebalance-engine/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "err", err)
		os.Exit(1)
	}
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				slog.Error("invalid redis url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Redis.TTL)
			slog.Info("Redis cache enabled", "ttl", cfg.Redis.TTL)
		}
	} else {
		slog.Warn("database.url not set, using in-memory store (data will not persist)")
		ms := store.NewMemoryStore()
		if cfg.Seed.Path != "" {
			if err := ms.LoadFixtureFile(cfg.Seed.Path); err != nil {
				slog.Error("failed to load seed fixture", "path", cfg.Seed.Path, "err", err)
				os.Exit(1)
			}
			slog.Info("seed fixture loaded", "path", cfg.Seed.Path)
		}
		st = ms
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	tierOrder, _ := cfg.TierOrder()

	// --- Engine ---
	fc := forecast.NewForecaster(st, forecast.Options{
		HorizonDays: cfg.Forecast.HorizonDays,
		MinHistory:  cfg.Forecast.MinHistory,
		BatchSize:   cfg.Forecast.BatchSize,
	}, logger)
	matchSvc := matcher.NewService(st, matcher.Options{
		VehicleCapacity:  cfg.Matcher.VehicleCapacity,
		TierOrder:        tierOrder,
		DemandWindowDays: cfg.Matcher.DemandWindowDays,
	}, logger)

	// --- WebSocket hub ---
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	wsHub := api.NewWSHub(logger)
	go wsHub.Run(hubCtx)

	// --- Regeneration jobs ---
	jobs := scheduler.NewJobs(fc.Regenerate, wsHub.PublishJob, logger)
	sched := scheduler.NewScheduler(cfg.Forecast.CronSchedule, jobs, logger)
	if err := sched.Start(); err != nil {
		slog.Error("invalid forecast schedule", "err", err)
		os.Exit(1)
	}

	svc := api.NewService(api.Deps{
		Store:      st,
		Forecaster: fc,
		Matcher:    matchSvc,
		Jobs:       jobs,
		Hub:        wsHub,
		Logger:     logger,
	})
	router := api.NewRouter(svc, wsHub, api.RouterOptions{
		CORSOrigins:         cfg.CORS.Origins,
		RegeneratePerMinute: cfg.RateLimit.RegeneratePerMinute,
		RequestTimeout:      cfg.Server.WriteTimeout,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  2 * cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("rebalance-engine listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down rebalance-engine...")
	sched.Stop()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	if err := jobs.Shutdown(ctx); err != nil {
		slog.Error("forecast job did not stop in time", "err", err)
	}
	fmt.Println("rebalance-engine stopped")
}
