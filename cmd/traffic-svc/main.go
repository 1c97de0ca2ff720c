package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"urbansim/internal/providers"
	"urbansim/internal/repository"
	"urbansim/internal/server"
	"urbansim/internal/service"
	"urbansim/migrations"
	"urbansim/pkg/cache"
	"urbansim/pkg/config"
	"urbansim/pkg/database"
	"urbansim/pkg/logger"
	"urbansim/pkg/metrics"
	"urbansim/pkg/ratelimit"
	"urbansim/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.InitWithConfig(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Телеметрия
	if cfg.Tracing.Enabled {
		tp, err := telemetry.Init(ctx, telemetry.Config{
			Enabled:     cfg.Tracing.Enabled,
			Endpoint:    cfg.Tracing.Endpoint,
			ServiceName: cfg.Tracing.ServiceName,
			Version:     cfg.App.Version,
			Environment: cfg.App.Environment,
			SampleRate:  cfg.Tracing.SampleRate,
		})
		if err != nil {
			logger.Warn("Failed to init telemetry", "error", err)
		} else {
			defer func() {
				if err := tp.Shutdown(context.Background()); err != nil {
					logger.Warn("Failed to shutdown telemetry", "error", err)
				}
			}()
			logger.Info("Telemetry initialized", "endpoint", cfg.Tracing.Endpoint)
		}
	}

	// Метрики
	m := metrics.InitMetrics(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)
	m.SetServiceInfo(cfg.App.Version, cfg.App.Environment)
	prometheus.MustRegister(metrics.NewRuntimeCollector(cfg.Metrics.Namespace, cfg.Metrics.Subsystem))

	// База данных: postgres опционален, по умолчанию всё в памяти
	var db database.DB
	if cfg.Database.Driver == "postgres" {
		pg, err := database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			logger.Fatal("failed to connect to database", "error", err)
		}
		defer pg.Close()

		if err := database.RunMigrations(ctx, pg.Pool(), &cfg.Database, migrations.FS, migrations.Dir); err != nil {
			logger.Fatal("failed to run migrations", "error", err)
		}
		db = pg
	}

	// Кэш дорожной сети
	roadCache := cache.MustNew(cache.FromConfig(&cfg.Cache))
	defer func() {
		if err := roadCache.Close(); err != nil {
			logger.Warn("failed to close cache", "error", err)
		}
	}()

	// Rate limiter
	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter, err = ratelimit.New(ratelimit.FromConfig(&cfg.RateLimit))
		if err != nil {
			logger.Fatal("failed to create rate limiter", "error", err)
		}
		defer func() {
			if err := limiter.Close(); err != nil {
				logger.Warn("failed to close rate limiter", "error", err)
			}
		}()
	}

	// Слои сервиса
	repos := repository.New(&cfg.Database, db)

	svc := service.New(cfg,
		providers.NewOverpassProvider(cfg.Providers, roadCache),
		providers.NewTrafficProvider(cfg.Providers),
		providers.NewPopulationProvider(cfg.Providers),
		repos.Results,
	)

	srv := server.New(cfg, server.NewHandlers(cfg, repos, svc), limiter)

	logger.Info("Starting traffic service",
		"port", cfg.HTTP.Port,
		"database", cfg.Database.Driver,
		"cache", cfg.Cache.Driver,
		"environment", cfg.App.Environment,
		"version", cfg.App.Version,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			logger.Info("Metrics server listening", "port", cfg.Metrics.Port)
			return metrics.StartMetricsServer(cfg.Metrics.Port)
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server failed", "error", err)
	}

	logger.Info("Service stopped")
}
