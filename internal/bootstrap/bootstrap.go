// Package bootstrap wires configuration into the storage, cache and
// observability components shared by the worker and the CLI.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/hirohiroko250/autograder-system/config"
	"github.com/hirohiroko250/autograder-system/internal/application/command"
	"github.com/hirohiroko250/autograder-system/internal/application/query"
	"github.com/hirohiroko250/autograder-system/internal/infrastructure/metrics"
	"github.com/hirohiroko250/autograder-system/internal/infrastructure/persistence/postgres"
	"github.com/hirohiroko250/autograder-system/internal/infrastructure/persistence/redis"
	"github.com/hirohiroko250/autograder-system/pkg/logger"
	"github.com/hirohiroko250/autograder-system/pkg/timeutil"
)

// Runtime holds the live components of a process.
type Runtime struct {
	Config *config.Config
	Logger *slog.Logger

	DB       *postgres.Connection
	Scores   *postgres.ScoreStore
	Results  *postgres.ResultRepository
	Cache    *redis.StandingCache // nil when Redis is disabled or unreachable
	Metrics  *metrics.PrometheusMetrics
	Registry *prometheus.Registry

	closers []func()
}

// NewLogger builds the process logger from the observability settings.
func NewLogger(cfg *config.Config) *slog.Logger {
	opts := logger.DefaultOptions()
	opts.Level = cfg.Observability.LogLevel
	opts.Format = logger.Format(cfg.Observability.LogFormat)
	opts.AddSource = cfg.IsDevelopment() && cfg.Observability.LogLevel == "debug"

	log := logger.New(opts).With(
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
	)
	slog.SetDefault(log)
	return log
}

// Open connects to PostgreSQL, runs migrations when enabled and connects
// to Redis when enabled. A Redis failure only disables the cache.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: log}

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	pgCfg := postgres.DefaultConfig(cfg.Database.URL)
	pgCfg.MaxConns = cfg.Database.MaxConns
	pgCfg.MinConns = cfg.Database.MinConns
	pgCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	pgCfg.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	log.Info("connecting to database")
	db, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	rt.DB = db
	rt.closers = append(rt.closers, db.Close)

	if cfg.Database.AutoMigrate {
		n, err := postgres.NewMigrator(db).Migrate(ctx)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date", slog.Int("applied", n))
	}

	rt.Scores = postgres.NewScoreStore(db)
	rt.Results = postgres.NewResultRepository(db)

	if cfg.Redis.Enabled {
		rcfg := redis.DefaultConfig()
		rcfg.Host = cfg.Redis.Host
		rcfg.Port = cfg.Redis.Port
		rcfg.Password = cfg.Redis.Password
		rcfg.DB = cfg.Redis.DB
		rcfg.PoolSize = cfg.Redis.PoolSize
		rcfg.DialTimeout = cfg.Redis.DialTimeout
		rcfg.ReadTimeout = cfg.Redis.ReadTimeout
		rcfg.WriteTimeout = cfg.Redis.WriteTimeout

		cache, err := redis.NewCache(ctx, rcfg)
		if err != nil {
			log.Warn("failed to connect to Redis, standing cache disabled", logger.Err(err))
		} else {
			rt.Cache = redis.NewStandingCache(cache, cfg.Redis.StandingTTL)
			rt.closers = append(rt.closers, func() { _ = cache.Close() })
			log.Info("standing cache enabled", slog.String("addr", rcfg.Addr()))
		}
	}

	rt.Registry = prometheus.NewRegistry()
	rt.Metrics = metrics.NewPrometheusMetrics(rt.Registry)

	return rt, nil
}

// Dependencies returns the batch handler dependencies.
func (rt *Runtime) Dependencies() command.Dependencies {
	deps := command.Dependencies{
		Scores:  rt.Scores,
		Results: rt.Results,
		Metrics: rt.Metrics,
		Clock:   timeutil.SystemClock{},
		Logger:  rt.Logger,
		Tracer:  rt.tracer(),
	}
	if rt.Cache != nil {
		deps.Cache = rt.Cache
	}
	return deps
}

// BatchConfig returns the chunking and retry settings.
func (rt *Runtime) BatchConfig() command.BatchConfig {
	return command.BatchConfig{
		ChunkSize:   rt.Config.Batch.ChunkSize,
		MaxRetries:  rt.Config.Batch.MaxRetries,
		BackoffStep: rt.Config.Batch.RetryBackoffStep,
		StepTimeout: rt.Config.Batch.StepTimeout,
	}
}

// StandingService returns the read-side service over the same stores.
func (rt *Runtime) StandingService() *query.StandingService {
	var cache query.StandingCache
	if rt.Cache != nil {
		cache = rt.Cache
	}
	return query.NewStandingService(rt.Results, cache, query.StandingServiceConfig{Logger: rt.Logger})
}

// Close releases every opened component in reverse order.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func (rt *Runtime) tracer() trace.Tracer {
	if rt.Config.Observability.TracingEnabled {
		return otel.Tracer("github.com/hirohiroko250/autograder-system")
	}
	return noop.NewTracerProvider().Tracer("")
}
