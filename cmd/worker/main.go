// Package main is the entry point of the scoring worker.
//
// The worker periodically recomputes the tests of the current academic
// year: aggregates raw scores, ranks results and finalizes tests whose
// deadline has passed. It also serves health, Prometheus metrics and a
// read-only standing API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hirohiroko250/autograder-system/config"
	"github.com/hirohiroko250/autograder-system/internal/application/command"
	"github.com/hirohiroko250/autograder-system/internal/bootstrap"
	"github.com/hirohiroko250/autograder-system/internal/infrastructure/scheduler"
	"github.com/hirohiroko250/autograder-system/internal/infrastructure/scheduler/jobs"
	ophttp "github.com/hirohiroko250/autograder-system/internal/interface/http"
	"github.com/hirohiroko250/autograder-system/pkg/logger"
	"github.com/hirohiroko250/autograder-system/pkg/timeutil"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION AND LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := bootstrap.NewLogger(cfg)
	log.Info("starting scoring worker",
		slog.String("env", string(cfg.App.Environment)),
		slog.String("timezone", cfg.App.Location.String()),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. STORAGE, CACHE, METRICS
	// ─────────────────────────────────────────────────────────────────────────
	rt, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing connections")
		rt.Close()
	}()

	rt.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. SCHEDULER, OPS SERVER
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{
		Logger:     log,
		Location:   cfg.App.Location,
		RunOnStart: cfg.Scheduler.RunOnStart,
	})
	sched.OnJobComplete(func(r scheduler.JobResult) {
		if !r.Success {
			log.Warn("scheduled run failed, will retry on next interval", slog.String("job", r.JobName))
		}
	})

	if cfg.Scheduler.Enabled {
		scope := command.NewRecomputeScopeHandler(rt.Dependencies(), rt.BatchConfig())
		job := jobs.NewRecomputeScoresJob(scope, timeutil.SystemClock{}, log, jobs.RecomputeScoresConfig{
			CountAbsent: true,
			Location:    cfg.App.Location,
		})
		if err := sched.Register(job, cfg.Scheduler.Interval); err != nil {
			return fmt.Errorf("failed to register job: %w", err)
		}
	} else {
		log.Warn("scheduler disabled, worker only serves metrics")
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	var opsServer *ophttp.Server
	var opsErr <-chan error
	if cfg.Observability.MetricsEnabled {
		opsServer = newOpsServer(cfg, rt, sched, log)
		opsErr = opsServer.StartAsync()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-opsErr:
		if err != nil {
			log.Error("ops server stopped", logger.Err(err))
		}
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown", slog.Duration("timeout", cfg.App.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = sched.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn("scheduler did not stop in time")
	}

	if opsServer != nil {
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("ops server shutdown failed", logger.Err(err))
		}
	}

	log.Info("shutdown completed")
	return nil
}

// newOpsServer serves /healthz, /metrics, the jobs and the standing API.
func newOpsServer(cfg *config.Config, rt *bootstrap.Runtime, sched *scheduler.Scheduler, log *slog.Logger) *ophttp.Server {
	health := ophttp.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("database", ophttp.PingCheck(rt.DB))
	if rt.Cache != nil {
		health.AddOptionalCheck("cache", ophttp.PingCheck(rt.Cache))
	}

	return ophttp.NewServer(ophttp.DefaultConfig(cfg.Observability.MetricsAddr), ophttp.Dependencies{
		Standing: rt.StandingService(),
		Health:   health,
		Jobs:     sched,
		Metrics:  promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{Registry: rt.Registry}),
		Logger:   log,
	})
}
