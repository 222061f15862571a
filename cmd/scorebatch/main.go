// Command scorebatch runs the scoring batch steps by hand: aggregate, rank
// and finalize single tests, recompute a whole year or period, and inspect
// the current standing of a result.
//
// Every flag can also be set through the environment with the SCOREBATCH_
// prefix, e.g. SCOREBATCH_TEST=t-2026-spring-math. Storage settings come
// from the shared configuration (DATABASE_URL, REDIS_ENABLED, ...).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hirohiroko250/autograder-system/config"
	"github.com/hirohiroko250/autograder-system/internal/bootstrap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(os.Stdout, openRuntime)
	if err := root.ParseAndRun(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "scorebatch: %v\n", err)
		os.Exit(1)
	}
}

// openRuntime loads the configuration and connects to storage.
func openRuntime(ctx context.Context, g globalFlags) (*env, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.configFile != "" {
		cfg, err = config.LoadFile(g.configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Observability.LogLevel = g.logLevel
	}

	log := bootstrap.NewLogger(cfg)
	rt, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	return &env{
		deps:     rt.Dependencies(),
		batch:    rt.BatchConfig(),
		standing: rt.StandingService(),
		close:    rt.Close,
	}, nil
}
