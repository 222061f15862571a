package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/hirohiroko250/autograder-system/internal/application/command"
	"github.com/hirohiroko250/autograder-system/internal/application/query"
	"github.com/hirohiroko250/autograder-system/internal/domain/scoring"
)

const envPrefix = "SCOREBATCH"

// env is what a subcommand runs against.
type env struct {
	deps     command.Dependencies
	batch    command.BatchConfig
	standing *query.StandingService
	close    func()
}

type openFunc func(ctx context.Context, g globalFlags) (*env, error)

type globalFlags struct {
	configFile string
	logLevel   string
}

// cli carries the shared state of all subcommands.
type cli struct {
	out    io.Writer
	open   openFunc
	global globalFlags
}

func newRootCommand(out io.Writer, open openFunc) *ffcli.Command {
	c := &cli{out: out, open: open}

	fs := flag.NewFlagSet("scorebatch", flag.ContinueOnError)
	fs.StringVar(&c.global.configFile, "config", "", "YAML configuration file (optional)")
	fs.StringVar(&c.global.logLevel, "log-level", "", "override the configured log level")

	return &ffcli.Command{
		Name:       "scorebatch",
		ShortUsage: "scorebatch [-config file] <subcommand> [flags]",
		ShortHelp:  "Aggregate, rank and finalize scholastic test results.",
		FlagSet:    fs,
		Options:    []ff.Option{ff.WithEnvVarPrefix(envPrefix)},
		Subcommands: []*ffcli.Command{
			c.aggregateCommand(),
			c.rankCommand(),
			c.finalizeCommand(),
			c.runCommand(),
			c.absentCommand(),
			c.standingCommand(),
		},
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Subcommands
// ─────────────────────────────────────────────────────────────────────────────

func (c *cli) aggregateCommand() *ffcli.Command {
	fs := flag.NewFlagSet("scorebatch aggregate", flag.ContinueOnError)
	testID := fs.String("test", "", "test ID (required)")
	runID := fs.String("run-id", "", "run ID to tag the summary with")

	return &ffcli.Command{
		Name:       "aggregate",
		ShortUsage: "scorebatch aggregate -test <id>",
		ShortHelp:  "Recompute total scores and correctness rates of one test.",
		FlagSet:    fs,
		Options:    []ff.Option{ff.WithEnvVarPrefix(envPrefix)},
		Exec: func(ctx context.Context, _ []string) error {
			return c.with(ctx, func(e *env) (any, error) {
				h := command.NewRecomputeAggregatesHandler(e.deps, e.batch)
				return h.Handle(ctx, command.RecomputeAggregatesCommand{TestID: *testID, RunID: *runID})
			})
		},
	}
}

func (c *cli) rankCommand() *ffcli.Command {
	fs := flag.NewFlagSet("scorebatch rank", flag.ContinueOnError)
	testID := fs.String("test", "", "test ID (required)")
	mode := fs.String("mode", "auto", "auto, force_final or force_temporary")
	runID := fs.String("run-id", "", "run ID to tag the summary with")

	return &ffcli.Command{
		Name:       "rank",
		ShortUsage: "scorebatch rank -test <id> [-mode auto|force_final|force_temporary]",
		ShortHelp:  "Recompute ranks and deviation scores of one test.",
		FlagSet:    fs,
		Options:    []ff.Option{ff.WithEnvVarPrefix(envPrefix)},
		Exec: func(ctx context.Context, _ []string) error {
			m, err := scoring.ParseMode(*mode)
			if err != nil {
				return err
			}
			return c.with(ctx, func(e *env) (any, error) {
				h := command.NewRecomputeRanksHandler(e.deps, e.batch)
				return h.Handle(ctx, command.RecomputeRanksCommand{TestID: *testID, Mode: m, RunID: *runID})
			})
		},
	}
}

func (c *cli) finalizeCommand() *ffcli.Command {
	fs := flag.NewFlagSet("scorebatch finalize", flag.ContinueOnError)
	testID := fs.String("test", "", "test ID (required)")
	force := fs.Bool("force", false, "finalize even if the deadline has not passed")
	runID := fs.String("run-id", "", "run ID to tag the summary with")

	return &ffcli.Command{
		Name:       "finalize",
		ShortUsage: "scorebatch finalize -test <id> [-force]",
		ShortHelp:  "Write final ranks of one test once its deadline has passed.",
		FlagSet:    fs,
		Options:    []ff.Option{ff.WithEnvVarPrefix(envPrefix)},
		Exec: func(ctx context.Context, _ []string) error {
			return c.with(ctx, func(e *env) (any, error) {
				h := command.NewFinalizeHandler(e.deps, e.batch)
				return h.Handle(ctx, command.FinalizeCommand{TestID: *testID, Force: *force, RunID: *runID})
			})
		},
	}
}

func (c *cli) runCommand() *ffcli.Command {
	fs := flag.NewFlagSet("scorebatch run", flag.ContinueOnError)
	testID := fs.String("test", "", "single test ID")
	year := fs.Int("year", 0, "academic year of the tests to recompute")
	period := fs.String("period", "", "spring, summer, autumn or winter (optional with -year)")
	mode := fs.String("mode", "auto", "auto, force_final or force_temporary")
	absent := fs.Bool("absent", false, "also count likely-absent results")
	runID := fs.String("run-id", "", "run ID to tag the summaries with")

	return &ffcli.Command{
		Name:       "run",
		ShortUsage: "scorebatch run (-test <id> | -year <yyyy> [-period <p>]) [-mode m] [-absent]",
		ShortHelp:  "Aggregate then rank one test or every test of a year or period.",
		FlagSet:    fs,
		Options:    []ff.Option{ff.WithEnvVarPrefix(envPrefix)},
		Exec: func(ctx context.Context, _ []string) error {
			m, err := scoring.ParseMode(*mode)
			if err != nil {
				return err
			}
			var p scoring.Period
			if *period != "" {
				if p, err = scoring.ParsePeriod(*period); err != nil {
					return err
				}
			}
			return c.with(ctx, func(e *env) (any, error) {
				h := command.NewRecomputeScopeHandler(e.deps, e.batch)
				return h.Handle(ctx, command.RecomputeScopeCommand{
					TestID:      *testID,
					Year:        *year,
					Period:      p,
					Mode:        m,
					CountAbsent: *absent,
					RunID:       *runID,
				})
			})
		},
	}
}

func (c *cli) absentCommand() *ffcli.Command {
	fs := flag.NewFlagSet("scorebatch absent", flag.ContinueOnError)
	testID := fs.String("test", "", "test ID (required)")

	return &ffcli.Command{
		Name:       "absent",
		ShortUsage: "scorebatch absent -test <id>",
		ShortHelp:  "Count results with a zero total, likely absent students.",
		FlagSet:    fs,
		Options:    []ff.Option{ff.WithEnvVarPrefix(envPrefix)},
		Exec: func(ctx context.Context, _ []string) error {
			return c.with(ctx, func(e *env) (any, error) {
				return command.NewLikelyAbsentHandler(e.deps).Handle(ctx, command.LikelyAbsentQuery{TestID: *testID})
			})
		},
	}
}

func (c *cli) standingCommand() *ffcli.Command {
	fs := flag.NewFlagSet("scorebatch standing", flag.ContinueOnError)
	testID := fs.String("test", "", "test ID (required)")
	studentID := fs.String("student", "", "student ID (required)")

	return &ffcli.Command{
		Name:       "standing",
		ShortUsage: "scorebatch standing -test <id> -student <id>",
		ShortHelp:  "Print the current ranks, deviation and finalization state of a result.",
		FlagSet:    fs,
		Options:    []ff.Option{ff.WithEnvVarPrefix(envPrefix)},
		Exec: func(ctx context.Context, _ []string) error {
			return c.with(ctx, func(e *env) (any, error) {
				return e.standing.Standing(ctx, *studentID, *testID)
			})
		},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// with opens the environment, runs fn and prints its result as JSON. A
// partial result is printed even when fn fails.
func (c *cli) with(ctx context.Context, fn func(e *env) (any, error)) error {
	e, err := c.open(ctx, c.global)
	if err != nil {
		return err
	}
	if e.close != nil {
		defer e.close()
	}

	result, runErr := fn(e)
	if !isNil(result) {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return errors.Join(runErr, fmt.Errorf("encode result: %w", err))
		}
	}
	return runErr
}

func isNil(v any) bool {
	switch r := v.(type) {
	case nil:
		return true
	case *command.Summary:
		return r == nil
	case *command.ScopeResult:
		return r == nil
	case *query.StandingView:
		return r == nil
	}
	return false
}
