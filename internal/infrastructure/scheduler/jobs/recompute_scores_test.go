package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirohiroko250/autograder-system/internal/application/command"
	"github.com/hirohiroko250/autograder-system/internal/domain/scoring"
	"github.com/hirohiroko250/autograder-system/pkg/logger"
	"github.com/hirohiroko250/autograder-system/pkg/timeutil"
)

type fakeRunner struct {
	got    []command.RecomputeScopeCommand
	result *command.ScopeResult
	err    error
}

func (f *fakeRunner) Handle(_ context.Context, cmd command.RecomputeScopeCommand) (*command.ScopeResult, error) {
	f.got = append(f.got, cmd)
	return f.result, f.err
}

func TestRecomputeScoresJob_UsesAcademicYear(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"after april", time.Date(2026, 6, 1, 9, 0, 0, 0, timeutil.JST), 2026},
		{"before april", time.Date(2027, 2, 10, 9, 0, 0, 0, timeutil.JST), 2026},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{result: &command.ScopeResult{RunID: "r1"}}
			job := NewRecomputeScoresJob(runner, timeutil.NewFixedClock(tt.now), logger.Discard(),
				RecomputeScoresConfig{Period: scoring.PeriodSummer, CountAbsent: true})

			require.NoError(t, job.Run(context.Background()))
			require.Len(t, runner.got, 1)
			assert.Equal(t, tt.want, runner.got[0].Year)
			assert.Equal(t, scoring.PeriodSummer, runner.got[0].Period)
			assert.Equal(t, scoring.ModeAuto, runner.got[0].Mode)
			assert.True(t, runner.got[0].CountAbsent)
			assert.Equal(t, "r1", job.LastResult().RunID)
		})
	}
}

func TestRecomputeScoresJob_KeepsPartialResultOnError(t *testing.T) {
	boom := errors.New("db down")
	runner := &fakeRunner{
		result: &command.ScopeResult{RunID: "r2", Tests: []command.TestRun{{TestID: "t1"}}},
		err:    boom,
	}
	job := NewRecomputeScoresJob(runner, timeutil.NewFixedClock(time.Date(2026, 5, 1, 0, 0, 0, 0, timeutil.JST)), logger.Discard(), RecomputeScoresConfig{})

	err := job.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, job.LastResult())
	assert.Len(t, job.LastResult().Tests, 1)
}

func TestRecomputeScoresJob_Metadata(t *testing.T) {
	job := NewRecomputeScoresJob(&fakeRunner{}, nil, nil, RecomputeScoresConfig{})
	assert.Equal(t, "recompute_scores", job.Name())
	assert.NotEmpty(t, job.Description())
	assert.Nil(t, job.LastResult())
}
