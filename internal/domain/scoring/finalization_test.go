package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirohiroko250/autograder-system/internal/domain/shared"
)

func TestDecide(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name     string
		mode     Mode
		deadline *time.Time
		want     Phase
		reason   string
	}{
		{"auto before deadline", ModeAuto, &future, PhaseTemporary, ReasonBeforeDeadline},
		{"auto after deadline", ModeAuto, &past, PhaseFinal, ReasonDeadlinePassed},
		{"auto at deadline", ModeAuto, &now, PhaseFinal, ReasonDeadlinePassed},
		{"auto without deadline", ModeAuto, nil, PhaseTemporary, ReasonNoDeadline},
		{"force final before deadline", ModeForceFinal, &future, PhaseFinal, ReasonForcedFinal},
		{"force final without deadline", ModeForceFinal, nil, PhaseFinal, ReasonForcedFinal},
		{"force temporary after deadline", ModeForceTemporary, &past, PhaseTemporary, ReasonForcedTemporary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.mode, tt.deadline, now)
			assert.Equal(t, tt.want, d.Phase)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestDecide_MissingDeadlineCause(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	d := Decide(ModeAuto, nil, now)
	assert.ErrorIs(t, d.Cause, shared.ErrDeadlineMissing)
	assert.True(t, shared.IsMissingReference(d.Cause))
	assert.Contains(t, d.Reason, shared.ErrDeadlineMissing.Message)

	assert.NoError(t, Decide(ModeForceFinal, nil, now).Cause)
	assert.NoError(t, Decide(ModeAuto, &now, now).Cause)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("force_final")
	require.NoError(t, err)
	assert.Equal(t, ModeForceFinal, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeAuto, m)

	_, err = ParseMode("sometimes")
	assert.Error(t, err)
}

func TestApplyStanding(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	ranks := RankSet{
		National: RankPair{Rank: 1, Total: 3},
		Grade:    RankPair{Rank: 1, Total: 3},
	}
	standing := Standing{Ranks: ranks, Deviation: 55.77}
	temporary := Decision{Phase: PhaseTemporary}
	final := Decision{Phase: PhaseFinal}

	t.Run("temporary pass writes temporary fields", func(t *testing.T) {
		r := &AggregateResult{StudentID: "s1", TestID: "t1", TotalScore: 90}
		next := ApplyStanding(r, standing, temporary, ModeAuto, now)
		require.NotNil(t, next)
		assert.Equal(t, ranks, next.Temporary)
		assert.True(t, next.Final.IsZero())
		assert.False(t, next.IsRankFinalized)
		require.NotNil(t, next.Deviation)
		assert.Equal(t, 55.77, *next.Deviation)
		assert.Equal(t, ranks, next.CurrentRanks())
	})

	t.Run("final pass finalizes", func(t *testing.T) {
		old := RankSet{National: RankPair{Rank: 2, Total: 3}}
		r := &AggregateResult{StudentID: "s1", TestID: "t1", Temporary: old}
		next := ApplyStanding(r, standing, final, ModeForceFinal, now)
		require.NotNil(t, next)
		assert.True(t, next.IsRankFinalized)
		assert.Equal(t, PhaseFinal, next.Phase())
		assert.Equal(t, ranks, next.Final)
		assert.Equal(t, ranks, next.CurrentRanks())
		require.NotNil(t, next.FinalizedAt)
		assert.Equal(t, now, *next.FinalizedAt)
	})

	t.Run("unchanged values produce no write", func(t *testing.T) {
		dev := 55.77
		at := now.Add(-time.Hour)
		r := &AggregateResult{Final: ranks, Deviation: &dev, IsRankFinalized: true, FinalizedAt: &at}
		assert.Nil(t, ApplyStanding(r, standing, final, ModeAuto, now))

		tmp := &AggregateResult{Temporary: ranks, Deviation: &dev}
		assert.Nil(t, ApplyStanding(tmp, standing, temporary, ModeAuto, now))
	})

	t.Run("refinalize overwrites final snapshot", func(t *testing.T) {
		dev := 40.0
		at := now.Add(-time.Hour)
		r := &AggregateResult{
			Final:           RankSet{National: RankPair{Rank: 3, Total: 3}},
			Deviation:       &dev,
			IsRankFinalized: true,
			FinalizedAt:     &at,
		}
		next := ApplyStanding(r, standing, final, ModeForceFinal, now)
		require.NotNil(t, next)
		assert.Equal(t, ranks, next.Final)
		assert.Equal(t, now, *next.FinalizedAt)
	})

	t.Run("auto temporary pass keeps final snapshot", func(t *testing.T) {
		at := now.Add(-time.Hour)
		old := RankSet{National: RankPair{Rank: 2, Total: 2}}
		r := &AggregateResult{Final: old, IsRankFinalized: true, FinalizedAt: &at}
		next := ApplyStanding(r, standing, temporary, ModeAuto, now)
		require.NotNil(t, next)
		assert.True(t, next.IsRankFinalized)
		assert.Equal(t, old, next.Final)
		assert.Equal(t, ranks, next.Temporary)
	})

	t.Run("forced temporary reopens result", func(t *testing.T) {
		at := now.Add(-time.Hour)
		r := &AggregateResult{Final: ranks, IsRankFinalized: true, FinalizedAt: &at}
		next := ApplyStanding(r, standing, Decision{Phase: PhaseTemporary}, ModeForceTemporary, now)
		require.NotNil(t, next)
		assert.False(t, next.IsRankFinalized)
		assert.Nil(t, next.FinalizedAt)
		assert.True(t, next.Final.IsZero())
		assert.Equal(t, ranks, next.CurrentRanks())
	})

	t.Run("nil result", func(t *testing.T) {
		assert.Nil(t, ApplyStanding(nil, standing, final, ModeAuto, now))
	})
}
