package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirohiroko250/autograder-system/internal/domain/shared"
)

func TestCorrectnessRate(t *testing.T) {
	tests := []struct {
		name     string
		total    int
		maxScore int
		want     float64
	}{
		{"full marks", 100, 100, 100},
		{"rounded to two decimals", 2, 3, 66.67},
		{"zero total", 0, 50, 0},
		{"zero max score", 40, 0, 0},
		{"negative max score", 40, -10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CorrectnessRate(tt.total, tt.maxScore))
		})
	}
}

func TestAggregate_SumsAttendedScores(t *testing.T) {
	scores := []RawScore{
		{StudentID: "s2", QuestionGroupID: "q1", Value: 30, Attended: true},
		{StudentID: "s1", QuestionGroupID: "q1", Value: 40, Attended: true},
		{StudentID: "s1", QuestionGroupID: "q2", Value: 25, Attended: true},
		{StudentID: "s1", QuestionGroupID: "q3", Value: 10, Attended: false},
		{StudentID: "s2", QuestionGroupID: "q2", Value: -1, Attended: true},
		{StudentID: "s3", QuestionGroupID: "q1", Value: 50, Attended: false},
	}

	totals, rejected := Aggregate(scores, 100)

	assert.Empty(t, rejected)
	require.Len(t, totals, 2)
	assert.Equal(t, Total{StudentID: "s1", TotalScore: 65, QuestionCount: 2, CorrectnessRate: 65}, totals[0])
	assert.Equal(t, Total{StudentID: "s2", TotalScore: 30, QuestionCount: 1, CorrectnessRate: 30}, totals[1])
}

func TestAggregate_ZeroScoresStillCount(t *testing.T) {
	totals, _ := Aggregate([]RawScore{
		{StudentID: "s1", QuestionGroupID: "q1", Value: 0, Attended: true},
	}, 100)

	require.Len(t, totals, 1)
	assert.Equal(t, 0, totals[0].TotalScore)
	assert.Equal(t, 1, totals[0].QuestionCount)
}

func TestAggregate_Empty(t *testing.T) {
	totals, rejected := Aggregate(nil, 100)
	assert.Empty(t, totals)
	assert.Empty(t, rejected)
}

func TestAggregate_RejectsScoreAboveGroupMax(t *testing.T) {
	ten, twenty := 10, 20
	scores := []RawScore{
		{StudentID: "s2", QuestionGroupID: "q1", Value: 11, Attended: true, GroupMax: &ten},
		{StudentID: "s2", QuestionGroupID: "q2", Value: 5, Attended: true, GroupMax: &twenty},
		{StudentID: "s2", QuestionGroupID: "q3", Value: 99, Attended: true, GroupMax: &twenty},
		{StudentID: "s1", QuestionGroupID: "q1", Value: 10, Attended: true, GroupMax: &ten},
		{StudentID: "s1", QuestionGroupID: "q2", Value: 20, Attended: true, GroupMax: &twenty},
		{StudentID: "s3", QuestionGroupID: "q1", Value: 50, Attended: false, GroupMax: &ten},
		{StudentID: "s4", QuestionGroupID: "q1", Value: 70},
	}

	totals, rejected := Aggregate(scores, 30)

	require.Len(t, rejected, 1)
	assert.Equal(t, "s2", rejected[0].StudentID)
	assert.ErrorIs(t, rejected[0].Err, shared.ErrScoreAboveGroupMax)
	assert.True(t, shared.IsValidation(rejected[0].Err))

	require.Len(t, totals, 1)
	assert.Equal(t, Total{StudentID: "s1", TotalScore: 30, QuestionCount: 2, CorrectnessRate: 100}, totals[0])
}

func TestPlanTotal(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	total := Total{StudentID: "s1", TotalScore: 80, QuestionCount: 4, CorrectnessRate: 80}

	t.Run("creates missing result", func(t *testing.T) {
		next, outcome := PlanTotal("t1", nil, total, now)
		require.NotNil(t, next)
		assert.Equal(t, Created, outcome)
		assert.Equal(t, "s1/t1", next.Key())
		assert.Equal(t, 80, next.TotalScore)
		assert.Equal(t, PhaseTemporary, next.Phase())
		assert.Equal(t, now, next.CreatedAt)
	})

	t.Run("leaves equal result untouched", func(t *testing.T) {
		existing := &AggregateResult{StudentID: "s1", TestID: "t1", TotalScore: 80, QuestionCount: 4, CorrectnessRate: 80}
		next, outcome := PlanTotal("t1", existing, total, now)
		assert.Nil(t, next)
		assert.Equal(t, Unchanged, outcome)
	})

	t.Run("updates changed total and keeps ranks", func(t *testing.T) {
		dev := 55.5
		existing := &AggregateResult{
			StudentID:       "s1",
			TestID:          "t1",
			TotalScore:      70,
			QuestionCount:   4,
			CorrectnessRate: 70,
			Temporary:       RankSet{National: RankPair{Rank: 2, Total: 5}},
			Deviation:       &dev,
		}
		next, outcome := PlanTotal("t1", existing, total, now)
		require.NotNil(t, next)
		assert.Equal(t, Updated, outcome)
		assert.Equal(t, 80, next.TotalScore)
		assert.Equal(t, RankPair{Rank: 2, Total: 5}, next.Temporary.National)
		assert.Equal(t, 70, existing.TotalScore, "existing must not be mutated")
	})
}

func TestUpsertOutcome_String(t *testing.T) {
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "updated", Updated.String())
	assert.Equal(t, "unchanged", Unchanged.String())
}
