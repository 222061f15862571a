package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDescribe(t *testing.T) {
	s := Describe([]int{90, 90, 70})

	assert.Equal(t, 3, s.N)
	assert.InDelta(t, 83.33, s.Mean, 0.01)
	assert.InDelta(t, 11.55, s.StdDev, 0.01)
}

func TestDescribe_Degenerate(t *testing.T) {
	assert.Equal(t, Stats{}, Describe(nil))

	single := Describe([]int{42})
	assert.Equal(t, 1, single.N)
	assert.Equal(t, 42.0, single.Mean)
	assert.Zero(t, single.StdDev)
}

func TestDeviation_ThreeStudents(t *testing.T) {
	scores := []int{90, 90, 70}

	assert.Equal(t, 55.77, DeviationScore(90, scores))
	assert.Equal(t, 38.45, DeviationScore(70, scores))
}

func TestDeviation_Fallback(t *testing.T) {
	tests := []struct {
		name   string
		score  int
		scores []int
	}{
		{"empty partition", 10, nil},
		{"singleton partition", 10, []int{10}},
		{"no spread", 75, []int{75, 75, 75, 75}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, 50.0, DeviationScore(tt.score, tt.scores))
		})
	}
}

func TestDeviation_Clamped(t *testing.T) {
	high := make([]int, 100)
	high[0] = 100
	assert.Equal(t, 100.0, DeviationScore(100, high))
	assert.Equal(t, 49.0, DeviationScore(0, high))

	low := make([]int, 100)
	for i := range low {
		low[i] = 99
	}
	low[0] = 0
	assert.Equal(t, 0.0, DeviationScore(0, low))
}

func TestDeviation_AlwaysInRange(t *testing.T) {
	scores := []int{0, 1, 2, 3, 500, 1000, 1000, 7}
	for _, s := range scores {
		d := DeviationScore(s, scores)
		assert.GreaterOrEqual(t, d, 0.0)
		assert.LessOrEqual(t, d, 100.0)
	}
}
