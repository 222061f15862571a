package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAcademicYear(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want int
	}{
		{"april first", time.Date(2026, 4, 1, 0, 0, 0, 0, JST), 2026},
		{"march end", time.Date(2027, 3, 31, 23, 59, 0, 0, JST), 2026},
		{"december", time.Date(2026, 12, 15, 0, 0, 0, 0, JST), 2026},
		// 2026-03-31 16:00 UTC is already April 1st in Tokyo
		{"utc instant crossing into april", time.Date(2026, 3, 31, 16, 0, 0, 0, time.UTC), 2026},
		{"utc instant still march", time.Date(2026, 3, 31, 14, 0, 0, 0, time.UTC), 2025},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AcademicYear(tt.at, JST))
		})
	}
}

func TestAcademicYearBounds(t *testing.T) {
	start, end := AcademicYearBounds(2026, JST)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, JST), start)
	assert.Equal(t, time.Date(2027, 4, 1, 0, 0, 0, 0, JST), end)
}

func TestFixedClock(t *testing.T) {
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	c := NewFixedClock(at)
	assert.Equal(t, at, c.Now())

	c.Advance(time.Hour)
	assert.Equal(t, at.Add(time.Hour), c.Now())
}

func TestIsPast(t *testing.T) {
	d := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, IsPast(d, d))
	assert.True(t, IsPast(d, d.Add(time.Second)))
	assert.False(t, IsPast(d, d.Add(-time.Second)))
}

func TestLoadLocation_Empty(t *testing.T) {
	loc, err := LoadLocation("")
	assert.NoError(t, err)
	assert.Equal(t, JST, loc)

	_, err = LoadLocation("Not/AZone")
	assert.Error(t, err)
}
