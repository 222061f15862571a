// Package timeutil provides the clock abstraction and school calendar helpers
// used by the batch engine. Test deadlines and academic years are evaluated in
// a configured timezone, Asia/Tokyo by default.
package timeutil

import (
	"sync"
	"time"
)

// JST is Japan Standard Time (UTC+9, no DST). Used when the tz database is
// not available in the runtime image.
var JST = time.FixedZone("Asia/Tokyo", 9*60*60)

// AcademicYearStartMonth is the month the school year begins in.
const AcademicYearStartMonth = time.April

// ══════════════════════════════════════════════════════════════════════════════
// CLOCK
// ══════════════════════════════════════════════════════════════════════════════

// Clock returns the current time. Batch handlers take a Clock so deadline
// decisions can be tested.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant until moved.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixedClock creates a FixedClock at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

// Now returns the stored instant.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// ══════════════════════════════════════════════════════════════════════════════
// LOCATIONS
// ══════════════════════════════════════════════════════════════════════════════

// LoadLocation loads a named timezone. An empty name returns JST; an unknown
// name falls back to JST for "Asia/Tokyo" and fails otherwise.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return JST, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		if name == JST.String() {
			return JST, nil
		}
		return nil, err
	}
	return loc, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHOOL CALENDAR
// ══════════════════════════════════════════════════════════════════════════════

// AcademicYear returns the school year t belongs to in loc. The year starts
// in April, so 2027-03-31 belongs to 2026.
func AcademicYear(t time.Time, loc *time.Location) int {
	if loc == nil {
		loc = JST
	}
	local := t.In(loc)
	if local.Month() < AcademicYearStartMonth {
		return local.Year() - 1
	}
	return local.Year()
}

// AcademicYearBounds returns the first instant of the school year and the
// first instant of the next one.
func AcademicYearBounds(year int, loc *time.Location) (start, end time.Time) {
	if loc == nil {
		loc = JST
	}
	start = time.Date(year, AcademicYearStartMonth, 1, 0, 0, 0, 0, loc)
	end = start.AddDate(1, 0, 0)
	return start, end
}

// IsPast reports whether deadline is at or before now.
func IsPast(deadline, now time.Time) bool {
	return !now.Before(deadline)
}
