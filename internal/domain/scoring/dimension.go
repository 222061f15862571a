// Package scoring contains the domain model of scholastic test results:
// aggregation of raw scores, competitive ranking inside partitions,
// deviation scores and the temporary → final rank lifecycle.
package scoring

import (
	"strings"

	"github.com/hirohiroko250/autograder-system/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PERIOD
// ══════════════════════════════════════════════════════════════════════════════

// Period is the season of the school year a test belongs to.
type Period int

const (
	PeriodSpring Period = iota + 1
	PeriodSummer
	PeriodAutumn
	PeriodWinter
)

// AllPeriods lists every period in school-year order.
var AllPeriods = []Period{PeriodSpring, PeriodSummer, PeriodAutumn, PeriodWinter}

// String returns the storage code of the period.
func (p Period) String() string {
	switch p {
	case PeriodSpring:
		return "spring"
	case PeriodSummer:
		return "summer"
	case PeriodAutumn:
		return "autumn"
	case PeriodWinter:
		return "winter"
	default:
		return "unknown"
	}
}

// IsValid reports whether p is one of the declared periods.
func (p Period) IsValid() bool {
	return p >= PeriodSpring && p <= PeriodWinter
}

// ParsePeriod parses a storage code into a Period.
func ParsePeriod(s string) (Period, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spring":
		return PeriodSpring, nil
	case "summer":
		return PeriodSummer, nil
	case "autumn", "fall":
		return PeriodAutumn, nil
	case "winter":
		return PeriodWinter, nil
	default:
		return 0, shared.ErrUnknownPeriod
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBJECT
// ══════════════════════════════════════════════════════════════════════════════

// Subject is the subject a test covers.
type Subject int

const (
	SubjectJapanese Subject = iota + 1
	SubjectMath
	SubjectEnglish
	SubjectScience
	SubjectSocial
	SubjectCombined
)

// String returns the storage code of the subject.
func (s Subject) String() string {
	switch s {
	case SubjectJapanese:
		return "japanese"
	case SubjectMath:
		return "math"
	case SubjectEnglish:
		return "english"
	case SubjectScience:
		return "science"
	case SubjectSocial:
		return "social"
	case SubjectCombined:
		return "combined"
	default:
		return "unknown"
	}
}

// ParseSubject parses a storage code into a Subject.
func ParseSubject(s string) (Subject, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "japanese":
		return SubjectJapanese, nil
	case "math":
		return SubjectMath, nil
	case "english":
		return SubjectEnglish, nil
	case "science":
		return SubjectScience, nil
	case "social":
		return SubjectSocial, nil
	case "combined":
		return SubjectCombined, nil
	default:
		return 0, shared.ErrUnknownSubject
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// GRADE
// ══════════════════════════════════════════════════════════════════════════════

// Grade is a school year from 1 (first year of elementary) to 12.
type Grade int

// GradeBand groups grades by school stage.
type GradeBand int

const (
	GradeBandElementary GradeBand = iota + 1
	GradeBandJuniorHigh
	GradeBandHighSchool
)

// String returns the storage code of the band.
func (b GradeBand) String() string {
	switch b {
	case GradeBandElementary:
		return "elementary"
	case GradeBandJuniorHigh:
		return "junior_high"
	case GradeBandHighSchool:
		return "high_school"
	default:
		return "unknown"
	}
}

// Band returns the school stage of the grade.
// Grades outside 1..12 have no band.
func (g Grade) Band() (GradeBand, bool) {
	switch {
	case g >= 1 && g <= 6:
		return GradeBandElementary, true
	case g >= 7 && g <= 9:
		return GradeBandJuniorHigh, true
	case g >= 10 && g <= 12:
		return GradeBandHighSchool, true
	default:
		return 0, false
	}
}

// IsValid reports whether the grade belongs to a band.
func (g Grade) IsValid() bool {
	_, ok := g.Band()
	return ok
}

// ══════════════════════════════════════════════════════════════════════════════
// PARTITION TYPE
// ══════════════════════════════════════════════════════════════════════════════

// PartitionType names a grouping of students inside one test within which
// ranks are computed independently.
type PartitionType int

const (
	// PartitionNational ranks every participant of the test.
	PartitionNational PartitionType = iota + 1
	// PartitionGrade ranks participants of the same grade.
	PartitionGrade
	// PartitionOrganization ranks participants of the same grade and organization.
	PartitionOrganization
	// PartitionCategory ranks participants of the same category.
	PartitionCategory
)

// AllPartitionTypes lists the partition types in the order they are computed.
var AllPartitionTypes = []PartitionType{
	PartitionNational,
	PartitionGrade,
	PartitionOrganization,
	PartitionCategory,
}

// String returns the storage code of the partition type.
func (p PartitionType) String() string {
	switch p {
	case PartitionNational:
		return "national"
	case PartitionGrade:
		return "grade"
	case PartitionOrganization:
		return "organization"
	case PartitionCategory:
		return "category"
	default:
		return "unknown"
	}
}

// ParsePartitionType parses a storage code into a PartitionType.
func ParsePartitionType(s string) (PartitionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "national", "all":
		return PartitionNational, nil
	case "grade":
		return PartitionGrade, nil
	case "organization", "org":
		return PartitionOrganization, nil
	case "category":
		return PartitionCategory, nil
	default:
		return 0, shared.ErrUnknownPartition
	}
}
