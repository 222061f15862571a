package scoring

import (
	"fmt"
	"time"

	"github.com/hirohiroko250/autograder-system/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFERENCE DATA
// ══════════════════════════════════════════════════════════════════════════════

// RawScore is one student's score for one question group of a test.
// Owned by score entry; read-only here.
type RawScore struct {
	StudentID       string
	TestID          string
	QuestionGroupID string
	Value           int
	Attended        bool

	// GroupMax is the max score of the question group, nil when unknown.
	GroupMax *int
}

// Test describes a scheduled scholastic test.
type Test struct {
	ID       string
	Year     int
	Period   Period
	Subject  Subject
	MaxScore int

	// Deadline is nil when no deadline is configured.
	Deadline *time.Time
}

// Attributes are the student properties partitions are computed from.
type Attributes struct {
	Grade          Grade
	OrganizationID string
	Category       string
}

// Validate checks the attributes needed for ranking.
func (a Attributes) Validate() error {
	if !a.Grade.IsValid() {
		return shared.ErrInvalidGrade
	}
	return nil
}

// Partition identifies one concrete group of students, e.g. grade 5 of
// organization "org-1".
type Partition struct {
	Type PartitionType
	Key  string
}

// PartitionOf returns the partition a student with the given attributes
// belongs to for a partition type. ok is false when the student cannot be
// placed, e.g. an empty category.
func PartitionOf(t PartitionType, a Attributes) (Partition, bool) {
	switch t {
	case PartitionNational:
		return Partition{Type: t, Key: "all"}, true
	case PartitionGrade:
		return Partition{Type: t, Key: fmt.Sprintf("g%d", a.Grade)}, true
	case PartitionOrganization:
		if a.OrganizationID == "" {
			return Partition{}, false
		}
		return Partition{Type: t, Key: fmt.Sprintf("g%d/%s", a.Grade, a.OrganizationID)}, true
	case PartitionCategory:
		if a.Category == "" {
			return Partition{}, false
		}
		return Partition{Type: t, Key: a.Category}, true
	default:
		return Partition{}, false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKS
// ══════════════════════════════════════════════════════════════════════════════

// RankPair is a 1-based rank together with the size of the partition.
// The zero value means "not ranked".
type RankPair struct {
	Rank  int `json:"rank"`
	Total int `json:"total"`
}

// IsZero reports whether the pair carries no rank.
func (p RankPair) IsZero() bool {
	return p.Rank == 0 && p.Total == 0
}

// IsValid reports whether 1 <= rank <= total.
func (p RankPair) IsValid() bool {
	return p.Rank >= 1 && p.Rank <= p.Total
}

// RankSet holds one RankPair per partition type.
type RankSet struct {
	National     RankPair `json:"national"`
	Grade        RankPair `json:"grade"`
	Organization RankPair `json:"organization"`
	Category     RankPair `json:"category"`
}

// Get returns the pair for a partition type; ok is false when unranked.
func (s RankSet) Get(t PartitionType) (RankPair, bool) {
	var p RankPair
	switch t {
	case PartitionNational:
		p = s.National
	case PartitionGrade:
		p = s.Grade
	case PartitionOrganization:
		p = s.Organization
	case PartitionCategory:
		p = s.Category
	default:
		return RankPair{}, false
	}
	return p, !p.IsZero()
}

// Set stores the pair for a partition type.
func (s *RankSet) Set(t PartitionType, p RankPair) {
	switch t {
	case PartitionNational:
		s.National = p
	case PartitionGrade:
		s.Grade = p
	case PartitionOrganization:
		s.Organization = p
	case PartitionCategory:
		s.Category = p
	}
}

// IsZero reports whether no partition is ranked.
func (s RankSet) IsZero() bool {
	return s == RankSet{}
}

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATE RESULT
// ══════════════════════════════════════════════════════════════════════════════

// AggregateResult is the finalized record of one (student, test) pair.
type AggregateResult struct {
	StudentID string
	TestID    string

	TotalScore      int
	CorrectnessRate float64
	QuestionCount   int

	Temporary RankSet
	Final     RankSet

	// Deviation is the grade-level deviation score; nil until ranked.
	Deviation *float64

	IsRankFinalized bool
	FinalizedAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Key returns the unique key of the result.
func (r *AggregateResult) Key() string {
	return r.StudentID + "/" + r.TestID
}

// Phase returns the lifecycle phase of the result.
func (r *AggregateResult) Phase() Phase {
	if r.IsRankFinalized {
		return PhaseFinal
	}
	return PhaseTemporary
}

// CurrentRanks returns the authoritative ranks: final when finalized,
// temporary otherwise.
func (r *AggregateResult) CurrentRanks() RankSet {
	if r.IsRankFinalized {
		return r.Final
	}
	return r.Temporary
}

// CurrentRank returns the authoritative rank for a partition type.
func (r *AggregateResult) CurrentRank(t PartitionType) (RankPair, bool) {
	return r.CurrentRanks().Get(t)
}

// Clone returns a deep copy.
func (r *AggregateResult) Clone() *AggregateResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.Deviation != nil {
		d := *r.Deviation
		c.Deviation = &d
	}
	if r.FinalizedAt != nil {
		t := *r.FinalizedAt
		c.FinalizedAt = &t
	}
	return &c
}

// String returns a short representation for logging.
func (r *AggregateResult) String() string {
	return fmt.Sprintf("Result{%s, total: %d, phase: %s}", r.Key(), r.TotalScore, r.Phase())
}
