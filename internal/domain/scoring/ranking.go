package scoring

import (
	"errors"
	"sort"
)

var (
	// ErrDuplicateMember - the student is already part of the ranking.
	ErrDuplicateMember = errors.New("student already exists in ranking")

	// ErrEmptyStudentID - a member without student ID.
	ErrEmptyStudentID = errors.New("invalid student id: cannot be empty")
)

// ══════════════════════════════════════════════════════════════════════════════
// RANKING
// ══════════════════════════════════════════════════════════════════════════════

// Member is one participant of a partition.
type Member struct {
	StudentID string
	Score     int
}

// RankedMember is a member with its competition rank.
type RankedMember struct {
	Member
	Rank int
}

// Ranking is the ordered list of members of one partition.
type Ranking struct {
	entries []*RankedMember
	byID    map[string]*RankedMember
	sorted  bool
}

// NewRanking creates an empty Ranking.
func NewRanking() *Ranking {
	return &Ranking{
		entries: make([]*RankedMember, 0),
		byID:    make(map[string]*RankedMember),
	}
}

// Add appends a member without sorting.
func (r *Ranking) Add(m Member) error {
	if m.StudentID == "" {
		return ErrEmptyStudentID
	}
	if _, exists := r.byID[m.StudentID]; exists {
		return ErrDuplicateMember
	}

	e := &RankedMember{Member: m}
	r.entries = append(r.entries, e)
	r.byID[m.StudentID] = e
	r.sorted = false
	return nil
}

// SortByScore orders members by score descending and assigns competition
// ranks ("1224"): equal scores share a rank and the next lower score takes
// the rank equal to its 1-based position.
func (r *Ranking) SortByScore() {
	sort.SliceStable(r.entries, func(i, j int) bool {
		if r.entries[i].Score != r.entries[j].Score {
			return r.entries[i].Score > r.entries[j].Score
		}
		// Deterministic order for ties; ranks are unaffected.
		return r.entries[i].StudentID < r.entries[j].StudentID
	})

	currentRank := 1
	for i, e := range r.entries {
		position := i + 1
		if i > 0 && e.Score < r.entries[i-1].Score {
			currentRank = position
		}
		e.Rank = currentRank
	}
	r.sorted = true
}

// Get returns the rank pair of a student. ok is false for non-members.
func (r *Ranking) Get(studentID string) (RankPair, bool) {
	if !r.sorted {
		r.SortByScore()
	}
	e, ok := r.byID[studentID]
	if !ok {
		return RankPair{}, false
	}
	return RankPair{Rank: e.Rank, Total: len(r.entries)}, true
}

// Count returns the number of members.
func (r *Ranking) Count() int {
	return len(r.entries)
}

// All returns the members in rank order.
func (r *Ranking) All() []RankedMember {
	if !r.sorted {
		r.SortByScore()
	}
	out := make([]RankedMember, len(r.entries))
	for i, e := range r.entries {
		out[i] = *e
	}
	return out
}

// Scores returns the member scores in rank order.
func (r *Ranking) Scores() []int {
	out := make([]int, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Score
	}
	return out
}

// RankMembers ranks one partition. An empty input yields no output.
// Members without ID and repeated IDs are rejected; a repeated student keeps
// its first score.
func RankMembers(members []Member) ([]RankedMember, []Rejection) {
	if len(members) == 0 {
		return nil, nil
	}
	ranking := NewRanking()
	var rejected []Rejection
	for _, m := range members {
		if err := ranking.Add(m); err != nil {
			rejected = append(rejected, Rejection{StudentID: m.StudentID, Err: err})
		}
	}
	ranking.SortByScore()
	return ranking.All(), rejected
}

// ══════════════════════════════════════════════════════════════════════════════
// STANDINGS
// ══════════════════════════════════════════════════════════════════════════════

// Entry is an aggregated result joined with the student's attributes.
type Entry struct {
	StudentID  string
	Score      int
	Attributes Attributes
}

// Standing is everything computed for one student across partitions.
type Standing struct {
	Ranks     RankSet
	Deviation float64
}

// ComputeStandings ranks every entry within each partition type and computes
// the grade-level deviation. Partitions are independent of each other.
// Entries a ranking refuses are reported once each.
func ComputeStandings(entries []Entry) (map[string]Standing, []Rejection) {
	out := make(map[string]Standing, len(entries))
	if len(entries) == 0 {
		return out, nil
	}

	var rejected []Rejection
	refused := make(map[int]bool)
	for _, pt := range AllPartitionTypes {
		groups := make(map[Partition]*Ranking)
		for i, e := range entries {
			p, ok := PartitionOf(pt, e.Attributes)
			if !ok {
				continue
			}
			g, exists := groups[p]
			if !exists {
				g = NewRanking()
				groups[p] = g
			}
			if err := g.Add(Member{StudentID: e.StudentID, Score: e.Score}); err != nil && !refused[i] {
				refused[i] = true
				rejected = append(rejected, Rejection{StudentID: e.StudentID, Err: err})
			}
		}

		for _, g := range groups {
			g.SortByScore()
			var stats Stats
			if pt == PartitionGrade {
				stats = Describe(g.Scores())
			}
			for _, m := range g.All() {
				s := out[m.StudentID]
				s.Ranks.Set(pt, RankPair{Rank: m.Rank, Total: g.Count()})
				if pt == PartitionGrade {
					s.Deviation = stats.Deviation(m.Score)
				}
				out[m.StudentID] = s
			}
		}
	}

	return out, rejected
}
