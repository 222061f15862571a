package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankMembers_CompetitionRanking(t *testing.T) {
	ranked, rejected := RankMembers([]Member{
		{StudentID: "d", Score: 80},
		{StudentID: "b", Score: 90},
		{StudentID: "a", Score: 100},
		{StudentID: "c", Score: 90},
	})

	assert.Empty(t, rejected)
	require.Len(t, ranked, 4)
	got := make(map[string]int)
	for _, m := range ranked {
		got[m.StudentID] = m.Rank
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 2, "c": 2, "d": 4}, got)

	// ties are ordered by student ID
	assert.Equal(t, "b", ranked[1].StudentID)
	assert.Equal(t, "c", ranked[2].StudentID)
}

func TestRankMembers_Edges(t *testing.T) {
	none, rejected := RankMembers(nil)
	assert.Nil(t, none)
	assert.Nil(t, rejected)

	single, _ := RankMembers([]Member{{StudentID: "a", Score: 0}})
	require.Len(t, single, 1)
	assert.Equal(t, 1, single[0].Rank)

	allTied, _ := RankMembers([]Member{
		{StudentID: "a", Score: 5},
		{StudentID: "b", Score: 5},
		{StudentID: "c", Score: 5},
	})
	for _, m := range allTied {
		assert.Equal(t, 1, m.Rank)
	}
}

func TestRankMembers_Monotonic(t *testing.T) {
	members := []Member{
		{"a", 3}, {"b", 9}, {"c", 3}, {"d", 1}, {"e", 9}, {"f", 7}, {"g", 0},
	}
	ranked, _ := RankMembers(members)

	for i := 1; i < len(ranked); i++ {
		prev, cur := ranked[i-1], ranked[i]
		assert.GreaterOrEqual(t, prev.Score, cur.Score)
		if prev.Score == cur.Score {
			assert.Equal(t, prev.Rank, cur.Rank)
		} else {
			assert.Equal(t, i+1, cur.Rank)
		}
		assert.GreaterOrEqual(t, cur.Rank, 1)
		assert.LessOrEqual(t, cur.Rank, len(ranked))
	}
}

func TestRankMembers_ReportsRefusedMembers(t *testing.T) {
	ranked, rejected := RankMembers([]Member{
		{StudentID: "a", Score: 10},
		{StudentID: "", Score: 99},
		{StudentID: "a", Score: 50},
		{StudentID: "b", Score: 20},
	})

	require.Len(t, ranked, 2)
	assert.Equal(t, RankedMember{Member: Member{StudentID: "b", Score: 20}, Rank: 1}, ranked[0])
	assert.Equal(t, RankedMember{Member: Member{StudentID: "a", Score: 10}, Rank: 2}, ranked[1])

	require.Len(t, rejected, 2)
	assert.ErrorIs(t, rejected[0].Err, ErrEmptyStudentID)
	assert.Equal(t, "a", rejected[1].StudentID)
	assert.ErrorIs(t, rejected[1].Err, ErrDuplicateMember)
}

func TestRanking_Add(t *testing.T) {
	r := NewRanking()
	assert.ErrorIs(t, r.Add(Member{}), ErrEmptyStudentID)
	assert.NoError(t, r.Add(Member{StudentID: "a", Score: 1}))
	assert.ErrorIs(t, r.Add(Member{StudentID: "a", Score: 2}), ErrDuplicateMember)

	p, ok := r.Get("a")
	assert.True(t, ok)
	assert.Equal(t, RankPair{Rank: 1, Total: 1}, p)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestComputeStandings(t *testing.T) {
	standings, rejected := ComputeStandings([]Entry{
		{StudentID: "a", Score: 90, Attributes: Attributes{Grade: 5, OrganizationID: "org1", Category: "A"}},
		{StudentID: "b", Score: 90, Attributes: Attributes{Grade: 5, OrganizationID: "org1"}},
		{StudentID: "c", Score: 70, Attributes: Attributes{Grade: 5, OrganizationID: "org2", Category: "A"}},
		{StudentID: "d", Score: 95, Attributes: Attributes{Grade: 6, OrganizationID: "org1", Category: "B"}},
	})

	assert.Empty(t, rejected)
	require.Len(t, standings, 4)

	a := standings["a"]
	assert.Equal(t, RankPair{Rank: 2, Total: 4}, a.Ranks.National)
	assert.Equal(t, RankPair{Rank: 1, Total: 3}, a.Ranks.Grade)
	assert.Equal(t, RankPair{Rank: 1, Total: 2}, a.Ranks.Organization)
	assert.Equal(t, RankPair{Rank: 1, Total: 2}, a.Ranks.Category)
	assert.Equal(t, 55.77, a.Deviation)

	b := standings["b"]
	assert.Equal(t, RankPair{Rank: 2, Total: 4}, b.Ranks.National)
	_, ranked := b.Ranks.Get(PartitionCategory)
	assert.False(t, ranked, "student without category is not ranked there")

	c := standings["c"]
	assert.Equal(t, RankPair{Rank: 4, Total: 4}, c.Ranks.National)
	assert.Equal(t, RankPair{Rank: 3, Total: 3}, c.Ranks.Grade)
	assert.Equal(t, RankPair{Rank: 1, Total: 1}, c.Ranks.Organization)
	assert.Equal(t, RankPair{Rank: 2, Total: 2}, c.Ranks.Category)
	assert.Equal(t, 38.45, c.Deviation)

	d := standings["d"]
	assert.Equal(t, RankPair{Rank: 1, Total: 4}, d.Ranks.National)
	assert.Equal(t, RankPair{Rank: 1, Total: 1}, d.Ranks.Grade)
	assert.Equal(t, 50.0, d.Deviation)
}

func TestComputeStandings_Empty(t *testing.T) {
	standings, rejected := ComputeStandings(nil)
	assert.Empty(t, standings)
	assert.Empty(t, rejected)
}

func TestComputeStandings_DuplicateEntryReportedOnce(t *testing.T) {
	attrs := Attributes{Grade: 5, OrganizationID: "org1", Category: "A"}
	standings, rejected := ComputeStandings([]Entry{
		{StudentID: "a", Score: 90, Attributes: attrs},
		{StudentID: "b", Score: 80, Attributes: attrs},
		{StudentID: "a", Score: 10, Attributes: attrs},
		{StudentID: "", Score: 50, Attributes: attrs},
	})

	require.Len(t, rejected, 2)
	assert.Equal(t, "a", rejected[0].StudentID)
	assert.ErrorIs(t, rejected[0].Err, ErrDuplicateMember)
	assert.ErrorIs(t, rejected[1].Err, ErrEmptyStudentID)

	require.Len(t, standings, 2)
	assert.Equal(t, RankPair{Rank: 1, Total: 2}, standings["a"].Ranks.National)
	assert.Equal(t, RankPair{Rank: 2, Total: 2}, standings["b"].Ranks.Grade)
}
