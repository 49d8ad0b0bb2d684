package score

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/cube-duel/internal/round"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func closedRound(id string, closedMin int, solves ...*round.Solve) round.RoundSolves {
	at := base.Add(time.Duration(closedMin) * time.Minute)
	return round.RoundSolves{
		Round: &round.Round{
			ID:       id,
			PairID:   "p1",
			Status:   round.StatusClosed,
			Mode:     round.ModeLive,
			ClosedAt: &at,
		},
		Solves: solves,
	}
}

func solve(user string, ms int64, dnf bool) *round.Solve {
	return &round.Solve{UserID: user, TimeMs: ms, DNF: dnf}
}

func TestWinnerLowestTime(t *testing.T) {
	w, ok := Winner([]*round.Solve{solve("A", 11500, false), solve("B", 9800, false)})
	require.True(t, ok)
	assert.Equal(t, "B", w)
}

func TestWinnerIgnoresDNF(t *testing.T) {
	w, ok := Winner([]*round.Solve{solve("A", 11500, false), solve("B", 9800, true)})
	require.True(t, ok)
	assert.Equal(t, "A", w)

	_, ok = Winner([]*round.Solve{solve("A", 0, true), solve("B", 0, true)})
	assert.False(t, ok)

	_, ok = Winner(nil)
	assert.False(t, ok)
}

func TestWinnerTieIsDraw(t *testing.T) {
	_, ok := Winner([]*round.Solve{solve("A", 10000, false), solve("B", 10000, false)})
	assert.False(t, ok)
}

func TestSummarizeAllDNFStillPlayed(t *testing.T) {
	sum := Summarize([]round.RoundSolves{
		closedRound("r1", 1, solve("A", 0, true), solve("B", 0, true)),
	})
	assert.Equal(t, 1, sum.Played)
	assert.Equal(t, 1, sum.NoWin)
	assert.Empty(t, sum.Wins)
	assert.Equal(t, Streak{}, sum.Streak)
}

func TestSummarizeStreak(t *testing.T) {
	// closure order newest first: B, B, B, A, B
	rounds := []round.RoundSolves{
		closedRound("r1", 1, solve("A", 12000, false), solve("B", 9000, false)),
		closedRound("r2", 2, solve("A", 8000, false), solve("B", 9000, false)),
		closedRound("r3", 3, solve("A", 12000, false), solve("B", 9000, false)),
		closedRound("r4", 4, solve("A", 12000, false), solve("B", 9000, false)),
		closedRound("r5", 5, solve("A", 12000, false), solve("B", 7000, false)),
	}
	sum := Summarize(rounds)
	assert.Equal(t, Streak{Player: "B", Count: 3}, sum.Streak)
	assert.Equal(t, 5, sum.Played)
	assert.Equal(t, map[string]int{"A": 1, "B": 4}, sum.Wins)
	assert.Equal(t, int64(7000), sum.Best["B"])
	assert.Equal(t, int64(8000), sum.Best["A"])
}

func TestSummarizeSkipsUnclosed(t *testing.T) {
	open := round.RoundSolves{Round: &round.Round{ID: "r9", Status: round.StatusInProgress, StartedAt: base.Add(time.Hour)},
		Solves: []*round.Solve{solve("A", 1000, false)}}
	sum := Summarize([]round.RoundSolves{closedRound("r1", 1, solve("B", 9000, false)), open})
	assert.Equal(t, 1, sum.Played)
	assert.Equal(t, Streak{Player: "B", Count: 1}, sum.Streak)
	_, seen := sum.Best["A"]
	assert.False(t, seen)
}

func TestCurrentStreak(t *testing.T) {
	assert.Equal(t, Streak{Player: "B", Count: 3}, CurrentStreak([]string{"B", "B", "B", "A", "B"}))
	assert.Equal(t, Streak{}, CurrentStreak([]string{"", "A"}))
	assert.Equal(t, Streak{Player: "A", Count: 1}, CurrentStreak([]string{"A", "", "A"}))
	assert.Equal(t, Streak{}, CurrentStreak(nil))
}
