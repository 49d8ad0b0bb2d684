// Package score derives win counts and streaks from closed rounds. Nothing here
// is persisted; deleting a round changes the next summary.
package score

import (
	"sort"
	"time"

	"github.com/park285/cube-duel/internal/round"
)

// Winner returns the user with the lowest non-DNF time. All-DNF rounds and
// exact ties have no winner.
func Winner(solves []*round.Solve) (string, bool) {
	var (
		best   *round.Solve
		shared bool
	)
	for _, s := range solves {
		if s == nil || s.DNF {
			continue
		}
		switch {
		case best == nil || s.TimeMs < best.TimeMs:
			best, shared = s, false
		case s.TimeMs == best.TimeMs && s.UserID != best.UserID:
			shared = true
		}
	}
	if best == nil || shared {
		return "", false
	}
	return best.UserID, true
}

// Streak is the current run of consecutive wins by one player.
type Streak struct {
	Player string `json:"player"`
	Count  int    `json:"count"`
}

// Summary aggregates a pair's closed rounds.
type Summary struct {
	Played int              `json:"played"`
	Wins   map[string]int   `json:"wins"`
	NoWin  int              `json:"no_winner"`
	Best   map[string]int64 `json:"best_ms"`
	Streak Streak           `json:"streak"`
}

// Summarize folds closed rounds. Open and in-progress rounds are ignored.
func Summarize(rounds []round.RoundSolves) Summary {
	sum := Summary{Wins: map[string]int{}, Best: map[string]int64{}}
	closed := make([]round.RoundSolves, 0, len(rounds))
	for _, rs := range rounds {
		if rs.Round == nil || rs.Round.Status != round.StatusClosed {
			continue
		}
		closed = append(closed, rs)
	}
	// newest closure first
	sort.SliceStable(closed, func(i, j int) bool {
		return closedAt(closed[i]).After(closedAt(closed[j]))
	})

	winners := make([]string, 0, len(closed))
	for _, rs := range closed {
		sum.Played++
		for _, s := range rs.Solves {
			if s.DNF {
				continue
			}
			if b, ok := sum.Best[s.UserID]; !ok || s.TimeMs < b {
				sum.Best[s.UserID] = s.TimeMs
			}
		}
		w, ok := Winner(rs.Solves)
		if ok {
			sum.Wins[w]++
		} else {
			sum.NoWin++
		}
		winners = append(winners, w)
	}
	sum.Streak = CurrentStreak(winners)
	return sum
}

func closedAt(rs round.RoundSolves) time.Time {
	if rs.Round.ClosedAt != nil {
		return *rs.Round.ClosedAt
	}
	return rs.Round.StartedAt
}

// CurrentStreak counts leading equal entries of winners ordered newest first.
// An empty entry means the round had no winner and ends the streak.
func CurrentStreak(winners []string) Streak {
	if len(winners) == 0 || winners[0] == "" {
		return Streak{}
	}
	st := Streak{Player: winners[0]}
	for _, w := range winners {
		if w != st.Player {
			break
		}
		st.Count++
	}
	return st
}
