package round

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// New builds a freshly created round. Live rounds wait for a partner; async
// rounds start immediately.
func New(id, pairID, gameKey, scramble string, mode Mode, creatorID string, now time.Time) (*Round, error) {
	id, pairID, creatorID = strings.TrimSpace(id), strings.TrimSpace(pairID), strings.TrimSpace(creatorID)
	if id == "" || pairID == "" || creatorID == "" {
		return nil, ErrInvalidArgs
	}
	if _, ok := ParseMode(string(mode)); !ok {
		return nil, fmt.Errorf("%w: mode %q", ErrInvalidArgs, mode)
	}
	r := &Round{
		ID:               id,
		PairID:           pairID,
		GameKey:          strings.TrimSpace(gameKey),
		Scramble:         scramble,
		Status:           StatusOpen,
		Mode:             mode,
		RevealStatus:     RevealHidden,
		JoinedUserIDs:    []string{creatorID},
		SubmittedUserIDs: []string{},
		CreatedByUserID:  creatorID,
		StartedAt:        now,
	}
	if mode == ModeAsync {
		r.Status = StatusInProgress
	}
	return r, nil
}

func (r *Round) HasJoined(userID string) bool    { return slices.Contains(r.JoinedUserIDs, userID) }
func (r *Round) HasSubmitted(userID string) bool { return slices.Contains(r.SubmittedUserIDs, userID) }

// Join adds userID to the joined set. Joining twice is a no-op. The second
// join of a live round starts it.
func (r *Round) Join(userID string) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, ErrInvalidArgs
	}
	if r.HasJoined(userID) {
		return false, nil
	}
	if r.Status == StatusClosed {
		return false, stateErr(r, "join")
	}
	if len(r.JoinedUserIDs) >= MaxPlayers {
		return false, ErrRoundFull
	}
	r.JoinedUserIDs = append(r.JoinedUserIDs, userID)
	if r.Status == StatusOpen && len(r.JoinedUserIDs) == MaxPlayers {
		r.Status = StatusInProgress
	}
	return true, nil
}

// CanSubmit checks whether userID may record a solve now. Async rounds join
// the submitter implicitly while there is room.
func (r *Round) CanSubmit(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidArgs
	}
	if r.Status != StatusInProgress {
		return stateErr(r, "submit")
	}
	if r.HasJoined(userID) {
		return nil
	}
	if r.Mode == ModeAsync && len(r.JoinedUserIDs) < MaxPlayers {
		return nil
	}
	if r.Mode == ModeAsync {
		return ErrRoundFull
	}
	return ErrNotJoined
}

// RecordSubmission is the in-memory form of the conditional append: userID is
// added only when absent. It reports whether the set changed.
func (r *Round) RecordSubmission(userID string) (bool, error) {
	if err := r.CanSubmit(userID); err != nil {
		return false, err
	}
	if !r.HasJoined(userID) {
		r.JoinedUserIDs = append(r.JoinedUserIDs, userID)
	}
	if r.HasSubmitted(userID) {
		return false, nil
	}
	r.SubmittedUserIDs = append(r.SubmittedUserIDs, userID)
	return true, nil
}

// ClearSubmission undoes RecordSubmission for userID.
func (r *Round) ClearSubmission(userID string) error {
	if r.Status != StatusInProgress {
		return stateErr(r, "reset")
	}
	if !r.HasJoined(userID) {
		return ErrNotJoined
	}
	r.SubmittedUserIDs = slices.DeleteFunc(r.SubmittedUserIDs, func(id string) bool { return id == userID })
	return nil
}

// ReadyToClose reports whether both players have submitted.
func (r *Round) ReadyToClose() bool {
	if r.Status == StatusClosed || len(r.JoinedUserIDs) < MaxPlayers {
		return false
	}
	for _, id := range r.JoinedUserIDs {
		if !r.HasSubmitted(id) {
			return false
		}
	}
	return true
}

// Close marks the round closed. Closing a closed round changes nothing.
func (r *Round) Close(now time.Time) bool {
	if r.Status == StatusClosed {
		return false
	}
	r.Status = StatusClosed
	t := now
	r.ClosedAt = &t
	if r.Mode == ModeAsync {
		r.RevealStatus = RevealRevealed
	}
	return true
}

// Revealed reports whether every solve of the round may be shown to both players.
func (r *Round) Revealed() bool {
	return r.Mode != ModeAsync || r.RevealStatus == RevealRevealed
}

// Validate checks the record invariants.
func (r *Round) Validate() error {
	if len(r.JoinedUserIDs) > MaxPlayers {
		return fmt.Errorf("round %s: %d joined users", r.ID, len(r.JoinedUserIDs))
	}
	for _, id := range r.SubmittedUserIDs {
		if !r.HasJoined(id) {
			return fmt.Errorf("round %s: %s submitted without joining", r.ID, id)
		}
	}
	if (r.ClosedAt != nil) != (r.Status == StatusClosed) {
		return fmt.Errorf("round %s: closed_at does not match status %s", r.ID, r.Status)
	}
	if r.Mode == ModeAsync && r.RevealStatus == RevealRevealed && r.Status != StatusClosed {
		return fmt.Errorf("round %s: revealed before close", r.ID)
	}
	return nil
}

// Latest picks the active round from a pair's rounds: the most recent
// in_progress one, else the most recent open one.
func Latest(rounds []*Round) *Round {
	var open, running *Round
	for _, r := range rounds {
		switch r.Status {
		case StatusInProgress:
			if running == nil || r.StartedAt.After(running.StartedAt) {
				running = r
			}
		case StatusOpen:
			if open == nil || r.StartedAt.After(open.StartedAt) {
				open = r
			}
		}
	}
	if running != nil {
		return running
	}
	return open
}

// VisibleSolves applies the reveal policy for viewerID.
func VisibleSolves(r *Round, solves []*Solve, viewerID string) []*Solve {
	if r.Revealed() {
		return solves
	}
	out := make([]*Solve, 0, 1)
	for _, s := range solves {
		if s.UserID == viewerID {
			out = append(out, s)
		}
	}
	return out
}
