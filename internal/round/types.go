package round

import (
	"errors"
	"fmt"
	"time"
)

// Status represents the lifecycle of a round.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusClosed     Status = "closed"
)

// Mode decides whether both players start together.
type Mode string

const (
	ModeLive  Mode = "live"
	ModeAsync Mode = "async"
)

func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeLive, ModeAsync:
		return Mode(s), true
	default:
		return "", false
	}
}

// RevealStatus gates whether a partner's time is visible before both submit.
type RevealStatus string

const (
	RevealHidden   RevealStatus = "hidden"
	RevealRevealed RevealStatus = "revealed"
)

// MaxPlayers is the capacity of a round.
const MaxPlayers = 2

// Round is the shared record both clients read and write.
type Round struct {
	ID               string       `json:"id"`
	PairID           string       `json:"pair_id"`
	GameKey          string       `json:"game_key"`
	Scramble         string       `json:"scramble"`
	Status           Status       `json:"status"`
	Mode             Mode         `json:"mode"`
	RevealStatus     RevealStatus `json:"reveal_status"`
	JoinedUserIDs    []string     `json:"joined_user_ids"`
	SubmittedUserIDs []string     `json:"submitted_user_ids"`
	CreatedByUserID  string       `json:"created_by_user_id"`
	StartedAt        time.Time    `json:"started_at"`
	ClosedAt         *time.Time   `json:"closed_at,omitempty"`
}

// Solve is one user's result for one round.
type Solve struct {
	ID        string    `json:"id"`
	RoundID   string    `json:"round_id"`
	UserID    string    `json:"user_id"`
	TimeMs    int64     `json:"time_ms"`
	DNF       bool      `json:"dnf"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy.
func (r *Round) Clone() *Round {
	if r == nil {
		return nil
	}
	c := *r
	c.JoinedUserIDs = append([]string(nil), r.JoinedUserIDs...)
	c.SubmittedUserIDs = append([]string(nil), r.SubmittedUserIDs...)
	if r.ClosedAt != nil {
		t := *r.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

// Change is the signal emitted by a store's change feed. It only says what to
// re-read; subscribers never trust it as state.
type Change struct {
	PairID  string `json:"pair_id"`
	RoundID string `json:"round_id"`
	Table   string `json:"table"`
	Op      string `json:"op"`
}

const (
	TableRounds = "rounds"
	TableSolves = "solves"
)

// Errors
var (
	ErrInvalidArgs     = errf("invalid arguments")
	ErrNotFound        = errf("round not found")
	ErrSolveNotFound   = errf("solve not found")
	ErrInvalidState    = errf("round is not in a state that allows this operation")
	ErrNotJoined       = errf("user has not joined this round")
	ErrRoundFull       = errf("round already has two participants")
	ErrInvalidScramble = errf("invalid scramble")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// TransientError marks a backing store failure worth retrying.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

func transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err came from an unavailable backing store.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsNotFound reports whether err means the round or solve no longer exists.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrSolveNotFound)
}

// IsInvalidState reports whether err is a status or membership conflict.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState) || errors.Is(err, ErrNotJoined) || errors.Is(err, ErrRoundFull)
}

func stateErr(r *Round, op string) error {
	return fmt.Errorf("%w: %s on %s round", ErrInvalidState, op, r.Status)
}
