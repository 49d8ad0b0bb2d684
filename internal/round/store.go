package round

import (
	"context"
	"time"
)

// Store is the backing store contract. Every method that mutates a round is a
// single atomic operation on the store side; none of them is a client-side
// read-modify-write.
type Store interface {
	CreateRound(ctx context.Context, r *Round) error
	GetRound(ctx context.Context, id string) (*Round, error)
	// ListRounds returns a pair's rounds, newest first.
	ListRounds(ctx context.Context, pairID string) ([]*Round, error)
	JoinRound(ctx context.Context, id, userID string) (*Round, bool, error)
	// SubmitSolve upserts the solve and conditionally appends its user to
	// SubmittedUserIDs. The bool is false when the user was already recorded.
	SubmitSolve(ctx context.Context, s *Solve) (*Round, bool, error)
	ResetSolve(ctx context.Context, roundID, userID string) (*Round, error)
	// CloseRound reports false when the round was already closed.
	CloseRound(ctx context.Context, id string, now time.Time) (*Round, bool, error)
	// DeleteRound removes the round and its solves, returning its pair id.
	DeleteRound(ctx context.Context, id string) (string, error)
	ListSolves(ctx context.Context, roundID string) ([]*Solve, error)
	Close() error
}

// Feed delivers change signals for one pair until cancel is called.
type Feed interface {
	Subscribe(ctx context.Context, pairID string) (<-chan Change, func(), error)
}
