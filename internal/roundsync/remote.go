package roundsync

import (
	"context"

	"github.com/park285/cube-duel/internal/round"
)

// Remote is the authoritative side a Syncer reads from and acts on. The HTTP
// client in roundclient implements it; Local wraps an in-process Manager.
type Remote interface {
	Round(ctx context.Context, roundID string) (*round.Round, error)
	Rounds(ctx context.Context, pairID string) ([]*round.Round, error)
	ActiveRound(ctx context.Context, pairID string) (*round.Round, error)
	Join(ctx context.Context, roundID, userID string) (*round.Round, error)
	Submit(ctx context.Context, req round.SubmitRequest) (*round.Round, error)
	ResetSolve(ctx context.Context, roundID, userID string) (*round.Round, error)
	Close(ctx context.Context, roundID string) (*round.Round, error)
}

type local struct {
	m *round.Manager
}

// Local adapts a Manager to Remote.
func Local(m *round.Manager) Remote { return local{m: m} }

func (l local) Round(ctx context.Context, roundID string) (*round.Round, error) {
	return l.m.Round(ctx, roundID)
}

func (l local) Rounds(ctx context.Context, pairID string) ([]*round.Round, error) {
	return l.m.Rounds(ctx, pairID)
}

func (l local) ActiveRound(ctx context.Context, pairID string) (*round.Round, error) {
	return l.m.ActiveRound(ctx, pairID)
}

func (l local) Join(ctx context.Context, roundID, userID string) (*round.Round, error) {
	res, err := l.m.Join(ctx, roundID, userID)
	if err != nil {
		return nil, err
	}
	return res.Round, nil
}

func (l local) Submit(ctx context.Context, req round.SubmitRequest) (*round.Round, error) {
	res, err := l.m.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.Round, nil
}

func (l local) ResetSolve(ctx context.Context, roundID, userID string) (*round.Round, error) {
	return l.m.ResetSolve(ctx, roundID, userID)
}

func (l local) Close(ctx context.Context, roundID string) (*round.Round, error) {
	r, _, err := l.m.Close(ctx, roundID)
	return r, err
}
