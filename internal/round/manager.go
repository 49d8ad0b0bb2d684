package round

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cube-duel/internal/cube"
	"github.com/park285/cube-duel/internal/obslog"
)

// Manager owns the round lifecycle on top of a Store.
type Manager struct {
	store  Store
	gen    *cube.Generator
	length int
	now    func() time.Time
	newID  func() string
}

// Option configures a Manager.
type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithScrambleLength sets the generated scramble length; n <= 0 keeps the default.
func WithScrambleLength(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.length = n
		}
	}
}

func WithGenerator(g *cube.Generator) Option {
	return func(m *Manager) {
		if g != nil {
			m.gen = g
		}
	}
}

// WithIDs replaces the uuid-based id source.
func WithIDs(newID func() string) Option {
	return func(m *Manager) {
		if newID != nil {
			m.newID = newID
		}
	}
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		gen:    cube.NewGenerator(),
		length: cube.DefaultScrambleLength,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) Store() Store { return m.store }

// CreateRequest starts a new round for a pair. An empty Scramble is generated.
type CreateRequest struct {
	PairID   string
	GameKey  string
	UserID   string
	Mode     Mode
	Scramble string
}

func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Round, error) {
	mode := req.Mode
	if mode == "" {
		mode = ModeLive
	}
	scramble := strings.TrimSpace(req.Scramble)
	if scramble == "" {
		scramble = m.gen.Generate(m.length)
	} else {
		moves, err := cube.ParseScramble(scramble)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidScramble, err)
		}
		scramble = cube.FormatScramble(moves)
	}
	r, err := New(m.newID(), req.PairID, req.GameKey, scramble, mode, req.UserID, m.now())
	if err != nil {
		return nil, err
	}
	if err := m.store.CreateRound(ctx, r); err != nil {
		return nil, err
	}
	obslog.L().Info("round_create",
		zap.String("round_id", r.ID),
		zap.String("pair_id", r.PairID),
		zap.String("mode", string(r.Mode)),
		zap.String("created_by", r.CreatedByUserID),
		zap.String("scramble", r.Scramble),
	)
	return r, nil
}

type JoinResult struct {
	Round   *Round
	Joined  bool
	Started bool
}

func (m *Manager) Join(ctx context.Context, roundID, userID string) (*JoinResult, error) {
	if strings.TrimSpace(roundID) == "" || strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidArgs
	}
	r, joined, err := m.store.JoinRound(ctx, roundID, userID)
	if err != nil {
		return nil, err
	}
	// only the second live join moves open -> in_progress
	started := joined && r.Mode == ModeLive && r.Status == StatusInProgress
	res := &JoinResult{Round: r, Joined: joined, Started: started}
	if joined {
		obslog.L().Info("round_join",
			zap.String("round_id", r.ID),
			zap.String("user_id", userID),
			zap.Bool("started", res.Started),
		)
	}
	return res, nil
}

type SubmitRequest struct {
	RoundID string
	UserID  string
	TimeMs  int64
	DNF     bool
}

type SubmitResult struct {
	Round    *Round
	Solve    *Solve
	Recorded bool // false when the user had already submitted and the solve was overwritten
	Closed   bool // this call closed the round
}

// Submit records a solve, overwriting an earlier one from the same user, and
// closes the round once both players have submitted.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if strings.TrimSpace(req.RoundID) == "" || strings.TrimSpace(req.UserID) == "" || req.TimeMs < 0 {
		return nil, ErrInvalidArgs
	}
	sv := &Solve{
		ID:        m.newID(),
		RoundID:   req.RoundID,
		UserID:    req.UserID,
		TimeMs:    req.TimeMs,
		DNF:       req.DNF,
		CreatedAt: m.now(),
	}
	r, added, err := m.store.SubmitSolve(ctx, sv)
	if err != nil {
		return nil, err
	}
	if !added && r.Status == StatusClosed {
		return m.landedSubmit(ctx, r, req)
	}
	res := &SubmitResult{Round: r, Solve: sv, Recorded: added}
	obslog.L().Info("round_submit",
		zap.String("round_id", r.ID),
		zap.String("user_id", sv.UserID),
		zap.Int64("time_ms", sv.TimeMs),
		zap.Bool("dnf", sv.DNF),
		zap.Bool("recorded", added),
	)
	if r.ReadyToClose() {
		closed, didClose, err := m.store.CloseRound(ctx, r.ID, m.now())
		if err != nil {
			return nil, err
		}
		res.Round, res.Closed = closed, didClose
		if didClose {
			obslog.L().Info("round_close", zap.String("round_id", r.ID), zap.String("reason", "all_submitted"))
		}
	}
	return res, nil
}

// landedSubmit answers a submit that reached a closed round the caller already
// submitted to. A repeat of the stored solve succeeds unchanged so a retried
// request is not reported as a failure; a different result is too late.
func (m *Manager) landedSubmit(ctx context.Context, r *Round, req SubmitRequest) (*SubmitResult, error) {
	solves, err := m.store.ListSolves(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	for _, prev := range solves {
		if prev.UserID != req.UserID {
			continue
		}
		if prev.TimeMs != req.TimeMs || prev.DNF != req.DNF {
			break
		}
		obslog.L().Info("round_submit_replayed",
			zap.String("round_id", r.ID),
			zap.String("user_id", req.UserID),
		)
		return &SubmitResult{Round: r, Solve: prev}, nil
	}
	return nil, fmt.Errorf("%w: submit after close", ErrInvalidState)
}

// ResetSolve discards userID's solve so they can submit again.
func (m *Manager) ResetSolve(ctx context.Context, roundID, userID string) (*Round, error) {
	if strings.TrimSpace(roundID) == "" || strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidArgs
	}
	r, err := m.store.ResetSolve(ctx, roundID, userID)
	if err != nil {
		return nil, err
	}
	obslog.L().Info("round_reset_solve", zap.String("round_id", roundID), zap.String("user_id", userID))
	return r, nil
}

// Close ends the round regardless of submissions. It reports false when the
// round was already closed.
func (m *Manager) Close(ctx context.Context, roundID string) (*Round, bool, error) {
	if strings.TrimSpace(roundID) == "" {
		return nil, false, ErrInvalidArgs
	}
	r, closed, err := m.store.CloseRound(ctx, roundID, m.now())
	if err != nil {
		return nil, false, err
	}
	if closed {
		obslog.L().Info("round_close", zap.String("round_id", roundID), zap.String("reason", "manual"))
	}
	return r, closed, nil
}

// Delete removes the round and all of its solves.
func (m *Manager) Delete(ctx context.Context, roundID string) error {
	if strings.TrimSpace(roundID) == "" {
		return ErrInvalidArgs
	}
	pairID, err := m.store.DeleteRound(ctx, roundID)
	if err != nil {
		return err
	}
	obslog.L().Info("round_delete", zap.String("round_id", roundID), zap.String("pair_id", pairID))
	return nil
}

func (m *Manager) Round(ctx context.Context, roundID string) (*Round, error) {
	if strings.TrimSpace(roundID) == "" {
		return nil, ErrInvalidArgs
	}
	return m.store.GetRound(ctx, roundID)
}

// ActiveRound returns the pair's current round or nil when none is open or running.
func (m *Manager) ActiveRound(ctx context.Context, pairID string) (*Round, error) {
	rounds, err := m.Rounds(ctx, pairID)
	if err != nil {
		return nil, err
	}
	return Latest(rounds), nil
}

// Rounds lists a pair's rounds newest first.
func (m *Manager) Rounds(ctx context.Context, pairID string) ([]*Round, error) {
	if strings.TrimSpace(pairID) == "" {
		return nil, ErrInvalidArgs
	}
	return m.store.ListRounds(ctx, pairID)
}

// Solves returns every solve of the round without applying the reveal policy.
func (m *Manager) Solves(ctx context.Context, roundID string) ([]*Solve, error) {
	if strings.TrimSpace(roundID) == "" {
		return nil, ErrInvalidArgs
	}
	if _, err := m.store.GetRound(ctx, roundID); err != nil {
		return nil, err
	}
	return m.store.ListSolves(ctx, roundID)
}

// SolvesFor returns the solves viewerID may see.
func (m *Manager) SolvesFor(ctx context.Context, roundID, viewerID string) ([]*Solve, error) {
	r, err := m.Round(ctx, roundID)
	if err != nil {
		return nil, err
	}
	solves, err := m.store.ListSolves(ctx, roundID)
	if err != nil {
		return nil, err
	}
	return VisibleSolves(r, solves, viewerID), nil
}

// RoundSolves pairs a round with its solves.
type RoundSolves struct {
	Round  *Round
	Solves []*Solve
}

// PairSolves returns the pair's closed rounds, oldest first, with their solves.
func (m *Manager) PairSolves(ctx context.Context, pairID string) ([]RoundSolves, error) {
	rounds, err := m.Rounds(ctx, pairID)
	if err != nil {
		return nil, err
	}
	out := make([]RoundSolves, 0, len(rounds))
	for i := len(rounds) - 1; i >= 0; i-- {
		r := rounds[i]
		if r.Status != StatusClosed {
			continue
		}
		solves, err := m.store.ListSolves(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, RoundSolves{Round: r, Solves: solves})
	}
	return out, nil
}
