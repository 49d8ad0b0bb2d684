// Package roundsync keeps a client's view of shared rounds current. Change
// signals from a Feed trigger a re-read from the Remote; a poll loop re-reads
// everything subscribed in case a signal was lost.
package roundsync

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cube-duel/internal/obslog"
	"github.com/park285/cube-duel/internal/round"
)

// DefaultPollInterval bounds how stale a subscribed round can get when the
// feed drops signals.
const DefaultPollInterval = 3 * time.Second

const refreshTimeout = 10 * time.Second

var ErrClosed = errf("syncer closed")

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// RoundFunc receives a fresh round, or nil once the round has been deleted.
type RoundFunc func(r *round.Round)

// RoundsFunc receives a pair's rounds, newest first.
type RoundsFunc func(rounds []*round.Round)

type Option func(*Syncer)

func WithPollInterval(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Syncer) {
		if l != nil {
			s.log = l
		}
	}
}

type roundSub struct {
	pairID    string
	cbs       map[int]RoundFunc
	view      *View
	last      *round.Round
	delivered bool
	seen      uint64 // fetch sequence of the newest state applied
}

type pairSub struct {
	cbs       map[int]RoundsFunc
	last      []*round.Round
	delivered bool
	seen      uint64
}

type feedSub struct {
	cancel func()
}

// Syncer owns one client's subscription registry. Callbacks run one at a time
// and must not call the Syncer's action methods.
type Syncer struct {
	remote   Remote
	feed     round.Feed
	interval time.Duration
	log      *zap.Logger

	// deliverMu is taken before mu and serialises state changes with callbacks
	deliverMu sync.Mutex
	mu        sync.Mutex
	rounds    map[string]*roundSub
	pairs     map[string]*pairSub
	feeds     map[string]*feedSub
	seq       int
	closed    bool

	// fetchSeq orders remote reads; a read older than the state a
	// subscription already holds is dropped
	fetchSeq atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
}

// New builds a Syncer. feed may be nil, in which case only polling runs.
func New(remote Remote, feed round.Feed, opts ...Option) *Syncer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Syncer{
		remote:   remote,
		feed:     feed,
		interval: DefaultPollInterval,
		log:      obslog.L(),
		rounds:   make(map[string]*roundSub),
		pairs:    make(map[string]*pairSub),
		feeds:    make(map[string]*feedSub),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start launches the poll loop.
func (s *Syncer) Start() {
	s.startOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		s.wg.Add(1)
		go s.pollLoop()
	})
}

// Close drops every subscription and stops background work.
func (s *Syncer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	feeds := s.feeds
	s.feeds = make(map[string]*feedSub)
	s.rounds = make(map[string]*roundSub)
	s.pairs = make(map[string]*pairSub)
	s.mu.Unlock()

	s.cancel()
	for _, f := range feeds {
		f.cancel()
	}
	s.wg.Wait()
	return nil
}

func (s *Syncer) ActiveRound(ctx context.Context, pairID string) (*round.Round, error) {
	return s.remote.ActiveRound(ctx, pairID)
}

// SubscribeRound delivers the round to cb now and after every change.
func (s *Syncer) SubscribeRound(ctx context.Context, roundID string, cb RoundFunc) (func(), error) {
	fetch := s.fetchSeq.Add(1)
	r, err := s.remote.Round(ctx, roundID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	sub := s.rounds[roundID]
	if sub == nil {
		sub = &roundSub{pairID: r.PairID, cbs: make(map[int]RoundFunc), view: &View{}}
		s.rounds[roundID] = sub
	}
	s.seq++
	id := s.seq
	sub.cbs[id] = cb
	s.mu.Unlock()

	s.watchPair(r.PairID)
	s.confirmRound(roundID, r, fetch, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			pairID := ""
			if cur := s.rounds[roundID]; cur == sub {
				delete(sub.cbs, id)
				if len(sub.cbs) == 0 {
					delete(s.rounds, roundID)
				}
				pairID = sub.pairID
			}
			s.mu.Unlock()
			s.releasePair(pairID)
		})
	}, nil
}

// SubscribeRounds delivers the pair's rounds to cb now and after every change.
func (s *Syncer) SubscribeRounds(ctx context.Context, pairID string, cb RoundsFunc) (func(), error) {
	fetch := s.fetchSeq.Add(1)
	rounds, err := s.remote.Rounds(ctx, pairID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	sub := s.pairs[pairID]
	if sub == nil {
		sub = &pairSub{cbs: make(map[int]RoundsFunc)}
		s.pairs[pairID] = sub
	}
	s.seq++
	id := s.seq
	sub.cbs[id] = cb
	s.mu.Unlock()

	s.watchPair(pairID)
	s.confirmPair(pairID, rounds, fetch, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if cur := s.pairs[pairID]; cur == sub {
				delete(sub.cbs, id)
				if len(sub.cbs) == 0 {
					delete(s.pairs, pairID)
				}
			}
			s.mu.Unlock()
			s.releasePair(pairID)
		})
	}, nil
}

// View returns the two-phase view of a subscribed round, or nil.
func (s *Syncer) View(roundID string) *View {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub := s.rounds[roundID]; sub != nil {
		return sub.view
	}
	return nil
}

// SubmitSolve shows the submission locally, sends it, then replaces the local
// guess with the server's answer.
func (s *Syncer) SubmitSolve(ctx context.Context, roundID, userID string, timeMs int64, dnf bool) (*round.Round, error) {
	s.propose(roundID, func(r *round.Round) error {
		_, err := r.RecordSubmission(userID)
		return err
	})
	_, err := s.remote.Submit(ctx, round.SubmitRequest{RoundID: roundID, UserID: userID, TimeMs: timeMs, DNF: dnf})
	return s.settle(ctx, roundID, err)
}

func (s *Syncer) Join(ctx context.Context, roundID, userID string) (*round.Round, error) {
	s.propose(roundID, func(r *round.Round) error {
		_, err := r.Join(userID)
		return err
	})
	_, err := s.remote.Join(ctx, roundID, userID)
	return s.settle(ctx, roundID, err)
}

func (s *Syncer) ResetSolve(ctx context.Context, roundID, userID string) (*round.Round, error) {
	s.propose(roundID, func(r *round.Round) error { return r.ClearSubmission(userID) })
	_, err := s.remote.ResetSolve(ctx, roundID, userID)
	return s.settle(ctx, roundID, err)
}

func (s *Syncer) CloseRound(ctx context.Context, roundID string) (*round.Round, error) {
	s.propose(roundID, func(r *round.Round) error {
		r.Close(time.Now().UTC())
		return nil
	})
	_, err := s.remote.Close(ctx, roundID)
	return s.settle(ctx, roundID, err)
}

// settle confirms with an authoritative fetch. On a failed action the local
// proposal is dropped and the fetch still runs so the view heals.
func (s *Syncer) settle(ctx context.Context, roundID string, actionErr error) (*round.Round, error) {
	if actionErr != nil {
		s.discard(roundID)
		if _, err := s.refreshRound(ctx, roundID); err != nil {
			s.log.Warn("sync_confirm_error", zap.String("round_id", roundID), zap.Error(err))
		}
		return nil, actionErr
	}
	return s.refreshRound(ctx, roundID)
}

func (s *Syncer) propose(roundID string, mutate func(*round.Round) error) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.mu.Lock()
	sub := s.rounds[roundID]
	if sub == nil {
		s.mu.Unlock()
		return
	}
	p := sub.view.Current()
	if p == nil || mutate(p) != nil {
		s.mu.Unlock()
		return
	}
	sub.view.Propose(p)
	sub.last, sub.delivered = p, true
	sub.seen = s.fetchSeq.Add(1)
	cbs := roundCallbacks(sub, 0)
	s.mu.Unlock()
	for _, cb := range cbs {
		cb(p.Clone())
	}
}

func (s *Syncer) discard(roundID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub := s.rounds[roundID]; sub != nil {
		sub.view.Discard()
	}
}

// refreshRound re-reads one round, closes it when both players are done, and
// confirms it into the view. A deleted round confirms as nil.
func (s *Syncer) refreshRound(ctx context.Context, roundID string) (*round.Round, error) {
	fetch := s.fetchSeq.Add(1)
	r, err := s.remote.Round(ctx, roundID)
	if err != nil && !round.IsNotFound(err) {
		return nil, err
	}
	if r != nil && r.ReadyToClose() {
		r = s.autoClose(ctx, r)
	}
	s.confirmRound(roundID, r, fetch, 0)
	return r, nil
}

func (s *Syncer) refreshPair(ctx context.Context, pairID string) error {
	fetch := s.fetchSeq.Add(1)
	rounds, err := s.remote.Rounds(ctx, pairID)
	if err != nil {
		return err
	}
	for i, r := range rounds {
		if r.ReadyToClose() {
			rounds[i] = s.autoClose(ctx, r)
		}
	}
	s.confirmPair(pairID, rounds, fetch, 0)
	return nil
}

func (s *Syncer) autoClose(ctx context.Context, r *round.Round) *round.Round {
	closed, err := s.remote.Close(ctx, r.ID)
	if err != nil {
		s.log.Warn("sync_auto_close_error", zap.String("round_id", r.ID), zap.Error(err))
		return r
	}
	s.log.Debug("sync_auto_close", zap.String("round_id", r.ID))
	return closed
}

// confirmRound delivers r to subscribers when it differs from what they saw.
// force names a subscriber that gets it regardless. A read started before the
// state the subscription holds is stale: only force gets the held state.
func (s *Syncer) confirmRound(roundID string, r *round.Round, fetch uint64, force int) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.mu.Lock()
	sub := s.rounds[roundID]
	if sub == nil {
		s.mu.Unlock()
		return
	}
	if fetch < sub.seen {
		var cbs []RoundFunc
		if force != 0 && sub.delivered {
			cbs = roundCallbacks(sub, force)
		}
		held := sub.last.Clone()
		s.mu.Unlock()
		s.log.Debug("sync_stale_read", zap.String("round_id", roundID))
		for _, cb := range cbs {
			cb(held)
		}
		return
	}
	sub.seen = fetch
	prev := sub.last
	sub.view.Confirm(r)
	var cbs []RoundFunc
	if !sub.delivered || !sameRound(prev, r) {
		sub.last, sub.delivered = r.Clone(), true
		cbs = roundCallbacks(sub, 0)
	} else if force != 0 {
		cbs = roundCallbacks(sub, force)
	}
	s.mu.Unlock()
	for _, cb := range cbs {
		cb(r.Clone())
	}
}

func (s *Syncer) confirmPair(pairID string, rounds []*round.Round, fetch uint64, force int) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.mu.Lock()
	sub := s.pairs[pairID]
	if sub == nil {
		s.mu.Unlock()
		return
	}
	if fetch < sub.seen {
		var cbs []RoundsFunc
		if cb, ok := sub.cbs[force]; ok && sub.delivered {
			cbs = append(cbs, cb)
		}
		held := sub.last
		s.mu.Unlock()
		for _, cb := range cbs {
			cb(cloneRounds(held))
		}
		return
	}
	sub.seen = fetch
	var cbs []RoundsFunc
	if !sub.delivered || !sameRounds(sub.last, rounds) {
		sub.last, sub.delivered = cloneRounds(rounds), true
		for _, cb := range sub.cbs {
			cbs = append(cbs, cb)
		}
	} else if cb, ok := sub.cbs[force]; ok {
		cbs = append(cbs, cb)
	}
	s.mu.Unlock()
	for _, cb := range cbs {
		cb(cloneRounds(rounds))
	}
}

// roundCallbacks returns every callback, or only the one with id when id != 0.
func roundCallbacks(sub *roundSub, id int) []RoundFunc {
	if id != 0 {
		if cb, ok := sub.cbs[id]; ok {
			return []RoundFunc{cb}
		}
		return nil
	}
	out := make([]RoundFunc, 0, len(sub.cbs))
	for _, cb := range sub.cbs {
		out = append(out, cb)
	}
	return out
}

// watchPair subscribes to the pair's change feed once.
func (s *Syncer) watchPair(pairID string) {
	if s.feed == nil || pairID == "" {
		return
	}
	s.mu.Lock()
	if s.closed || s.feeds[pairID] != nil {
		s.mu.Unlock()
		return
	}
	fs := &feedSub{cancel: func() {}}
	s.feeds[pairID] = fs
	s.mu.Unlock()

	ch, cancel, err := s.feed.Subscribe(s.ctx, pairID)
	if err != nil {
		s.log.Warn("sync_feed_subscribe_error", zap.String("pair_id", pairID), zap.Error(err))
		s.mu.Lock()
		if s.feeds[pairID] == fs {
			delete(s.feeds, pairID)
		}
		s.mu.Unlock()
		return
	}
	s.mu.Lock()
	if s.closed || s.feeds[pairID] != fs {
		s.mu.Unlock()
		cancel()
		return
	}
	fs.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()
	go s.consume(pairID, fs, ch)
}

// releasePair drops the feed once nothing tracks the pair.
func (s *Syncer) releasePair(pairID string) {
	if pairID == "" {
		return
	}
	s.mu.Lock()
	if _, ok := s.pairs[pairID]; ok {
		s.mu.Unlock()
		return
	}
	for _, sub := range s.rounds {
		if sub.pairID == pairID {
			s.mu.Unlock()
			return
		}
	}
	fs := s.feeds[pairID]
	delete(s.feeds, pairID)
	s.mu.Unlock()
	if fs != nil {
		fs.cancel()
	}
}

func (s *Syncer) consume(pairID string, fs *feedSub, ch <-chan round.Change) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case c, ok := <-ch:
			if !ok {
				s.mu.Lock()
				if s.feeds[pairID] == fs {
					delete(s.feeds, pairID)
				}
				s.mu.Unlock()
				return
			}
			if c.PairID == "" {
				c.PairID = pairID
			}
			s.onChange(c)
		}
	}
}

func (s *Syncer) onChange(c round.Change) {
	ctx, cancel := context.WithTimeout(s.ctx, refreshTimeout)
	defer cancel()
	for _, id := range s.trackedRounds(c.PairID, c.RoundID) {
		if _, err := s.refreshRound(ctx, id); err != nil {
			s.log.Warn("sync_refresh_error", zap.String("round_id", id), zap.Error(err))
		}
	}
	if s.tracksPair(c.PairID) {
		if err := s.refreshPair(ctx, c.PairID); err != nil {
			s.log.Warn("sync_refresh_error", zap.String("pair_id", c.PairID), zap.Error(err))
		}
	}
}

// trackedRounds lists subscribed rounds matching roundID, or every subscribed
// round of the pair when roundID is empty.
func (s *Syncer) trackedRounds(pairID, roundID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if roundID != "" {
		if _, ok := s.rounds[roundID]; ok {
			return []string{roundID}
		}
		return nil
	}
	var ids []string
	for id, sub := range s.rounds {
		if sub.pairID == pairID {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Syncer) tracksPair(pairID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pairs[pairID]
	return ok
}

func (s *Syncer) pollLoop() {
	defer s.wg.Done()
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			s.pollOnce()
		}
	}
}

func (s *Syncer) pollOnce() {
	s.mu.Lock()
	roundIDs := make([]string, 0, len(s.rounds))
	for id := range s.rounds {
		roundIDs = append(roundIDs, id)
	}
	pairIDs := make([]string, 0, len(s.pairs))
	for id := range s.pairs {
		pairIDs = append(pairIDs, id)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, refreshTimeout)
	defer cancel()
	for _, id := range roundIDs {
		if _, err := s.refreshRound(ctx, id); err != nil {
			s.log.Warn("sync_poll_error", zap.String("round_id", id), zap.Error(err))
		}
	}
	for _, id := range pairIDs {
		if err := s.refreshPair(ctx, id); err != nil {
			s.log.Warn("sync_poll_error", zap.String("pair_id", id), zap.Error(err))
		}
	}
}

func sameRound(a, b *round.Round) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.ID != b.ID || a.Status != b.Status || a.RevealStatus != b.RevealStatus || a.Scramble != b.Scramble {
		return false
	}
	if !slices.Equal(a.JoinedUserIDs, b.JoinedUserIDs) || !slices.Equal(a.SubmittedUserIDs, b.SubmittedUserIDs) {
		return false
	}
	if (a.ClosedAt == nil) != (b.ClosedAt == nil) {
		return false
	}
	return a.ClosedAt == nil || a.ClosedAt.Equal(*b.ClosedAt)
}

func sameRounds(a, b []*round.Round) bool {
	return slices.EqualFunc(a, b, sameRound)
}

func cloneRounds(rs []*round.Round) []*round.Round {
	out := make([]*round.Round, len(rs))
	for i, r := range rs {
		out[i] = r.Clone()
	}
	return out
}
