package round

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// Postgres tests run only against a real server named by DATABASE_URL.
func openTestPostgres(t *testing.T) (*Manager, string) {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	store, err := OpenPostgres(context.Background(), dsn)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewManager(store), dsn
}

func startLivePair(t *testing.T, m *Manager, pairID string) *Round {
	t.Helper()
	ctx := context.Background()
	r, err := m.Create(ctx, CreateRequest{PairID: pairID, UserID: "A", Mode: ModeLive})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { _ = m.Delete(context.Background(), r.ID) })
	jr, err := m.Join(ctx, r.ID, "B")
	if err != nil || !jr.Started {
		t.Fatalf("Join: started=%v err=%v", jr != nil && jr.Started, err)
	}
	return jr.Round
}

func TestPostgresSubmitOverwriteAndRetryAfterClose(t *testing.T) {
	m, _ := openTestPostgres(t)
	ctx := context.Background()
	r := startLivePair(t, m, "pg-"+uuid.NewString())

	res, err := m.Submit(ctx, SubmitRequest{RoundID: r.ID, UserID: "A", TimeMs: 11500})
	if err != nil || !res.Recorded {
		t.Fatalf("Submit A: %+v %v", res, err)
	}
	res, err = m.Submit(ctx, SubmitRequest{RoundID: r.ID, UserID: "A", TimeMs: 12000})
	if err != nil || res.Recorded {
		t.Fatalf("resubmit A: %+v %v", res, err)
	}
	solves, _ := m.Solves(ctx, r.ID)
	if len(solves) != 1 || solves[0].TimeMs != 12000 {
		t.Fatalf("expected overwritten solve: %+v", solves)
	}

	first, err := m.Submit(ctx, SubmitRequest{RoundID: r.ID, UserID: "B", TimeMs: 9800})
	if err != nil || !first.Closed {
		t.Fatalf("Submit B: %+v %v", first, err)
	}
	retry, err := m.Submit(ctx, SubmitRequest{RoundID: r.ID, UserID: "B", TimeMs: 9800})
	if err != nil {
		t.Fatalf("retried submit: %v", err)
	}
	if retry.Recorded || retry.Closed || retry.Solve.ID != first.Solve.ID {
		t.Fatalf("retry must return the stored solve: %+v", retry)
	}
	if _, err := m.Submit(ctx, SubmitRequest{RoundID: r.ID, UserID: "B", TimeMs: 1}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("different result after close: %v", err)
	}

	again, changed, err := m.Close(ctx, r.ID)
	if err != nil || changed {
		t.Fatalf("close of closed round: changed=%v err=%v", changed, err)
	}
	if !again.ClosedAt.Equal(*first.Round.ClosedAt) {
		t.Fatalf("closed_at moved: %v vs %v", again.ClosedAt, first.Round.ClosedAt)
	}
}

func TestPostgresConcurrentSubmitsBothRecorded(t *testing.T) {
	m, _ := openTestPostgres(t)
	ctx := context.Background()
	pairID := "pg-" + uuid.NewString()

	for i := 0; i < 5; i++ {
		r := startLivePair(t, m, pairID)
		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			closes int
			errs   []error
		)
		for _, u := range []string{"A", "B"} {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				res, err := m.Submit(ctx, SubmitRequest{RoundID: r.ID, UserID: user, TimeMs: 10000})
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					return
				}
				if res.Closed {
					closes++
				}
			}(u)
		}
		wg.Wait()
		if len(errs) > 0 {
			t.Fatalf("iteration %d: %v", i, errs)
		}
		if closes != 1 {
			t.Fatalf("iteration %d: expected exactly one closing submit, got %d", i, closes)
		}
		got, _ := m.Round(ctx, r.ID)
		if got.Status != StatusClosed || len(got.SubmittedUserIDs) != 2 {
			t.Fatalf("iteration %d: %+v", i, got)
		}
		solves, _ := m.Solves(ctx, r.ID)
		if len(solves) != 2 {
			t.Fatalf("iteration %d: expected 2 solves, got %d", i, len(solves))
		}
	}
}

func TestPostgresFeedSignalsWrites(t *testing.T) {
	m, dsn := openTestPostgres(t)
	feed, err := NewPostgresFeed(dsn)
	if err != nil {
		t.Fatalf("NewPostgresFeed: %v", err)
	}
	defer feed.Close()

	pairID := "pg-" + uuid.NewString()
	ch, cancel, err := feed.Subscribe(context.Background(), pairID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	r := startLivePair(t, m, pairID)
	waitChange(t, ch, func(c Change) bool { return c.RoundID == r.ID })

	// a listener reconnect asks every subscriber for a full re-read
	feed.broadcastAll()
	waitChange(t, ch, func(c Change) bool { return c.PairID == pairID && c.RoundID == "" })
}

func waitChange(t *testing.T, ch <-chan Change, match func(Change) bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-ch:
			if match(c) {
				return
			}
		case <-deadline:
			t.Fatal("expected change not delivered")
		}
	}
}
