package roundclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/park285/cube-duel/internal/api"
	"github.com/park285/cube-duel/internal/round"
	"github.com/park285/cube-duel/internal/roundsync"
	"github.com/park285/cube-duel/pkg/rounddto"
)

func newAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := round.OpenRedis(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	srv := api.NewServer(round.NewManager(store), store)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return ts
}

func wsBase(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestClientRoundTrip(t *testing.T) {
	ts := newAPI(t)
	c := NewClient(ts.URL)
	ctx := context.Background()

	r, err := c.Create(ctx, round.CreateRequest{PairID: "p1", UserID: "A", Mode: round.ModeLive})
	require.NoError(t, err)
	assert.Equal(t, round.StatusOpen, r.Status)
	assert.NotEmpty(t, r.Scramble)

	r, err = c.Join(ctx, r.ID, "B")
	require.NoError(t, err)
	assert.Equal(t, round.StatusInProgress, r.Status)

	res, err := c.SubmitSolve(ctx, round.SubmitRequest{RoundID: r.ID, UserID: "A", TimeMs: 11500})
	require.NoError(t, err)
	assert.True(t, res.Recorded)

	r, err = c.Submit(ctx, round.SubmitRequest{RoundID: r.ID, UserID: "B", TimeMs: 9800})
	require.NoError(t, err)
	assert.Equal(t, round.StatusClosed, r.Status)
	require.NotNil(t, r.ClosedAt)

	solves, err := c.Solves(ctx, r.ID, "A")
	require.NoError(t, err)
	assert.Len(t, solves, 2)

	stats, err := c.Stats(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, rounddto.Streak{Player: "B", Count: 1}, stats.Streak)

	active, err := c.ActiveRound(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, active)

	require.NoError(t, c.Delete(ctx, r.ID))
	_, err = c.Round(ctx, r.ID)
	assert.True(t, round.IsNotFound(err), "got %v", err)
}

func TestClientErrorsUnwrap(t *testing.T) {
	ts := newAPI(t)
	c := NewClient(ts.URL)
	ctx := context.Background()

	r, err := c.Create(ctx, round.CreateRequest{PairID: "p1", UserID: "A"})
	require.NoError(t, err)
	_, err = c.Submit(ctx, round.SubmitRequest{RoundID: r.ID, UserID: "A", TimeMs: 1})
	assert.True(t, round.IsInvalidState(err), "got %v", err)

	_, err = c.Create(ctx, round.CreateRequest{PairID: "p1", UserID: "A", Scramble: "R X"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.ErrorIs(t, err, round.ErrInvalidArgs)
}

func TestClientRetriesTransientStatus(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"code":"transient","message":"store unavailable","retryable":true}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"scramble":"R U F","length":3}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, WithRetry(3))
	got, err := c.Scramble(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "R U F", got)
	assert.Equal(t, int32(3), hits.Load())
}

func TestClientTransientAfterRetries(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, WithRetry(2))
	_, err := c.Round(context.Background(), "r1")
	assert.True(t, round.IsTransient(err), "got %v", err)
}

func TestSyncerOverHTTPAndWebsocket(t *testing.T) {
	ts := newAPI(t)
	ctx := context.Background()
	alice := NewClient(ts.URL)
	bob := NewClient(ts.URL)

	r, err := alice.Create(ctx, round.CreateRequest{PairID: "p1", UserID: "A", Mode: round.ModeAsync})
	require.NoError(t, err)

	s := roundsync.New(alice, NewFeed(wsBase(ts)), roundsync.WithPollInterval(time.Hour))
	defer s.Close()

	var (
		mu   sync.Mutex
		last *round.Round
	)
	unsub, err := s.SubscribeRound(ctx, r.ID, func(x *round.Round) {
		mu.Lock()
		last = x
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()

	_, err = bob.Submit(ctx, round.SubmitRequest{RoundID: r.ID, UserID: "B", TimeMs: 9000})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last != nil && last.HasSubmitted("B")
	}, 5*time.Second, 20*time.Millisecond)

	got, err := s.SubmitSolve(ctx, r.ID, "A", 8000, false)
	require.NoError(t, err)
	assert.Equal(t, round.StatusClosed, got.Status)
	assert.Equal(t, round.RevealRevealed, got.RevealStatus)
}

func TestFeedRedialsAfterServerDrop(t *testing.T) {
	var conns atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		if conns.Add(1) == 1 {
			_ = conn.Close(websocket.StatusGoingAway, "restart")
			return
		}
		<-conn.CloseRead(r.Context()).Done()
	}))
	defer ts.Close()

	f := NewFeed(wsBase(ts), WithReconnect(0, 10*time.Millisecond))
	ch, cancel, err := f.Subscribe(context.Background(), "p1")
	require.NoError(t, err)

	select {
	case c := <-ch:
		assert.Equal(t, "p1", c.PairID)
		assert.Empty(t, c.RoundID, "reconnect signal asks for a full re-read")
	case <-time.After(5 * time.Second):
		t.Fatal("no reconnect signal")
	}
	assert.GreaterOrEqual(t, conns.Load(), int32(2))
	cancel()
	for range ch {
	}
}

func TestClientSendsProvidedHeaders(t *testing.T) {
	var auth, trace atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		trace.Store(r.Header.Get("X-Trace-Id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"scramble":"R U F","length":3}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL,
		WithMaxConnsPerHost(2),
		WithHeaderProvider(func() map[string]string {
			return map[string]string{"Authorization": "Bearer t0k", "X-Trace-Id": "abc"}
		}),
	)
	assert.Equal(t, 2, c.http.MaxConnsPerHost)

	for range 3 {
		_, err := c.Scramble(context.Background(), 3)
		require.NoError(t, err)
	}
	assert.Equal(t, "Bearer t0k", auth.Load())
	assert.Equal(t, "abc", trace.Load())
}

func TestFeedSendsProvidedHeaders(t *testing.T) {
	got := make(chan string, 4)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("Authorization")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		<-conn.CloseRead(r.Context()).Done()
	}))
	defer ts.Close()

	f := NewFeed(wsBase(ts), WithFeedHeaders(func() map[string]string {
		return map[string]string{"Authorization": "Bearer t0k"}
	}))
	ch, cancel, err := f.Subscribe(context.Background(), "p1")
	require.NoError(t, err)

	select {
	case h := <-got:
		assert.Equal(t, "Bearer t0k", h)
	case <-time.After(5 * time.Second):
		t.Fatal("feed never dialed")
	}
	cancel()
	for range ch {
	}
}
