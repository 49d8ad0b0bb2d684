package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cube-duel/internal/round"
	"github.com/park285/cube-duel/pkg/rounddto"
)

const writeTimeout = 5 * time.Second

// Hub shares one feed subscription per pair among that pair's websocket
// clients.
type Hub struct {
	feed round.Feed
	log  *zap.Logger

	mu    sync.Mutex
	pairs map[string]*hubPair
	seq   int

	ctx    context.Context
	cancel context.CancelFunc
}

type hubPair struct {
	conns  map[int]chan round.Change
	cancel func()
}

func NewHub(feed round.Feed, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{feed: feed, log: log, pairs: make(map[string]*hubPair), ctx: ctx, cancel: cancel}
}

// ServeHTTP upgrades GET /v1/pairs/{pairID}/changes and streams Change events
// until either side goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	pairID := r.PathValue("pairID")
	if pairID == "" {
		http.Error(w, "pair id required", http.StatusBadRequest)
		return
	}
	// subscribe before the handshake completes so no change is missed
	ch, leave, err := h.join(pairID)
	if err != nil {
		h.log.Warn("ws_feed_error", zap.String("pair_id", pairID), zap.Error(err))
		http.Error(w, "feed unavailable", http.StatusServiceUnavailable)
		return
	}
	defer leave()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{CompressionMode: websocket.CompressionNoContextTakeover})
	if err != nil {
		h.log.Warn("ws_accept_error", zap.String("pair_id", pairID), zap.Error(err))
		return
	}
	defer conn.CloseNow()
	h.log.Debug("ws_client_join", zap.String("pair_id", pairID))

	// clients never send; CloseRead handles control frames and cancels ctx on close
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			_ = conn.Close(websocket.StatusGoingAway, "server shutdown")
			return
		case c, ok := <-ch:
			if !ok {
				_ = conn.Close(websocket.StatusTryAgainLater, "feed closed")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, rounddto.Change{PairID: c.PairID, RoundID: c.RoundID, Table: c.Table, Op: c.Op})
			cancel()
			if err != nil {
				h.log.Debug("ws_write_error", zap.String("pair_id", pairID), zap.Error(err))
				return
			}
		}
	}
}

func (h *Hub) join(pairID string) (<-chan round.Change, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hp := h.pairs[pairID]
	if hp == nil {
		src, cancel, err := h.feed.Subscribe(h.ctx, pairID)
		if err != nil {
			return nil, nil, err
		}
		hp = &hubPair{conns: make(map[int]chan round.Change), cancel: cancel}
		h.pairs[pairID] = hp
		go h.fanout(pairID, hp, src)
	}
	h.seq++
	id := h.seq
	ch := make(chan round.Change, 16)
	hp.conns[id] = ch

	var once sync.Once
	leave := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(hp.conns, id)
			last := len(hp.conns) == 0 && h.pairs[pairID] == hp
			if last {
				delete(h.pairs, pairID)
			}
			h.mu.Unlock()
			if last {
				hp.cancel()
			}
		})
	}
	return ch, leave, nil
}

func (h *Hub) fanout(pairID string, hp *hubPair, src <-chan round.Change) {
	for c := range src {
		h.mu.Lock()
		for _, ch := range hp.conns {
			select {
			case ch <- c:
			default:
				// slow client; its poll loop catches up
			}
		}
		h.mu.Unlock()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range hp.conns {
		close(ch)
		delete(hp.conns, id)
	}
	if h.pairs[pairID] == hp {
		delete(h.pairs, pairID)
	}
}

// Close cancels every feed subscription.
func (h *Hub) Close() {
	h.cancel()
	h.mu.Lock()
	pairs := h.pairs
	h.pairs = make(map[string]*hubPair)
	h.mu.Unlock()
	for _, hp := range pairs {
		hp.cancel()
	}
}
