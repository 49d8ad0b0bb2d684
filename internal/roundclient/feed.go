package roundclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cube-duel/internal/obslog"
	"github.com/park285/cube-duel/internal/round"
	"github.com/park285/cube-duel/pkg/rounddto"
)

// Feed streams change signals from GET /v1/pairs/{pairID}/changes. Each
// subscription owns one connection and redials with backoff when it drops.
type Feed struct {
	wsURL          string
	headers        HeaderProvider
	reconnectDelay time.Duration
	maxAttempts    int
	pingInterval   time.Duration
	log            *zap.Logger
}

type FeedOption func(*Feed)

// WithReconnect bounds redial attempts per outage; max <= 0 retries until
// the subscription is cancelled.
func WithReconnect(max int, delay time.Duration) FeedOption {
	return func(f *Feed) {
		f.maxAttempts = max
		if delay > 0 {
			f.reconnectDelay = delay
		}
	}
}

func WithFeedHeaders(h HeaderProvider) FeedOption {
	return func(f *Feed) { f.headers = h }
}

func WithFeedLogger(l *zap.Logger) FeedOption {
	return func(f *Feed) {
		if l != nil {
			f.log = l
		}
	}
}

// NewFeed takes the websocket base URL, e.g. ws://localhost:8080.
func NewFeed(wsURL string, opts ...FeedOption) *Feed {
	f := &Feed{
		wsURL:          strings.TrimRight(wsURL, "/"),
		reconnectDelay: 100 * time.Millisecond,
		pingInterval:   30 * time.Second,
		log:            obslog.L(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Subscribe dials once before returning. A failed first dial is not fatal:
// the subscription keeps redialing in the background and the caller's poll
// loop covers the gap.
func (f *Feed) Subscribe(ctx context.Context, pairID string) (<-chan round.Change, func(), error) {
	rootCtx, rootCancel := context.WithCancel(context.Background())
	s := &feedConn{
		feed:   f,
		pairID: pairID,
		url:    f.wsURL + "/v1/pairs/" + url.PathEscape(pairID) + "/changes",
		out:    make(chan round.Change, 16),
		ctx:    rootCtx,
		cancel: rootCancel,
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, err := s.dial(dialCtx)
	cancel()
	if err != nil {
		f.log.Warn("feed_dial_error", zap.String("pair_id", pairID), zap.Error(err))
	}
	s.wg.Add(1)
	go s.run(conn)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.cancel()
			s.wg.Wait()
		})
	}
	return s.out, stop, nil
}

type feedConn struct {
	feed   *Feed
	pairID string
	url    string
	out    chan round.Change
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *feedConn) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      s.buildHeaders(),
	})
	return conn, err
}

func (s *feedConn) run(conn *websocket.Conn) {
	defer s.wg.Done()
	defer close(s.out)
	for {
		if conn == nil {
			conn = s.redial()
			if conn == nil {
				return
			}
			// anything may have changed while disconnected
			if !s.emit(round.Change{PairID: s.pairID}) {
				_ = conn.Close(websocket.StatusNormalClosure, "close")
				return
			}
		}
		s.listen(conn)
		if s.ctx.Err() != nil {
			return
		}
		conn = nil
	}
}

// listen reads until the connection fails or the subscription is cancelled.
func (s *feedConn) listen(conn *websocket.Conn) {
	defer conn.CloseNow()
	pingDone := make(chan struct{})
	defer close(pingDone)
	go s.pingLoop(conn, pingDone)

	for {
		var msg rounddto.Change
		if err := wsjson.Read(s.ctx, conn, &msg); err != nil {
			if s.ctx.Err() == nil {
				s.feed.log.Info("feed_disconnected", zap.String("pair_id", s.pairID), zap.Error(err))
			} else {
				_ = conn.Close(websocket.StatusNormalClosure, "close")
			}
			return
		}
		if !s.emit(round.Change{PairID: msg.PairID, RoundID: msg.RoundID, Table: msg.Table, Op: msg.Op}) {
			return
		}
	}
}

func (s *feedConn) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(s.feed.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-done:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(s.ctx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				_ = conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (s *feedConn) redial() *websocket.Conn {
	for attempt := 1; s.feed.maxAttempts <= 0 || attempt <= s.feed.maxAttempts; attempt++ {
		if err := sleepWithContext(s.ctx, s.backoff(attempt)); err != nil {
			return nil
		}
		dialCtx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
		conn, err := s.dial(dialCtx)
		cancel()
		if err == nil {
			s.feed.log.Info("feed_reconnected", zap.String("pair_id", s.pairID), zap.Int("attempt", attempt))
			return conn
		}
		s.feed.log.Debug("feed_redial_error", zap.String("pair_id", s.pairID), zap.Int("attempt", attempt), zap.Error(err))
	}
	s.feed.log.Warn("feed_gave_up", zap.String("pair_id", s.pairID))
	return nil
}

func (s *feedConn) backoff(attempt int) time.Duration {
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * s.feed.reconnectDelay
}

func (s *feedConn) emit(c round.Change) bool {
	select {
	case s.out <- c:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *feedConn) buildHeaders() http.Header {
	hdr := http.Header{}
	if s.feed.headers == nil {
		return hdr
	}
	for k, v := range s.feed.headers() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
