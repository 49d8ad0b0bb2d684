package round

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/park285/cube-duel/internal/obslog"
)

const notifyChannel = "round_changes"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS rounds (
	id                 TEXT PRIMARY KEY,
	pair_id            TEXT NOT NULL,
	game_key           TEXT NOT NULL DEFAULT '',
	scramble           TEXT NOT NULL,
	status             TEXT NOT NULL,
	mode               TEXT NOT NULL,
	reveal_status      TEXT NOT NULL,
	joined_user_ids    TEXT[] NOT NULL DEFAULT '{}',
	submitted_user_ids TEXT[] NOT NULL DEFAULT '{}',
	created_by_user_id TEXT NOT NULL,
	started_at         TIMESTAMPTZ NOT NULL,
	closed_at          TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS rounds_pair_started_idx ON rounds (pair_id, started_at DESC);
CREATE TABLE IF NOT EXISTS solves (
	id         TEXT PRIMARY KEY,
	round_id   TEXT NOT NULL REFERENCES rounds(id) ON DELETE CASCADE,
	user_id    TEXT NOT NULL,
	time_ms    BIGINT NOT NULL CHECK (time_ms >= 0),
	dnf        BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (round_id, user_id)
);`

const roundColumns = `id, pair_id, game_key, scramble, status, mode, reveal_status,
	joined_user_ids, submitted_user_ids, created_by_user_id, started_at, closed_at`

// PostgresStore keeps rounds in a table with TEXT[] membership columns and
// signals changes with pg_notify inside the writing transaction.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects, pings and applies the schema.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, transient("postgres ping", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRound(row rowScanner) (*Round, error) {
	var (
		r        Round
		status   string
		mode     string
		reveal   string
		closedAt sql.NullTime
	)
	err := row.Scan(&r.ID, &r.PairID, &r.GameKey, &r.Scramble, &status, &mode, &reveal,
		pq.Array(&r.JoinedUserIDs), pq.Array(&r.SubmittedUserIDs), &r.CreatedByUserID, &r.StartedAt, &closedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, transient("postgres scan round", err)
	}
	r.Status, r.Mode, r.RevealStatus = Status(status), Mode(mode), RevealStatus(reveal)
	if closedAt.Valid {
		t := closedAt.Time
		r.ClosedAt = &t
	}
	if r.JoinedUserIDs == nil {
		r.JoinedUserIDs = []string{}
	}
	if r.SubmittedUserIDs == nil {
		r.SubmittedUserIDs = []string{}
	}
	return &r, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getRound(ctx context.Context, q querier, id string) (*Round, error) {
	return scanRound(q.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = $1`, id))
}

func notify(ctx context.Context, q querier, c Change) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(raw))
	return err
}

// inTx runs fn in a transaction and commits when it returns nil.
func (s *PostgresStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return transient("postgres begin "+op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return transient("postgres commit "+op, err)
	}
	return nil
}

func (s *PostgresStore) CreateRound(ctx context.Context, r *Round) error {
	return s.inTx(ctx, "create", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO rounds (`+roundColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			r.ID, r.PairID, r.GameKey, r.Scramble, string(r.Status), string(r.Mode), string(r.RevealStatus),
			pq.Array(r.JoinedUserIDs), pq.Array(r.SubmittedUserIDs), r.CreatedByUserID, r.StartedAt, r.ClosedAt)
		if err != nil {
			return fmt.Errorf("insert round: %w", err)
		}
		return notify(ctx, tx, Change{PairID: r.PairID, RoundID: r.ID, Table: TableRounds, Op: "insert"})
	})
}

func (s *PostgresStore) GetRound(ctx context.Context, id string) (*Round, error) {
	return getRound(ctx, s.db, id)
}

func (s *PostgresStore) ListRounds(ctx context.Context, pairID string) ([]*Round, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+roundColumns+` FROM rounds
		WHERE pair_id = $1 ORDER BY started_at DESC, id DESC`, pairID)
	if err != nil {
		return nil, transient("postgres list rounds", err)
	}
	defer rows.Close()
	out := []*Round{}
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("postgres list rounds", err)
	}
	return out, nil
}

func (s *PostgresStore) JoinRound(ctx context.Context, id, userID string) (*Round, bool, error) {
	var joined bool
	err := s.inTx(ctx, "join", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE rounds SET
				joined_user_ids = array_append(joined_user_ids, $2),
				status = CASE WHEN status = 'open' AND cardinality(joined_user_ids) + 1 >= $3 THEN 'in_progress' ELSE status END
			WHERE id = $1 AND status <> 'closed'
				AND NOT ($2 = ANY(joined_user_ids))
				AND cardinality(joined_user_ids) < $3`, id, userID, MaxPlayers)
		if err != nil {
			return transient("postgres join round", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			joined = true
			return notifyRound(ctx, tx, id, TableRounds, "update")
		}
		cur, err := getRound(ctx, tx, id)
		if err != nil {
			return err
		}
		_, err = cur.Join(userID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	r, err := s.GetRound(ctx, id)
	return r, joined, err
}

// SubmitSolve performs the guarded array_append and the solve upsert in one
// transaction. A zero-row append is resolved by re-reading the row: an
// already-recorded user is success, anything else rolls back. A recorded user
// on a closed round leaves the solve untouched.
func (s *PostgresStore) SubmitSolve(ctx context.Context, sv *Solve) (*Round, bool, error) {
	var added bool
	err := s.inTx(ctx, "submit", func(tx *sql.Tx) error {
		cur, err := getRound(ctx, tx, sv.RoundID)
		if err != nil {
			return err
		}
		if cur.Mode == ModeAsync && !cur.HasJoined(sv.UserID) {
			if _, err := tx.ExecContext(ctx, `UPDATE rounds SET joined_user_ids = array_append(joined_user_ids, $2)
				WHERE id = $1 AND NOT ($2 = ANY(joined_user_ids)) AND cardinality(joined_user_ids) < $3`,
				sv.RoundID, sv.UserID, MaxPlayers); err != nil {
				return transient("postgres submit join", err)
			}
		}
		res, err := tx.ExecContext(ctx, `UPDATE rounds SET submitted_user_ids = array_append(submitted_user_ids, $2)
			WHERE id = $1 AND status = 'in_progress'
				AND $2 = ANY(joined_user_ids)
				AND NOT ($2 = ANY(submitted_user_ids))`, sv.RoundID, sv.UserID)
		if err != nil {
			return transient("postgres submit append", err)
		}
		n, _ := res.RowsAffected()
		added = n == 1
		if !added {
			cur, err := getRound(ctx, tx, sv.RoundID)
			if err != nil {
				return err
			}
			if cur.Status == StatusClosed && cur.HasSubmitted(sv.UserID) {
				return nil
			}
			if err := cur.CanSubmit(sv.UserID); err != nil {
				return err
			}
			if !cur.HasSubmitted(sv.UserID) {
				return fmt.Errorf("%w: submit", ErrInvalidState)
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO solves (id, round_id, user_id, time_ms, dnf, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (round_id, user_id) DO UPDATE SET
				id = EXCLUDED.id,
				time_ms = EXCLUDED.time_ms,
				dnf = EXCLUDED.dnf,
				created_at = EXCLUDED.created_at`,
			sv.ID, sv.RoundID, sv.UserID, sv.TimeMs, sv.DNF, sv.CreatedAt); err != nil {
			return transient("postgres upsert solve", err)
		}
		if err := notifyRound(ctx, tx, sv.RoundID, TableSolves, "upsert"); err != nil {
			return err
		}
		if added {
			return notifyRound(ctx, tx, sv.RoundID, TableRounds, "update")
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	r, err := s.GetRound(ctx, sv.RoundID)
	return r, added, err
}

func (s *PostgresStore) ResetSolve(ctx context.Context, roundID, userID string) (*Round, error) {
	err := s.inTx(ctx, "reset", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE rounds SET submitted_user_ids = array_remove(submitted_user_ids, $2)
			WHERE id = $1 AND status = 'in_progress' AND $2 = ANY(joined_user_ids)`, roundID, userID)
		if err != nil {
			return transient("postgres reset solve", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			cur, err := getRound(ctx, tx, roundID)
			if err != nil {
				return err
			}
			return cur.ClearSubmission(userID)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM solves WHERE round_id = $1 AND user_id = $2`, roundID, userID); err != nil {
			return transient("postgres delete solve", err)
		}
		if err := notifyRound(ctx, tx, roundID, TableSolves, "delete"); err != nil {
			return err
		}
		return notifyRound(ctx, tx, roundID, TableRounds, "update")
	})
	if err != nil {
		return nil, err
	}
	return s.GetRound(ctx, roundID)
}

func (s *PostgresStore) CloseRound(ctx context.Context, id string, now time.Time) (*Round, bool, error) {
	var closed bool
	err := s.inTx(ctx, "close", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE rounds SET status = 'closed', closed_at = $2,
				reveal_status = CASE WHEN mode = 'async' THEN 'revealed' ELSE reveal_status END
			WHERE id = $1 AND status <> 'closed'`, id, now)
		if err != nil {
			return transient("postgres close round", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			_, err := getRound(ctx, tx, id)
			return err
		}
		closed = true
		return notifyRound(ctx, tx, id, TableRounds, "update")
	})
	if err != nil {
		return nil, false, err
	}
	r, err := s.GetRound(ctx, id)
	return r, closed, err
}

func (s *PostgresStore) DeleteRound(ctx context.Context, id string) (string, error) {
	var pairID string
	err := s.inTx(ctx, "delete", func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `DELETE FROM rounds WHERE id = $1 RETURNING pair_id`, id).Scan(&pairID)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return transient("postgres delete round", err)
		}
		return notify(ctx, tx, Change{PairID: pairID, RoundID: id, Table: TableRounds, Op: "delete"})
	})
	return pairID, err
}

func (s *PostgresStore) ListSolves(ctx context.Context, roundID string) ([]*Solve, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, round_id, user_id, time_ms, dnf, created_at
		FROM solves WHERE round_id = $1 ORDER BY created_at ASC, user_id ASC`, roundID)
	if err != nil {
		return nil, transient("postgres list solves", err)
	}
	defer rows.Close()
	out := []*Solve{}
	for rows.Next() {
		var sv Solve
		if err := rows.Scan(&sv.ID, &sv.RoundID, &sv.UserID, &sv.TimeMs, &sv.DNF, &sv.CreatedAt); err != nil {
			return nil, transient("postgres scan solve", err)
		}
		out = append(out, &sv)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("postgres list solves", err)
	}
	return out, nil
}

func notifyRound(ctx context.Context, q querier, roundID, table, op string) error {
	var pairID string
	if err := q.QueryRowContext(ctx, `SELECT pair_id FROM rounds WHERE id = $1`, roundID).Scan(&pairID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return transient("postgres notify", err)
	}
	return notify(ctx, q, Change{PairID: pairID, RoundID: roundID, Table: table, Op: op})
}

// PostgresFeed turns LISTEN round_changes into per-pair Change streams. After a
// reconnect it emits a Change with an empty RoundID so subscribers re-read
// everything they track.
type PostgresFeed struct {
	listener *pq.Listener

	mu   sync.Mutex
	subs map[string]map[int]chan Change
	seq  int
	done chan struct{}
	once sync.Once
}

// NewPostgresFeed starts listening on databaseURL.
func NewPostgresFeed(databaseURL string) (*PostgresFeed, error) {
	report := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			obslog.L().Warn("round_listener_event", zap.Int("event", int(ev)), zap.Error(err))
		}
	}
	l := pq.NewListener(databaseURL, 500*time.Millisecond, 30*time.Second, report)
	if err := l.Listen(notifyChannel); err != nil {
		_ = l.Close()
		return nil, transient("postgres listen", err)
	}
	f := &PostgresFeed{listener: l, subs: make(map[string]map[int]chan Change), done: make(chan struct{})}
	go f.run()
	return f, nil
}

func (f *PostgresFeed) run() {
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-f.done:
			return
		case n, ok := <-f.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				f.broadcastAll()
				continue
			}
			var c Change
			if err := json.Unmarshal([]byte(n.Extra), &c); err != nil {
				obslog.L().Warn("round_feed_decode_error", zap.Error(err))
				continue
			}
			f.deliver(c)
		case <-ping.C:
			go func() { _ = f.listener.Ping() }()
		}
	}
}

func (f *PostgresFeed) deliver(c Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[c.PairID] {
		select {
		case ch <- c:
		default:
			// subscriber is behind; its poll loop catches up
		}
	}
}

func (f *PostgresFeed) broadcastAll() {
	f.mu.Lock()
	pairs := make([]string, 0, len(f.subs))
	for p := range f.subs {
		pairs = append(pairs, p)
	}
	f.mu.Unlock()
	for _, p := range pairs {
		f.deliver(Change{PairID: p})
	}
}

func (f *PostgresFeed) Subscribe(_ context.Context, pairID string) (<-chan Change, func(), error) {
	ch := make(chan Change, 16)
	f.mu.Lock()
	f.seq++
	id := f.seq
	if f.subs[pairID] == nil {
		f.subs[pairID] = make(map[int]chan Change)
	}
	f.subs[pairID][id] = ch
	f.mu.Unlock()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs[pairID], id)
			if len(f.subs[pairID]) == 0 {
				delete(f.subs, pairID)
			}
			f.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}

func (f *PostgresFeed) Close() error {
	f.once.Do(func() { close(f.done) })
	return f.listener.Close()
}
