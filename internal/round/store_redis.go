package round

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cube-duel/internal/obslog"
)

// script result codes
const (
	codeNotFound = -1
	codeState    = -2
	codeNotIn    = -3
	codeFull     = -4
	codeLanded   = 2
)

var joinScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then return 0 end
local status = redis.call('HGET', KEYS[1], 'status')
if status == 'closed' then return -2 end
if redis.call('SCARD', KEYS[2]) >= tonumber(ARGV[2]) then return -4 end
redis.call('SADD', KEYS[2], ARGV[1])
if status == 'open' and redis.call('SCARD', KEYS[2]) >= tonumber(ARGV[2]) then
  redis.call('HSET', KEYS[1], 'status', 'in_progress')
end
return 1
`)

// submitScript writes the solve and appends the user to the submitted set only
// when absent. SADD returning 0 means an earlier attempt already landed. A user
// already in the submitted set of a closed round gets codeLanded and nothing is
// written.
var submitScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local status = redis.call('HGET', KEYS[1], 'status')
if status == 'closed' and redis.call('SISMEMBER', KEYS[3], ARGV[1]) == 1 then return 2 end
if status ~= 'in_progress' then return -2 end
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 0 then
  if redis.call('HGET', KEYS[1], 'mode') ~= 'async' then return -3 end
  if redis.call('SCARD', KEYS[2]) >= tonumber(ARGV[3]) then return -4 end
  redis.call('SADD', KEYS[2], ARGV[1])
end
redis.call('HSET', KEYS[4], ARGV[1], ARGV[2])
return redis.call('SADD', KEYS[3], ARGV[1])
`)

var resetScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HGET', KEYS[1], 'status') ~= 'in_progress' then return -2 end
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 0 then return -3 end
redis.call('SREM', KEYS[3], ARGV[1])
return redis.call('HDEL', KEYS[4], ARGV[1])
`)

var closeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HGET', KEYS[1], 'status') == 'closed' then return 0 end
redis.call('HSET', KEYS[1], 'status', 'closed', 'closed_at', ARGV[1])
if redis.call('HGET', KEYS[1], 'mode') == 'async' then
  redis.call('HSET', KEYS[1], 'reveal_status', 'revealed')
end
return 1
`)

var deleteScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
redis.call('DEL', KEYS[1], KEYS[2], KEYS[3], KEYS[4])
redis.call('ZREM', KEYS[5], ARGV[1])
return 1
`)

// RedisStore keeps each round as a hash plus two sets and a solve hash, and
// publishes a Change on every write.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore wraps rdb. ttl <= 0 keeps rounds forever.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// OpenRedis connects to redisURL and pings it.
func OpenRedis(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis store")
	}
	opts, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStore(rdb, ttl), nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func keyMeta(id string) string { return "round:" + strings.TrimSpace(id) }
func keyJoined(id string) string { return keyMeta(id) + ":joined" }
func keySubmitted(id string) string { return keyMeta(id) + ":submitted" }
func keySolves(id string) string { return keyMeta(id) + ":solves" }
func keyPairRounds(pair string) string { return "pair:" + strings.TrimSpace(pair) + ":rounds" }
func channelPair(pair string) string { return "rounds:changes:" + strings.TrimSpace(pair) }

func roundKeys(id string) []string {
	return []string{keyMeta(id), keyJoined(id), keySubmitted(id), keySolves(id)}
}

func (s *RedisStore) CreateRound(ctx context.Context, r *Round) error {
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, keyMeta(r.ID), encodeMeta(r))
	pipe.SAdd(ctx, keyJoined(r.ID), toAny(r.JoinedUserIDs)...)
	pipe.ZAdd(ctx, keyPairRounds(r.PairID), redis.Z{Score: float64(r.StartedAt.UnixMilli()), Member: r.ID})
	if s.ttl > 0 {
		for _, k := range roundKeys(r.ID) {
			pipe.Expire(ctx, k, s.ttl)
		}
		pipe.Expire(ctx, keyPairRounds(r.PairID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return transient("redis create round", err)
	}
	s.publish(ctx, Change{PairID: r.PairID, RoundID: r.ID, Table: TableRounds, Op: "insert"})
	return nil
}

func (s *RedisStore) GetRound(ctx context.Context, id string) (*Round, error) {
	pipe := s.rdb.Pipeline()
	meta := pipe.HGetAll(ctx, keyMeta(id))
	joined := pipe.SMembers(ctx, keyJoined(id))
	submitted := pipe.SMembers(ctx, keySubmitted(id))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, transient("redis get round", err)
	}
	fields := meta.Val()
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	r, err := decodeMeta(fields)
	if err != nil {
		return nil, err
	}
	r.JoinedUserIDs = orderMembers(joined.Val(), r.CreatedByUserID)
	r.SubmittedUserIDs = orderMembers(submitted.Val(), r.CreatedByUserID)
	return r, nil
}

func (s *RedisStore) ListRounds(ctx context.Context, pairID string) ([]*Round, error) {
	ids, err := s.rdb.ZRevRange(ctx, keyPairRounds(pairID), 0, -1).Result()
	if err != nil {
		return nil, transient("redis list rounds", err)
	}
	out := make([]*Round, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetRound(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// expired round; drop the stale index entry
			_ = s.rdb.ZRem(ctx, keyPairRounds(pairID), id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *RedisStore) JoinRound(ctx context.Context, id, userID string) (*Round, bool, error) {
	code, err := joinScript.Run(ctx, s.rdb, []string{keyMeta(id), keyJoined(id)}, userID, MaxPlayers).Int()
	if err != nil {
		return nil, false, transient("redis join round", err)
	}
	if err := scriptErr(code, "join"); err != nil {
		return nil, false, err
	}
	r, err := s.GetRound(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if code == 1 {
		s.touch(ctx, r)
		s.publish(ctx, Change{PairID: r.PairID, RoundID: id, Table: TableRounds, Op: "update"})
	}
	return r, code == 1, nil
}

func (s *RedisStore) SubmitSolve(ctx context.Context, sv *Solve) (*Round, bool, error) {
	raw, err := json.Marshal(sv)
	if err != nil {
		return nil, false, err
	}
	keys := []string{keyMeta(sv.RoundID), keyJoined(sv.RoundID), keySubmitted(sv.RoundID), keySolves(sv.RoundID)}
	code, err := submitScript.Run(ctx, s.rdb, keys, sv.UserID, raw, MaxPlayers).Int()
	if err != nil {
		return nil, false, transient("redis submit solve", err)
	}
	if err := scriptErr(code, "submit"); err != nil {
		return nil, false, err
	}
	r, err := s.GetRound(ctx, sv.RoundID)
	if err != nil {
		return nil, false, err
	}
	if code == codeLanded {
		return r, false, nil
	}
	s.touch(ctx, r)
	s.publish(ctx, Change{PairID: r.PairID, RoundID: r.ID, Table: TableSolves, Op: "upsert"})
	if code == 1 {
		s.publish(ctx, Change{PairID: r.PairID, RoundID: r.ID, Table: TableRounds, Op: "update"})
	}
	return r, code == 1, nil
}

func (s *RedisStore) ResetSolve(ctx context.Context, roundID, userID string) (*Round, error) {
	keys := []string{keyMeta(roundID), keyJoined(roundID), keySubmitted(roundID), keySolves(roundID)}
	code, err := resetScript.Run(ctx, s.rdb, keys, userID).Int()
	if err != nil {
		return nil, transient("redis reset solve", err)
	}
	if err := scriptErr(code, "reset"); err != nil {
		return nil, err
	}
	r, err := s.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if code == 1 {
		s.publish(ctx, Change{PairID: r.PairID, RoundID: r.ID, Table: TableSolves, Op: "delete"})
		s.publish(ctx, Change{PairID: r.PairID, RoundID: r.ID, Table: TableRounds, Op: "update"})
	}
	return r, nil
}

func (s *RedisStore) CloseRound(ctx context.Context, id string, now time.Time) (*Round, bool, error) {
	code, err := closeScript.Run(ctx, s.rdb, []string{keyMeta(id)}, now.UTC().Format(time.RFC3339Nano)).Int()
	if err != nil {
		return nil, false, transient("redis close round", err)
	}
	if err := scriptErr(code, "close"); err != nil {
		return nil, false, err
	}
	r, err := s.GetRound(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if code == 1 {
		s.publish(ctx, Change{PairID: r.PairID, RoundID: id, Table: TableRounds, Op: "update"})
	}
	return r, code == 1, nil
}

func (s *RedisStore) DeleteRound(ctx context.Context, id string) (string, error) {
	pairID, err := s.rdb.HGet(ctx, keyMeta(id), "pair_id").Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", transient("redis delete round", err)
	}
	keys := append(roundKeys(id), keyPairRounds(pairID))
	code, err := deleteScript.Run(ctx, s.rdb, keys, id).Int()
	if err != nil {
		return "", transient("redis delete round", err)
	}
	if err := scriptErr(code, "delete"); err != nil {
		return "", err
	}
	s.publish(ctx, Change{PairID: pairID, RoundID: id, Table: TableRounds, Op: "delete"})
	return pairID, nil
}

func (s *RedisStore) ListSolves(ctx context.Context, roundID string) ([]*Solve, error) {
	raw, err := s.rdb.HGetAll(ctx, keySolves(roundID)).Result()
	if err != nil {
		return nil, transient("redis list solves", err)
	}
	out := make([]*Solve, 0, len(raw))
	for user, v := range raw {
		var sv Solve
		if err := json.Unmarshal([]byte(v), &sv); err != nil {
			return nil, fmt.Errorf("decode solve %s/%s: %w", roundID, user, err)
		}
		out = append(out, &sv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// Subscribe listens on the pair's pub/sub channel.
func (s *RedisStore) Subscribe(ctx context.Context, pairID string) (<-chan Change, func(), error) {
	ps := s.rdb.Subscribe(ctx, channelPair(pairID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, transient("redis subscribe", err)
	}
	out := make(chan Change, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					obslog.L().Warn("round_feed_decode_error", zap.String("pair_id", pairID), zap.Error(err))
					continue
				}
				select {
				case out <- c:
				case <-done:
					return
				}
			}
		}
	}()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}
	return out, cancel, nil
}

func (s *RedisStore) publish(ctx context.Context, c Change) {
	raw, err := json.Marshal(c)
	if err != nil {
		return
	}
	// the poll loop covers a lost signal
	if err := s.rdb.Publish(ctx, channelPair(c.PairID), raw).Err(); err != nil {
		obslog.L().Warn("round_publish_error", zap.String("round_id", c.RoundID), zap.Error(err))
	}
}

func (s *RedisStore) touch(ctx context.Context, r *Round) {
	if s.ttl <= 0 {
		return
	}
	pipe := s.rdb.Pipeline()
	for _, k := range roundKeys(r.ID) {
		pipe.Expire(ctx, k, s.ttl)
	}
	pipe.Expire(ctx, keyPairRounds(r.PairID), s.ttl)
	_, _ = pipe.Exec(ctx)
}

func scriptErr(code int, op string) error {
	switch code {
	case codeNotFound:
		return ErrNotFound
	case codeState:
		return fmt.Errorf("%w: %s", ErrInvalidState, op)
	case codeNotIn:
		return ErrNotJoined
	case codeFull:
		return ErrRoundFull
	default:
		return nil
	}
}

func encodeMeta(r *Round) map[string]any {
	m := map[string]any{
		"id":            r.ID,
		"pair_id":       r.PairID,
		"game_key":      r.GameKey,
		"scramble":      r.Scramble,
		"status":        string(r.Status),
		"mode":          string(r.Mode),
		"reveal_status": string(r.RevealStatus),
		"created_by":    r.CreatedByUserID,
		"started_at":    r.StartedAt.UTC().Format(time.RFC3339Nano),
	}
	if r.ClosedAt != nil {
		m["closed_at"] = r.ClosedAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func decodeMeta(f map[string]string) (*Round, error) {
	r := &Round{
		ID:              f["id"],
		PairID:          f["pair_id"],
		GameKey:         f["game_key"],
		Scramble:        f["scramble"],
		Status:          Status(f["status"]),
		Mode:            Mode(f["mode"]),
		RevealStatus:    RevealStatus(f["reveal_status"]),
		CreatedByUserID: f["created_by"],
	}
	started, err := time.Parse(time.RFC3339Nano, f["started_at"])
	if err != nil {
		return nil, fmt.Errorf("decode round %s started_at: %w", r.ID, err)
	}
	r.StartedAt = started
	if v := f["closed_at"]; v != "" {
		closed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("decode round %s closed_at: %w", r.ID, err)
		}
		r.ClosedAt = &closed
	}
	return r, nil
}

// orderMembers puts the creator first and sorts the rest, since redis sets are unordered.
func orderMembers(ids []string, creator string) []string {
	out := make([]string, 0, len(ids))
	rest := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == creator {
			out = append(out, id)
		} else {
			rest = append(rest, id)
		}
	}
	slices.Sort(rest)
	return append(out, rest...)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// ParseRedisURL accepts redis:// and rediss:// URLs with an optional /db path.
func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
