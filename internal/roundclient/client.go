// Package roundclient talks to the round API over HTTP (fasthttp) and
// websocket. Client satisfies roundsync.Remote and Feed satisfies round.Feed.
package roundclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/cube-duel/internal/round"
	"github.com/park285/cube-duel/pkg/rounddto"
)

// HeaderProvider injects per-request headers.
type HeaderProvider func() map[string]string

type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

// WithRetry sets the attempt count for idempotent calls.
func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx answer. It unwraps to the matching round sentinel so
// callers can use round.IsNotFound and friends.
type APIError struct {
	Status int
	Body   rounddto.Error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("round api: status=%d code=%s: %s", e.Status, e.Body.Code, e.Body.Error())
}

func (e *APIError) Unwrap() error {
	switch e.Body.Code {
	case rounddto.CodeNotFound:
		return round.ErrNotFound
	case rounddto.CodeInvalidState:
		return round.ErrInvalidState
	case rounddto.CodeInvalidArgument:
		return round.ErrInvalidArgs
	default:
		return nil
	}
}

func roundPath(id string, rest ...string) string {
	p := "/v1/rounds/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + url.PathEscape(r)
	}
	return p
}

func pairPath(pairID, rest string) string {
	return "/v1/pairs/" + url.PathEscape(pairID) + "/" + rest
}

func (c *Client) Create(ctx context.Context, req round.CreateRequest) (*round.Round, error) {
	in := rounddto.CreateRoundRequest{PairID: req.PairID, GameKey: req.GameKey, UserID: req.UserID, Mode: string(req.Mode), Scramble: req.Scramble}
	var out rounddto.RoundResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/v1/rounds", in, &out, false); err != nil {
		return nil, err
	}
	return round.FromDTO(out.Round), nil
}

func (c *Client) Round(ctx context.Context, roundID string) (*round.Round, error) {
	var out rounddto.RoundResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, roundPath(roundID), nil, &out, true); err != nil {
		return nil, err
	}
	return round.FromDTO(out.Round), nil
}

func (c *Client) Rounds(ctx context.Context, pairID string) ([]*round.Round, error) {
	var out rounddto.RoundsResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, pairPath(pairID, "rounds"), nil, &out, true); err != nil {
		return nil, err
	}
	rounds := make([]*round.Round, 0, len(out.Rounds))
	for _, d := range out.Rounds {
		rounds = append(rounds, round.FromDTO(d))
	}
	return rounds, nil
}

// ActiveRound returns nil without error when the pair has no open round.
func (c *Client) ActiveRound(ctx context.Context, pairID string) (*round.Round, error) {
	var out rounddto.RoundResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, pairPath(pairID, "active"), nil, &out, true); err != nil {
		return nil, err
	}
	return round.FromDTO(out.Round), nil
}

func (c *Client) Join(ctx context.Context, roundID, userID string) (*round.Round, error) {
	var out rounddto.JoinResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, roundPath(roundID, "join"), rounddto.JoinRequest{UserID: userID}, &out, true); err != nil {
		return nil, err
	}
	return round.FromDTO(out.Round), nil
}

// Submit retries safely: a repeated submission overwrites the same solve.
func (c *Client) Submit(ctx context.Context, req round.SubmitRequest) (*round.Round, error) {
	res, err := c.SubmitSolve(ctx, req)
	if err != nil {
		return nil, err
	}
	return round.FromDTO(res.Round), nil
}

// SubmitSolve is Submit with the full response.
func (c *Client) SubmitSolve(ctx context.Context, req round.SubmitRequest) (*rounddto.SubmitResponse, error) {
	in := rounddto.SubmitSolveRequest{UserID: req.UserID, TimeMs: req.TimeMs, DNF: req.DNF}
	var out rounddto.SubmitResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, roundPath(req.RoundID, "solves"), in, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ResetSolve(ctx context.Context, roundID, userID string) (*round.Round, error) {
	var out rounddto.RoundResponse
	if err := c.doJSON(ctx, fasthttp.MethodDelete, roundPath(roundID, "solves", userID), nil, &out, true); err != nil {
		return nil, err
	}
	return round.FromDTO(out.Round), nil
}

func (c *Client) Close(ctx context.Context, roundID string) (*round.Round, error) {
	var out rounddto.CloseResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, roundPath(roundID, "close"), nil, &out, true); err != nil {
		return nil, err
	}
	return round.FromDTO(out.Round), nil
}

func (c *Client) Delete(ctx context.Context, roundID string) error {
	return c.doJSON(ctx, fasthttp.MethodDelete, roundPath(roundID), nil, nil, false)
}

// Solves lists what viewerID may see of the round.
func (c *Client) Solves(ctx context.Context, roundID, viewerID string) ([]*round.Solve, error) {
	path := roundPath(roundID, "solves")
	if viewerID != "" {
		path += "?viewer=" + url.QueryEscape(viewerID)
	}
	var out rounddto.SolvesResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &out, true); err != nil {
		return nil, err
	}
	solves := make([]*round.Solve, 0, len(out.Solves))
	for _, d := range out.Solves {
		solves = append(solves, round.SolveFromDTO(d))
	}
	return solves, nil
}

func (c *Client) Stats(ctx context.Context, pairID string) (*rounddto.StatsResponse, error) {
	var out rounddto.StatsResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, pairPath(pairID, "stats"), nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Scramble(ctx context.Context, length int) (string, error) {
	path := "/v1/scramble"
	if length > 0 {
		path += "?length=" + strconv.Itoa(length)
	}
	var out rounddto.ScrambleResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &out, true); err != nil {
		return "", err
	}
	return out.Scramble, nil
}

func (c *Client) Cube(ctx context.Context, scramble string) (*rounddto.CubeResponse, error) {
	var out rounddto.CubeResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/v1/cube?scramble="+url.QueryEscape(scramble), nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = &round.TransientError{Op: method + " " + path, Err: err}
		} else if status := resp.StatusCode(); status < 200 || status >= 300 {
			apiErr := decodeError(status, resp.Body())
			if !shouldRetryStatus(status) {
				return apiErr
			}
			lastErr = &round.TransientError{Op: method + " " + path, Err: apiErr}
		} else {
			if out != nil && status != fasthttp.StatusNoContent {
				if err := json.Unmarshal(resp.Body(), out); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
			}
			return nil
		}
		if attempt < attempts {
			if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
				return lastErr
			}
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func decodeError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	if err := json.Unmarshal(body, &e.Body); err != nil || e.Body.Code == "" {
		e.Body = rounddto.Error{Code: fasthttp.StatusMessage(status), Message: truncate(string(body), 512)}
	}
	return e
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond // 100ms, 200ms ...
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
