// Package api exposes the round Manager over JSON HTTP and relays change
// signals to websocket clients.
package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cube-duel/internal/cube"
	"github.com/park285/cube-duel/internal/obslog"
	"github.com/park285/cube-duel/internal/round"
)

type Server struct {
	mgr    *round.Manager
	gen    *cube.Generator
	hub    *Hub
	length int
	log    *zap.Logger
}

type Option func(*Server)

func WithGenerator(g *cube.Generator) Option {
	return func(s *Server) {
		if g != nil {
			s.gen = g
		}
	}
}

// WithScrambleLength sets the default length for GET /v1/scramble.
func WithScrambleLength(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.length = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer wires handlers over mgr. feed may be nil, which disables the
// websocket endpoint.
func NewServer(mgr *round.Manager, feed round.Feed, opts ...Option) *Server {
	s := &Server{
		mgr:    mgr,
		gen:    cube.NewGenerator(),
		length: cube.DefaultScrambleLength,
		log:    obslog.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if feed != nil {
		s.hub = NewHub(feed, s.log)
	}
	return s
}

// Close disconnects websocket clients.
func (s *Server) Close() {
	if s.hub != nil {
		s.hub.Close()
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("POST /v1/rounds", s.createRound)
	mux.HandleFunc("GET /v1/rounds/{id}", s.getRound)
	mux.HandleFunc("DELETE /v1/rounds/{id}", s.deleteRound)
	mux.HandleFunc("POST /v1/rounds/{id}/join", s.joinRound)
	mux.HandleFunc("POST /v1/rounds/{id}/close", s.closeRound)
	mux.HandleFunc("GET /v1/rounds/{id}/solves", s.listSolves)
	mux.HandleFunc("POST /v1/rounds/{id}/solves", s.submitSolve)
	mux.HandleFunc("DELETE /v1/rounds/{id}/solves/{userID}", s.resetSolve)

	mux.HandleFunc("GET /v1/pairs/{pairID}/active", s.activeRound)
	mux.HandleFunc("GET /v1/pairs/{pairID}/rounds", s.listRounds)
	mux.HandleFunc("GET /v1/pairs/{pairID}/stats", s.pairStats)
	if s.hub != nil {
		mux.HandleFunc("GET /v1/pairs/{pairID}/changes", s.hub.ServeHTTP)
	}

	mux.HandleFunc("GET /v1/scramble", s.scramble)
	mux.HandleFunc("GET /v1/cube", s.cubePreview)

	return s.withLogging(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack is required by websocket.Accept.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("http_encode_error", zap.Error(err))
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
