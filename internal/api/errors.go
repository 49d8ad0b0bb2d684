package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/park285/cube-duel/internal/cube"
	"github.com/park285/cube-duel/internal/round"
	"github.com/park285/cube-duel/pkg/rounddto"
)

// toDomainError maps manager errors onto the wire taxonomy.
func toDomainError(err error) (int, rounddto.Error) {
	var tokErr *cube.TokenError
	switch {
	case round.IsNotFound(err):
		return http.StatusNotFound, rounddto.Error{Code: rounddto.CodeNotFound, Message: err.Error()}
	case round.IsInvalidState(err):
		return http.StatusConflict, rounddto.Error{Code: rounddto.CodeInvalidState, Message: err.Error()}
	case errors.Is(err, round.ErrInvalidArgs), errors.Is(err, round.ErrInvalidScramble), errors.As(err, &tokErr):
		return http.StatusBadRequest, rounddto.Error{Code: rounddto.CodeInvalidArgument, Message: err.Error()}
	case round.IsTransient(err):
		return http.StatusServiceUnavailable, rounddto.Error{Code: rounddto.CodeTransient, Message: "store unavailable", Retryable: true}
	default:
		return http.StatusInternalServerError, rounddto.Error{Code: rounddto.CodeInternal, Message: "internal error"}
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := toDomainError(err)
	if status >= 500 {
		s.log.Error("http_handler_error", zap.String("path", r.URL.Path), zap.Error(err))
	}
	s.writeJSON(w, status, body)
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, rounddto.Error{Code: rounddto.CodeInvalidArgument, Message: msg})
}
