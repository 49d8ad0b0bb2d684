package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/park285/cube-duel/internal/cube"
	"github.com/park285/cube-duel/internal/round"
	"github.com/park285/cube-duel/internal/score"
	"github.com/park285/cube-duel/pkg/rounddto"
)

// createRound handles POST /v1/rounds
func (s *Server) createRound(w http.ResponseWriter, r *http.Request) {
	var req rounddto.CreateRoundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.badRequest(w, "invalid JSON")
		return
	}
	mode := round.ModeLive
	if req.Mode != "" {
		m, ok := round.ParseMode(req.Mode)
		if !ok {
			s.badRequest(w, "mode must be live or async")
			return
		}
		mode = m
	}
	rd, err := s.mgr.Create(r.Context(), round.CreateRequest{
		PairID:   req.PairID,
		GameKey:  req.GameKey,
		UserID:   req.UserID,
		Mode:     mode,
		Scramble: req.Scramble,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rounddto.RoundResponse{Round: round.ToDTO(rd)})
}

func (s *Server) getRound(w http.ResponseWriter, r *http.Request) {
	rd, err := s.mgr.Round(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rounddto.RoundResponse{Round: round.ToDTO(rd)})
}

func (s *Server) deleteRound(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) joinRound(w http.ResponseWriter, r *http.Request) {
	var req rounddto.JoinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.badRequest(w, "invalid JSON")
		return
	}
	res, err := s.mgr.Join(r.Context(), r.PathValue("id"), req.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rounddto.JoinResponse{Round: round.ToDTO(res.Round), Joined: res.Joined, Started: res.Started})
}

func (s *Server) closeRound(w http.ResponseWriter, r *http.Request) {
	rd, closed, err := s.mgr.Close(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rounddto.CloseResponse{Round: round.ToDTO(rd), Closed: closed})
}

// listSolves applies the reveal policy for ?viewer=; without a viewer only
// revealed rounds list every solve.
func (s *Server) listSolves(w http.ResponseWriter, r *http.Request) {
	solves, err := s.mgr.SolvesFor(r.Context(), r.PathValue("id"), r.URL.Query().Get("viewer"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]*rounddto.Solve, 0, len(solves))
	for _, sv := range solves {
		out = append(out, round.SolveToDTO(sv))
	}
	s.writeJSON(w, http.StatusOK, rounddto.SolvesResponse{Solves: out})
}

func (s *Server) submitSolve(w http.ResponseWriter, r *http.Request) {
	var req rounddto.SubmitSolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.badRequest(w, "invalid JSON")
		return
	}
	res, err := s.mgr.Submit(r.Context(), round.SubmitRequest{
		RoundID: r.PathValue("id"),
		UserID:  req.UserID,
		TimeMs:  req.TimeMs,
		DNF:     req.DNF,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rounddto.SubmitResponse{
		Round:    round.ToDTO(res.Round),
		Solve:    round.SolveToDTO(res.Solve),
		Recorded: res.Recorded,
		Closed:   res.Closed,
	})
}

func (s *Server) resetSolve(w http.ResponseWriter, r *http.Request) {
	rd, err := s.mgr.ResetSolve(r.Context(), r.PathValue("id"), r.PathValue("userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rounddto.RoundResponse{Round: round.ToDTO(rd)})
}

// activeRound answers 200 with a null round when the pair has nothing running.
func (s *Server) activeRound(w http.ResponseWriter, r *http.Request) {
	rd, err := s.mgr.ActiveRound(r.Context(), r.PathValue("pairID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rounddto.RoundResponse{Round: round.ToDTO(rd)})
}

func (s *Server) listRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := s.mgr.Rounds(r.Context(), r.PathValue("pairID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rounddto.RoundsResponse{Rounds: round.ToDTOs(rounds)})
}

func (s *Server) pairStats(w http.ResponseWriter, r *http.Request) {
	pairID := r.PathValue("pairID")
	history, err := s.mgr.PairSolves(r.Context(), pairID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sum := score.Summarize(history)
	s.writeJSON(w, http.StatusOK, rounddto.StatsResponse{
		PairID:   pairID,
		Played:   sum.Played,
		Wins:     sum.Wins,
		NoWinner: sum.NoWin,
		BestMs:   sum.Best,
		Streak:   rounddto.Streak{Player: sum.Streak.Player, Count: sum.Streak.Count},
	})
}

func (s *Server) scramble(w http.ResponseWriter, r *http.Request) {
	length := s.length
	if v := strings.TrimSpace(r.URL.Query().Get("length")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			s.badRequest(w, "length must be between 1 and 100")
			return
		}
		length = n
	}
	s.writeJSON(w, http.StatusOK, rounddto.ScrambleResponse{Scramble: s.gen.Generate(length), Length: length})
}

// cubePreview applies the scramble leniently; skipped tokens are reported.
func (s *Server) cubePreview(w http.ResponseWriter, r *http.Request) {
	scramble := r.URL.Query().Get("scramble")
	st, skipped := cube.ApplyScrambleReport(scramble)
	s.writeJSON(w, http.StatusOK, rounddto.CubeResponse{
		Scramble: scramble,
		State:    st.String(),
		Faces:    st.Map(),
		Solved:   st.IsSolved(),
		Skipped:  skipped,
	})
}
