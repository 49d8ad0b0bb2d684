package round

import "github.com/park285/cube-duel/pkg/rounddto"

func ToDTO(r *Round) *rounddto.Round {
	if r == nil {
		return nil
	}
	c := r.Clone()
	return &rounddto.Round{
		ID:               c.ID,
		PairID:           c.PairID,
		GameKey:          c.GameKey,
		Scramble:         c.Scramble,
		Status:           string(c.Status),
		Mode:             string(c.Mode),
		RevealStatus:     string(c.RevealStatus),
		JoinedUserIDs:    nonNil(c.JoinedUserIDs),
		SubmittedUserIDs: nonNil(c.SubmittedUserIDs),
		CreatedByUserID:  c.CreatedByUserID,
		StartedAt:        c.StartedAt,
		ClosedAt:         c.ClosedAt,
	}
}

func FromDTO(d *rounddto.Round) *Round {
	if d == nil {
		return nil
	}
	r := &Round{
		ID:               d.ID,
		PairID:           d.PairID,
		GameKey:          d.GameKey,
		Scramble:         d.Scramble,
		Status:           Status(d.Status),
		Mode:             Mode(d.Mode),
		RevealStatus:     RevealStatus(d.RevealStatus),
		JoinedUserIDs:    nonNil(d.JoinedUserIDs),
		SubmittedUserIDs: nonNil(d.SubmittedUserIDs),
		CreatedByUserID:  d.CreatedByUserID,
		StartedAt:        d.StartedAt,
		ClosedAt:         d.ClosedAt,
	}
	return r.Clone()
}

func ToDTOs(rs []*Round) []*rounddto.Round {
	out := make([]*rounddto.Round, 0, len(rs))
	for _, r := range rs {
		out = append(out, ToDTO(r))
	}
	return out
}

func SolveToDTO(s *Solve) *rounddto.Solve {
	if s == nil {
		return nil
	}
	return &rounddto.Solve{ID: s.ID, RoundID: s.RoundID, UserID: s.UserID, TimeMs: s.TimeMs, DNF: s.DNF, CreatedAt: s.CreatedAt}
}

func SolveFromDTO(d *rounddto.Solve) *Solve {
	if d == nil {
		return nil
	}
	return &Solve{ID: d.ID, RoundID: d.RoundID, UserID: d.UserID, TimeMs: d.TimeMs, DNF: d.DNF, CreatedAt: d.CreatedAt}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return append([]string(nil), ids...)
}
