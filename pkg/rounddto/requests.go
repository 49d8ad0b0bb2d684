package rounddto

type CreateRoundRequest struct {
	PairID   string `json:"pair_id"`
	GameKey  string `json:"game_key,omitempty"`
	UserID   string `json:"user_id"`
	Mode     string `json:"mode,omitempty"`
	Scramble string `json:"scramble,omitempty"`
}

type JoinRequest struct {
	UserID string `json:"user_id"`
}

type SubmitSolveRequest struct {
	UserID string `json:"user_id"`
	TimeMs int64  `json:"time_ms"`
	DNF    bool   `json:"dnf"`
}

type RoundResponse struct {
	Round *Round `json:"round"`
}

type RoundsResponse struct {
	Rounds []*Round `json:"rounds"`
}

type SolvesResponse struct {
	Solves []*Solve `json:"solves"`
}

type JoinResponse struct {
	Round   *Round `json:"round"`
	Joined  bool   `json:"joined"`
	Started bool   `json:"started"`
}

type SubmitResponse struct {
	Round    *Round `json:"round"`
	Solve    *Solve `json:"solve"`
	Recorded bool   `json:"recorded"`
	Closed   bool   `json:"closed"`
}

type CloseResponse struct {
	Round  *Round `json:"round"`
	Closed bool   `json:"closed"`
}

type ScrambleResponse struct {
	Scramble string `json:"scramble"`
	Length   int    `json:"length"`
}

// CubeResponse is the preview of a scramble applied to a solved cube.
type CubeResponse struct {
	Scramble string            `json:"scramble"`
	State    string            `json:"state"`
	Faces    map[string]string `json:"faces"`
	Solved   bool              `json:"solved"`
	Skipped  []string          `json:"skipped,omitempty"`
}

type Streak struct {
	Player string `json:"player"`
	Count  int    `json:"count"`
}

type StatsResponse struct {
	PairID   string           `json:"pair_id"`
	Played   int              `json:"played"`
	Wins     map[string]int   `json:"wins"`
	NoWinner int              `json:"no_winner"`
	BestMs   map[string]int64 `json:"best_ms"`
	Streak   Streak           `json:"streak"`
}
