package rounddto

import "time"

type Round struct {
	ID               string     `json:"id"`
	PairID           string     `json:"pair_id"`
	GameKey          string     `json:"game_key,omitempty"`
	Scramble         string     `json:"scramble"`
	Status           string     `json:"status"`
	Mode             string     `json:"mode"`
	RevealStatus     string     `json:"reveal_status"`
	JoinedUserIDs    []string   `json:"joined_user_ids"`
	SubmittedUserIDs []string   `json:"submitted_user_ids"`
	CreatedByUserID  string     `json:"created_by_user_id"`
	StartedAt        time.Time  `json:"started_at"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
}

type Solve struct {
	ID        string    `json:"id"`
	RoundID   string    `json:"round_id"`
	UserID    string    `json:"user_id"`
	TimeMs    int64     `json:"time_ms"`
	DNF       bool      `json:"dnf"`
	CreatedAt time.Time `json:"created_at"`
}

// Change is pushed over the websocket; clients re-read what it names.
type Change struct {
	PairID  string `json:"pair_id"`
	RoundID string `json:"round_id,omitempty"`
	Table   string `json:"table,omitempty"`
	Op      string `json:"op,omitempty"`
}
