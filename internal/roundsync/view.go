package roundsync

import (
	"sync"

	"github.com/park285/cube-duel/internal/round"
)

// View holds one round as two values: a local proposal made before the server
// answered, and the last state fetched from the server. A confirmation always
// replaces the proposal.
type View struct {
	mu        sync.RWMutex
	proposed  *round.Round
	confirmed *round.Round
	deleted   bool
}

// Propose records an optimistic local state.
func (v *View) Propose(r *round.Round) {
	v.mu.Lock()
	v.proposed = r.Clone()
	v.mu.Unlock()
}

// Confirm stores the authoritative state and drops any proposal. A nil r
// means the round no longer exists.
func (v *View) Confirm(r *round.Round) {
	v.mu.Lock()
	v.confirmed = r.Clone()
	v.proposed = nil
	v.deleted = r == nil
	v.mu.Unlock()
}

// Discard drops the proposal without touching the confirmed state.
func (v *View) Discard() {
	v.mu.Lock()
	v.proposed = nil
	v.mu.Unlock()
}

// Current returns the proposal when one is pending, else the confirmed state.
func (v *View) Current() *round.Round {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.proposed != nil {
		return v.proposed.Clone()
	}
	return v.confirmed.Clone()
}

func (v *View) Confirmed() *round.Round {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.confirmed.Clone()
}

// Pending reports whether an unconfirmed proposal exists.
func (v *View) Pending() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.proposed != nil
}

func (v *View) Deleted() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.deleted
}
