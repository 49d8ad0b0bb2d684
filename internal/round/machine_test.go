package round

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewValidates(t *testing.T) {
	if _, err := New("", "p", "", "R", ModeLive, "A", t0); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("missing id: %v", err)
	}
	if _, err := New("r", "p", "", "R", Mode("blitz"), "A", t0); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("bad mode: %v", err)
	}
	r, err := New("r", "p", "g", "R", ModeAsync, "A", t0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.Status != StatusInProgress || r.Validate() != nil {
		t.Fatalf("async round: %+v", r)
	}
}

func TestMachineLifecycle(t *testing.T) {
	r, _ := New("r", "p", "", "R U", ModeLive, "A", t0)
	if r.ReadyToClose() {
		t.Fatalf("fresh round cannot be ready")
	}
	if _, err := r.RecordSubmission("A"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("submit on open: %v", err)
	}
	if ok, err := r.Join("B"); !ok || err != nil || r.Status != StatusInProgress {
		t.Fatalf("join: %v %v %s", ok, err, r.Status)
	}
	if ok, _ := r.Join("B"); ok {
		t.Fatalf("repeat join changed state")
	}
	if _, err := r.Join("C"); !errors.Is(err, ErrRoundFull) {
		t.Fatalf("third join: %v", err)
	}
	if added, _ := r.RecordSubmission("A"); !added {
		t.Fatalf("first submission not added")
	}
	if added, _ := r.RecordSubmission("A"); added {
		t.Fatalf("duplicate submission added")
	}
	if r.ReadyToClose() {
		t.Fatalf("one submission is not enough")
	}
	if err := r.ClearSubmission("A"); err != nil || r.HasSubmitted("A") {
		t.Fatalf("clear: %v", err)
	}
	r.RecordSubmission("A")
	r.RecordSubmission("B")
	if !r.ReadyToClose() {
		t.Fatalf("both submitted but not ready")
	}
	if !r.Close(t0.Add(time.Minute)) || r.Close(t0.Add(2*time.Minute)) {
		t.Fatalf("close must change state exactly once")
	}
	if !r.ClosedAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("closed_at overwritten: %v", r.ClosedAt)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := r.ClearSubmission("A"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("reset after close: %v", err)
	}
}

func TestAsyncImplicitJoin(t *testing.T) {
	r, _ := New("r", "p", "", "R", ModeAsync, "A", t0)
	if added, err := r.RecordSubmission("B"); !added || err != nil {
		t.Fatalf("async implicit join: %v %v", added, err)
	}
	if !r.HasJoined("B") {
		t.Fatalf("B not joined")
	}
	if err := r.CanSubmit("C"); !errors.Is(err, ErrRoundFull) {
		t.Fatalf("third async submitter: %v", err)
	}
	r.Close(t0)
	if !r.Revealed() {
		t.Fatalf("closed async round not revealed")
	}
}

func TestLatestAndVisibility(t *testing.T) {
	older, _ := New("r1", "p", "", "R", ModeLive, "A", t0)
	newer, _ := New("r2", "p", "", "R", ModeLive, "A", t0.Add(time.Minute))
	running, _ := New("r3", "p", "", "R", ModeAsync, "A", t0.Add(-time.Hour))
	if got := Latest([]*Round{older, newer}); got.ID != "r2" {
		t.Fatalf("latest open: %s", got.ID)
	}
	if got := Latest([]*Round{older, newer, running}); got.ID != "r3" {
		t.Fatalf("in progress should win: %s", got.ID)
	}
	if Latest(nil) != nil {
		t.Fatalf("empty list has no active round")
	}

	solves := []*Solve{{UserID: "A", TimeMs: 1}, {UserID: "B", TimeMs: 2}}
	if got := VisibleSolves(running, solves, "B"); len(got) != 1 || got[0].UserID != "B" {
		t.Fatalf("hidden async: %+v", got)
	}
	if got := VisibleSolves(newer, solves, "B"); len(got) != 2 {
		t.Fatalf("live rounds are always visible: %+v", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	r, _ := New("r", "p", "", "R", ModeLive, "A", t0)
	c := r.Clone()
	c.JoinedUserIDs[0] = "Z"
	if r.JoinedUserIDs[0] != "A" {
		t.Fatalf("clone shares slices")
	}
}
