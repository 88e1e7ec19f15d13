package engine

import (
	"errors"
	"testing"

	"inboxd/internal/model"
	"inboxd/internal/store"
)

func TestRollbackRevert(t *testing.T) {
	st := store.New(nil)
	rb := NewRollback(st, testLogger(), LogLevelDebug)

	ent := st.Seed("ent_1700000000_00000001", model.EntityState{Label: "inbox"})

	a := makeAction(t, ent.ID, model.KindRelabel)
	a.PriorSnapshot = ent.State.Clone()
	a.PriorVersion = ent.Version

	version, err := st.Apply(ent.ID, func(s *model.EntityState) { s.Label = "work" })
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	a.AppliedVersion = version

	if err := rb.Revert(a); err != nil {
		t.Fatalf("revert: %v", err)
	}

	got, err := st.Get(ent.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State.Label != "inbox" {
		t.Errorf("label = %q, want %q", got.State.Label, "inbox")
	}
	if got.Version <= version {
		t.Errorf("version = %d, restore must advance past %d", got.Version, version)
	}
}

func TestRollbackStaleUndo(t *testing.T) {
	st := store.New(nil)
	rb := NewRollback(st, testLogger(), LogLevelDebug)

	ent := st.Seed("ent_1700000000_00000001", model.EntityState{})

	a := makeAction(t, ent.ID, model.KindStar)
	a.PriorSnapshot = ent.State.Clone()
	a.PriorVersion = ent.Version

	version, err := st.Apply(ent.ID, func(s *model.EntityState) { s.IsStarred = true })
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	a.AppliedVersion = version

	// A later mutation moves the entity past the action's applied version.
	if _, err := st.Apply(ent.ID, func(s *model.EntityState) { s.IsRead = true }); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	if err := rb.Revert(a); !errors.Is(err, ErrStaleUndo) {
		t.Fatalf("expected ErrStaleUndo, got %v", err)
	}

	// The newer state survives the refused restore.
	got, err := st.Get(ent.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.State.IsStarred || !got.State.IsRead {
		t.Errorf("newer state clobbered: %+v", got.State)
	}
}
