package model

import (
	"testing"
	"time"
)

func TestNewActionID(t *testing.T) {
	id, err := NewActionID()
	if err != nil {
		t.Fatalf("new action id: %v", err)
	}
	if !IsActionID(id) {
		t.Errorf("minted action id should validate: %s", id)
	}
	if IsEntityID(id) {
		t.Errorf("action id must not pass as entity id: %s", id)
	}
}

func TestNewEntityID(t *testing.T) {
	id, err := NewEntityID()
	if err != nil {
		t.Fatalf("new entity id: %v", err)
	}
	if !IsEntityID(id) {
		t.Errorf("minted entity id should validate: %s", id)
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := NewActionID()
		if err != nil {
			t.Fatalf("new action id: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id: %s", id)
		}
		seen[id] = true
	}
}

func TestIDValidation(t *testing.T) {
	cases := []struct {
		id     string
		action bool
		entity bool
	}{
		{"act_1700000000_deadbeef", true, false},
		{"ent_1700000000_00000000", false, true},
		{"task_1700000000_deadbeef", false, false},
		{"act_1700000000_zzzzzzzz", false, false},
		{"ent_170_deadbeef", false, false},
		{"act_1700000000_deadbeef_x", false, false},
		{"", false, false},
	}
	for _, c := range cases {
		if got := IsActionID(c.id); got != c.action {
			t.Errorf("IsActionID(%q) = %v, want %v", c.id, got, c.action)
		}
		if got := IsEntityID(c.id); got != c.entity {
			t.Errorf("IsEntityID(%q) = %v, want %v", c.id, got, c.entity)
		}
	}
}

func TestIDCreatedAt(t *testing.T) {
	ts, err := IDCreatedAt("act_1700000000_deadbeef")
	if err != nil {
		t.Fatalf("created at: %v", err)
	}
	if !ts.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("timestamp: got %v", ts)
	}

	if _, err := IDCreatedAt("not-an-id"); err == nil {
		t.Error("expected error for malformed id")
	}
}
