package model

import "testing"

func TestIsTerminal(t *testing.T) {
	terminal := []ActionStatus{StatusCommitted, StatusCancelled, StatusFailed}
	for _, s := range terminal {
		if !IsTerminal(s) {
			t.Errorf("%s should be terminal", s)
		}
	}

	live := []ActionStatus{StatusPending, StatusCommitting}
	for _, s := range live {
		if IsTerminal(s) {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestValidateActionTransition(t *testing.T) {
	valid := []struct{ from, to ActionStatus }{
		{StatusPending, StatusCommitting},
		{StatusPending, StatusCancelled},
		{StatusCommitting, StatusCommitted},
		{StatusCommitting, StatusFailed},
	}
	for _, c := range valid {
		if err := ValidateActionTransition(c.from, c.to); err != nil {
			t.Errorf("%s → %s should be valid: %v", c.from, c.to, err)
		}
	}

	invalid := []struct{ from, to ActionStatus }{
		{StatusPending, StatusCommitted},
		{StatusPending, StatusFailed},
		{StatusCommitting, StatusCancelled},
		{StatusCommitting, StatusPending},
		{StatusCommitted, StatusFailed},
		{StatusCancelled, StatusCommitting},
		{StatusFailed, StatusPending},
	}
	for _, c := range invalid {
		if err := ValidateActionTransition(c.from, c.to); err == nil {
			t.Errorf("%s → %s should be invalid", c.from, c.to)
		}
	}
}

func TestValidateActionTransition_UnknownStatus(t *testing.T) {
	if err := ValidateActionTransition(ActionStatus("limbo"), StatusCommitted); err == nil {
		t.Error("expected error for unknown status")
	}
}
