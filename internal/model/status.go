package model

import "fmt"

type ActionStatus string

const (
	StatusPending    ActionStatus = "pending"
	StatusCommitting ActionStatus = "committing"
	StatusCommitted  ActionStatus = "committed"
	StatusCancelled  ActionStatus = "cancelled"
	StatusFailed     ActionStatus = "failed"
)

var terminalStatuses = map[ActionStatus]bool{
	StatusCommitted: true,
	StatusCancelled: true,
	StatusFailed:    true,
}

// Action transitions: pending → committing|cancelled, committing → committed|failed.
// Terminal states admit no further transitions.
var validActionTransitions = map[ActionStatus]map[ActionStatus]bool{
	StatusPending: {
		StatusCommitting: true, // deadline fired
		StatusCancelled:  true, // explicit undo
	},
	StatusCommitting: {
		StatusCommitted: true,
		StatusFailed:    true,
	},
}

func IsTerminal(s ActionStatus) bool {
	return terminalStatuses[s]
}

func ValidateActionTransition(from, to ActionStatus) error {
	if IsTerminal(from) {
		return fmt.Errorf("cannot transition from terminal status %q", from)
	}
	allowed, ok := validActionTransitions[from]
	if !ok {
		return fmt.Errorf("unknown status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid action transition: %q → %q", from, to)
	}
	return nil
}
