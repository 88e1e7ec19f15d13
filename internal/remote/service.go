// Package remote defines the Entity Mutation Service boundary: the external
// store that durably applies a confirmed mutation. The engine calls it at
// most once per action; retries are the caller's concern and must reuse the
// same idempotency key.
package remote

import (
	"context"
	"fmt"

	"inboxd/internal/model"
)

// Mutation is the payload for one durable apply.
type Mutation struct {
	ActionID       string            `json:"action_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	EntityID       string            `json:"entity_id"`
	Kind           model.ActionKind  `json:"kind"`
	NewState       model.EntityState `json:"new_state"`
}

// Confirmation reports a successful durable apply. Duplicate is set when the
// idempotency key had already been applied and the call was a no-op.
type Confirmation struct {
	EntityID  string `json:"entity_id"`
	Duplicate bool   `json:"duplicate"`
	AppliedAt string `json:"applied_at"`
}

// Service is implemented by every mutation backend. Apply must tolerate
// redelivery of the same idempotency key.
type Service interface {
	Apply(ctx context.Context, m Mutation) (Confirmation, error)
}

// Error codes reported by mutation backends.
const (
	ErrCodeUnavailable = "UNAVAILABLE"
	ErrCodeRejected    = "REJECTED"
	ErrCodeTimeout     = "TIMEOUT"
)

// Error is a typed failure from the mutation service.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("mutation service %s: %s", e.Code, e.Message)
}
