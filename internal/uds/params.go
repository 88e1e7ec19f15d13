package uds

import "inboxd/internal/model"

// RequestParams submits one mutation: entity, kind, and the desired
// post-state fields for that kind. GraceMs overrides the configured window
// when non-nil.
type RequestParams struct {
	EntityID string             `json:"entity_id"`
	Kind     model.ActionKind   `json:"kind"`
	Params   model.ActionParams `json:"params"`
	GraceMs  *int               `json:"grace_ms,omitempty"`
}

// RequestResult reports the registered action.
type RequestResult struct {
	ActionID string            `json:"action_id"`
	Deadline string            `json:"deadline"`
	Entity   model.EntityState `json:"entity"`
	Version  int               `json:"version"`
}

// UndoParams cancels a pending action.
type UndoParams struct {
	ActionID string `json:"action_id"`
}

// GetParams fetches an entity projection.
type GetParams struct {
	EntityID string `json:"entity_id"`
}

// ActionParams fetches an action descriptor.
type ActionParams struct {
	ActionID string `json:"action_id"`
}

// SeedParams loads an entity into the projection store.
type SeedParams struct {
	EntityID string            `json:"entity_id"`
	State    model.EntityState `json:"state"`
}
