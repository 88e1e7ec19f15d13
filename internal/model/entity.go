// Package model defines the data structures for inboxd's entities, actions, and configuration.
package model

// EntityState is the projected state of a single inbox entity (message or lead).
// Fields are opaque to the engine; each action kind rewrites some subset of them.
type EntityState struct {
	IsRead       bool    `json:"is_read" yaml:"is_read"`
	IsStarred    bool    `json:"is_starred" yaml:"is_starred"`
	IsArchived   bool    `json:"is_archived" yaml:"is_archived"`
	IsDeleted    bool    `json:"is_deleted" yaml:"is_deleted"`
	SnoozedUntil *string `json:"snoozed_until,omitempty" yaml:"snoozed_until,omitempty"`
	CampaignID   string  `json:"campaign_id,omitempty" yaml:"campaign_id,omitempty"`
	Label        string  `json:"label,omitempty" yaml:"label,omitempty"`
	LastReply    string  `json:"last_reply,omitempty" yaml:"last_reply,omitempty"`
}

// Clone returns a deep copy. Snapshots taken for rollback must not alias
// pointer fields of the live state.
func (s EntityState) Clone() EntityState {
	out := s
	if s.SnoozedUntil != nil {
		v := *s.SnoozedUntil
		out.SnoozedUntil = &v
	}
	return out
}

// Entity is the store's projection of one entity: state plus the version
// counter incremented on every successful Apply or Restore.
type Entity struct {
	ID      string      `json:"entity_id"`
	State   EntityState `json:"state"`
	Version int         `json:"version"`
}
