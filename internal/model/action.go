package model

import "fmt"

// ActionKind identifies one mutating inbox action. Each kind maps to one
// remote endpoint and one state-mutation function.
type ActionKind string

const (
	KindMarkRead     ActionKind = "mark_read"
	KindStar         ActionKind = "star"
	KindArchive      ActionKind = "archive"
	KindDelete       ActionKind = "delete"
	KindSnooze       ActionKind = "snooze"
	KindRelabel      ActionKind = "relabel"
	KindMoveCampaign ActionKind = "move_campaign"
	KindSendMessage  ActionKind = "send_message"
)

var validKinds = map[ActionKind]bool{
	KindMarkRead:     true,
	KindStar:         true,
	KindArchive:      true,
	KindDelete:       true,
	KindSnooze:       true,
	KindRelabel:      true,
	KindMoveCampaign: true,
	KindSendMessage:  true,
}

func ValidateKind(k ActionKind) error {
	if !validKinds[k] {
		return fmt.Errorf("unknown action kind: %q", k)
	}
	return nil
}

// Mutator rewrites an entity state in place. Applied under the store's
// entity lock; must not block.
type Mutator func(*EntityState)

// ActionParams carries the desired post-state for one action request.
// Only the fields relevant to the kind are consulted.
type ActionParams struct {
	Read       *bool   `json:"read,omitempty"`
	Starred    *bool   `json:"starred,omitempty"`
	Archived   *bool   `json:"archived,omitempty"`
	SnoozeTo   *string `json:"snooze_to,omitempty"`
	Label      *string `json:"label,omitempty"`
	CampaignID *string `json:"campaign_id,omitempty"`
	Body       *string `json:"body,omitempty"`
}

// MutatorFor returns the canonical mutation function for a kind. Absent
// params default to the affirmative value (mark_read with no params marks
// read, star with no params stars).
func MutatorFor(kind ActionKind, p ActionParams) (Mutator, error) {
	if err := ValidateKind(kind); err != nil {
		return nil, err
	}

	switch kind {
	case KindMarkRead:
		v := boolOr(p.Read, true)
		return func(s *EntityState) { s.IsRead = v }, nil
	case KindStar:
		v := boolOr(p.Starred, true)
		return func(s *EntityState) { s.IsStarred = v }, nil
	case KindArchive:
		v := boolOr(p.Archived, true)
		return func(s *EntityState) { s.IsArchived = v }, nil
	case KindDelete:
		return func(s *EntityState) { s.IsDeleted = true }, nil
	case KindSnooze:
		if p.SnoozeTo == nil {
			return func(s *EntityState) { s.SnoozedUntil = nil }, nil
		}
		until := *p.SnoozeTo
		return func(s *EntityState) { s.SnoozedUntil = &until }, nil
	case KindRelabel:
		if p.Label == nil {
			return nil, fmt.Errorf("relabel requires a label")
		}
		label := *p.Label
		return func(s *EntityState) { s.Label = label }, nil
	case KindMoveCampaign:
		if p.CampaignID == nil {
			return nil, fmt.Errorf("move_campaign requires a campaign_id")
		}
		campaign := *p.CampaignID
		return func(s *EntityState) { s.CampaignID = campaign }, nil
	case KindSendMessage:
		if p.Body == nil {
			return nil, fmt.Errorf("send_message requires a body")
		}
		body := *p.Body
		return func(s *EntityState) {
			s.LastReply = body
			s.IsRead = true
		}, nil
	}
	return nil, fmt.Errorf("unknown action kind: %q", kind)
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// PendingAction is the immutable descriptor of one in-flight or settled
// action. Owned by the registry until terminal; never persisted.
type PendingAction struct {
	ID             string       `json:"action_id"`
	EntityID       string       `json:"entity_id"`
	Kind           ActionKind   `json:"kind"`
	IdempotencyKey string       `json:"idempotency_key"`
	PriorSnapshot  EntityState  `json:"prior_snapshot"`
	PriorVersion   int          `json:"prior_version"`
	AppliedVersion int          `json:"applied_version"`
	NewState       EntityState  `json:"new_state"`
	CreatedAt      string       `json:"created_at"`
	Deadline       string       `json:"deadline"`
	Status         ActionStatus `json:"status"`
}
