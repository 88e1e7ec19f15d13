package engine

import (
	"fmt"
	"log"
	"sync"
	"time"

	"inboxd/internal/model"
)

type slotKey struct {
	EntityID string
	Kind     model.ActionKind
}

// Registry tracks every live action and enforces the one-non-terminal-action
// invariant per (entityId, kind) slot. Terminal actions are kept briefly so
// late undos get a precise "too late" answer, then swept.
type Registry struct {
	mu       sync.Mutex
	actions  map[string]*Action
	slots    map[slotKey]*Action
	logger   *log.Logger
	logLevel LogLevel
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *log.Logger, logLevel LogLevel) *Registry {
	return &Registry{
		actions:  make(map[string]*Action),
		slots:    make(map[slotKey]*Action),
		logger:   logger,
		logLevel: logLevel,
	}
}

// Register claims the (entity, kind) slot for a pending action. The caller
// must have settled any previous occupant first.
func (r *Registry) Register(a *Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := slotKey{EntityID: a.EntityID, Kind: a.Kind}
	if prev, ok := r.slots[key]; ok && !model.IsTerminal(prev.Status()) {
		return fmt.Errorf("%w: entity=%s kind=%s holder=%s", ErrSlotOccupied, a.EntityID, a.Kind, prev.ID)
	}

	r.slots[key] = a
	r.actions[a.ID] = a

	r.log(LogLevelInfo, "register action=%s entity=%s kind=%s deadline=%s",
		a.ID, a.EntityID, a.Kind, a.Deadline.UTC().Format(time.RFC3339))
	return nil
}

// Get returns the action for id, or ErrUnknownAction.
func (r *Registry) Get(id string) (*Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.actions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, id)
	}
	return a, nil
}

// SlotHolder returns the current non-terminal occupant of the slot, or nil.
func (r *Registry) SlotHolder(entityID string, kind model.ActionKind) *Action {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.slots[slotKey{EntityID: entityID, Kind: kind}]
	if !ok || model.IsTerminal(a.Status()) {
		return nil
	}
	return a
}

// Resolve moves a committing action to its terminal outcome and frees the
// slot. Resolving an already-terminal action is a no-op: the first
// resolution wins and later ones change nothing.
func (r *Registry) Resolve(id string, outcome model.ActionStatus) error {
	a, err := r.Get(id)
	if err != nil {
		return err
	}

	if err := model.ValidateActionTransition(model.StatusCommitting, outcome); err != nil {
		return err
	}

	if !a.transition(model.StatusCommitting, outcome) {
		r.log(LogLevelDebug, "resolve_noop action=%s status=%s outcome=%s", id, a.Status(), outcome)
		return nil
	}

	r.release(a)
	a.settle()
	r.log(LogLevelInfo, "resolve action=%s entity=%s kind=%s outcome=%s", a.ID, a.EntityID, a.Kind, outcome)
	return nil
}

// ReleaseCancelled frees the slot for an action whose cancel CAS already
// succeeded. Split from the CAS so the scheduler owns the race decision.
func (r *Registry) ReleaseCancelled(a *Action) {
	r.release(a)
	a.settle()
	r.log(LogLevelInfo, "cancelled action=%s entity=%s kind=%s", a.ID, a.EntityID, a.Kind)
}

func (r *Registry) release(a *Action) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := slotKey{EntityID: a.EntityID, Kind: a.Kind}
	if r.slots[key] == a {
		delete(r.slots, key)
	}
}

// SweepTerminal discards terminal actions created before the cutoff.
// Returns the number removed. Run from the daemon's periodic tick.
func (r *Registry) SweepTerminal(olderThan time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for id, a := range r.actions {
		if model.IsTerminal(a.Status()) && a.CreatedAt.Before(cutoff) {
			delete(r.actions, id)
			removed++
		}
	}
	if removed > 0 {
		r.log(LogLevelDebug, "sweep_terminal removed=%d", removed)
	}
	return removed
}

// Counts returns live and total action counts for the metrics tick.
func (r *Registry) Counts() (pending, committing, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.actions {
		switch a.Status() {
		case model.StatusPending:
			pending++
		case model.StatusCommitting:
			committing++
		}
	}
	return pending, committing, len(r.actions)
}

func (r *Registry) log(level LogLevel, format string, args ...any) {
	if level < r.logLevel || r.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	r.logger.Printf("%s %s registry: %s", time.Now().Format(time.RFC3339), LevelString(level), msg)
}
