// Package store holds the projected state of every mutable entity. It is the
// single source of truth: all writes go through Apply or Restore, and every
// successful write is published on the event bus for the UI layer.
package store

import (
	"errors"
	"fmt"
	"sync"

	"inboxd/internal/events"
	"inboxd/internal/model"
)

var (
	// ErrNotFound is returned when no entity exists for the given id.
	ErrNotFound = errors.New("entity not found")
	// ErrVersionConflict is returned by Restore when the entity moved past
	// the version the undone action wrote.
	ErrVersionConflict = errors.New("entity version conflict")
)

// Store owns entity state. Reads copy out; writes hold the per-entity record
// lock only long enough to mutate, so entities never contend with each other.
type Store struct {
	mu       sync.RWMutex
	entities map[string]*record
	bus      *events.Bus
}

type record struct {
	mu      sync.Mutex
	state   model.EntityState
	version int
}

// New creates an empty store publishing to bus. A nil bus disables the feed.
func New(bus *events.Bus) *Store {
	return &Store{
		entities: make(map[string]*record),
		bus:      bus,
	}
}

// Seed creates or replaces an entity at version 1. Used at load time and by
// tests; not part of the mutation pipeline.
func (s *Store) Seed(id string, state model.EntityState) model.Entity {
	s.mu.Lock()
	rec := &record{state: state.Clone(), version: 1}
	s.entities[id] = rec
	s.mu.Unlock()

	s.publish(events.EventEntityApplied, id, rec.version, rec.state)
	return model.Entity{ID: id, State: state.Clone(), Version: 1}
}

// Get returns a copy of the entity's current projection.
func (s *Store) Get(id string) (model.Entity, error) {
	rec, err := s.record(id)
	if err != nil {
		return model.Entity{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return model.Entity{ID: id, State: rec.state.Clone(), Version: rec.version}, nil
}

// Snapshot captures an immutable copy of the entity's state and its current
// version, taken before an optimistic apply. The copy is the only valid
// rollback target for the action that took it.
func (s *Store) Snapshot(id string) (model.EntityState, int, error) {
	rec, err := s.record(id)
	if err != nil {
		return model.EntityState{}, 0, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state.Clone(), rec.version, nil
}

// Apply runs the mutator against the entity and increments the version
// atomically. It is the only way state moves forward. Returns the new version.
func (s *Store) Apply(id string, mutate model.Mutator) (int, error) {
	rec, err := s.record(id)
	if err != nil {
		return 0, err
	}

	rec.mu.Lock()
	mutate(&rec.state)
	rec.version++
	version := rec.version
	state := rec.state.Clone()
	rec.mu.Unlock()

	s.publish(events.EventEntityApplied, id, version, state)
	return version, nil
}

// Restore puts the entity back to snapshot, but only if its current version
// equals expectedVersion — the version the rolling-back action last wrote.
// Anything else means another action moved the entity and the restore would
// clobber newer state; ErrVersionConflict is returned instead. Returns the
// version after restore.
func (s *Store) Restore(id string, snapshot model.EntityState, expectedVersion int) (int, error) {
	rec, err := s.record(id)
	if err != nil {
		return 0, err
	}

	rec.mu.Lock()
	if rec.version != expectedVersion {
		current := rec.version
		rec.mu.Unlock()
		return 0, fmt.Errorf("%w: entity %s at version %d, expected %d", ErrVersionConflict, id, current, expectedVersion)
	}
	rec.state = snapshot.Clone()
	rec.version++
	version := rec.version
	state := rec.state.Clone()
	rec.mu.Unlock()

	s.publish(events.EventEntityRestored, id, version, state)
	return version, nil
}

// Count returns the number of entities held. Used by the daemon metrics tick.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

func (s *Store) record(id string) (*record, error) {
	s.mu.RLock()
	rec, ok := s.entities[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

func (s *Store) publish(typ events.EventType, id string, version int, state model.EntityState) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		Type:     typ,
		EntityID: id,
		Version:  version,
		Data:     map[string]any{"state": state},
	})
}
