// Package engine implements the deferred-commit mutation engine: optimistic
// apply, a bounded undo window, exactly-once durable commit, and precise
// rollback on cancel or commit failure.
package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"inboxd/internal/model"
)

// Status codes backing the atomic CAS. One-shot transitions out of pending
// and committing are decided by CompareAndSwap; whoever wins proceeds and
// the loser is a no-op.
const (
	codePending int32 = iota
	codeCommitting
	codeCommitted
	codeCancelled
	codeFailed
)

var codeToStatus = map[int32]model.ActionStatus{
	codePending:    model.StatusPending,
	codeCommitting: model.StatusCommitting,
	codeCommitted:  model.StatusCommitted,
	codeCancelled:  model.StatusCancelled,
	codeFailed:     model.StatusFailed,
}

var statusToCode = map[model.ActionStatus]int32{
	model.StatusPending:    codePending,
	model.StatusCommitting: codeCommitting,
	model.StatusCommitted:  codeCommitted,
	model.StatusCancelled:  codeCancelled,
	model.StatusFailed:     codeFailed,
}

// Action is the runtime record of one in-flight mutation. Immutable after
// registration except for the atomic status and the timer handle.
type Action struct {
	ID             string
	EntityID       string
	Kind           model.ActionKind
	IdempotencyKey string
	PriorSnapshot  model.EntityState
	PriorVersion   int
	AppliedVersion int
	NewState       model.EntityState
	CreatedAt      time.Time
	Deadline       time.Time

	status   atomic.Int32
	timer    *Timer
	done     chan struct{}
	doneOnce sync.Once
}

func newAction(id, entityID string, kind model.ActionKind) *Action {
	return &Action{
		ID:       id,
		EntityID: entityID,
		Kind:     kind,
		done:     make(chan struct{}),
	}
}

// Status returns the current status.
func (a *Action) Status() model.ActionStatus {
	return codeToStatus[a.status.Load()]
}

// transition performs the one-shot CAS from one status to another. Returns
// false if another transition won first.
func (a *Action) transition(from, to model.ActionStatus) bool {
	return a.status.CompareAndSwap(statusToCode[from], statusToCode[to])
}

// settle marks the action fully resolved. Waiters blocked on Done (the
// supersede path) are released exactly once.
func (a *Action) settle() {
	a.doneOnce.Do(func() { close(a.done) })
}

// Done is closed once the action has reached a terminal status and its
// side effects (commit confirmation or rollback) have run.
func (a *Action) Done() <-chan struct{} {
	return a.done
}

// View returns the immutable descriptor for inspection surfaces.
func (a *Action) View() model.PendingAction {
	return model.PendingAction{
		ID:             a.ID,
		EntityID:       a.EntityID,
		Kind:           a.Kind,
		IdempotencyKey: a.IdempotencyKey,
		PriorSnapshot:  a.PriorSnapshot.Clone(),
		PriorVersion:   a.PriorVersion,
		AppliedVersion: a.AppliedVersion,
		NewState:       a.NewState.Clone(),
		CreatedAt:      a.CreatedAt.UTC().Format(time.RFC3339),
		Deadline:       a.Deadline.UTC().Format(time.RFC3339),
		Status:         a.Status(),
	}
}
