package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"inboxd/internal/events"
	"inboxd/internal/lock"
	"inboxd/internal/model"
	"inboxd/internal/remote"
	"inboxd/internal/store"
)

// Presenter is the engine's only public surface: submit an action, or cancel
// a pending one. It wires snapshot capture, optimistic apply, registration,
// and the deadline timer into one call, and owns the supersede policy for
// slot collisions.
type Presenter struct {
	cfgMu sync.RWMutex
	cfg   model.EngineConfig

	store       *store.Store
	bus         *events.Bus
	registry    *Registry
	scheduler   *Scheduler
	committer   *Committer
	rollback    *Rollback
	entityLocks *lock.MutexMap

	logger   *log.Logger
	logLevel LogLevel

	inflight sync.WaitGroup
}

// New assembles an engine over the given store, bus, and mutation service.
func New(cfg model.EngineConfig, st *store.Store, bus *events.Bus, service remote.Service, logger *log.Logger, logLevel LogLevel) *Presenter {
	return &Presenter{
		cfg:         cfg,
		store:       st,
		bus:         bus,
		registry:    NewRegistry(logger, logLevel),
		scheduler:   NewScheduler(logger, logLevel),
		committer:   NewCommitter(service, cfg.CommitTimeout(), logger, logLevel),
		rollback:    NewRollback(st, logger, logLevel),
		entityLocks: lock.NewMutexMap(),
		logger:      logger,
		logLevel:    logLevel,
	}
}

// Reconfigure applies updated grace windows at runtime (config hot reload).
// The commit timeout of in-flight calls is unaffected.
func (p *Presenter) Reconfigure(cfg model.EngineConfig) {
	p.cfgMu.Lock()
	p.cfg = cfg
	p.cfgMu.Unlock()
	p.log(LogLevelInfo, "reconfigure default_grace_ms=%d send_grace_ms=%d", cfg.DefaultGraceMs, cfg.SendGraceMs)
}

// Request submits an action with the configured grace window for its kind.
func (p *Presenter) Request(entityID string, kind model.ActionKind, mutate model.Mutator) (string, error) {
	p.cfgMu.RLock()
	grace := p.cfg.GraceFor(kind)
	p.cfgMu.RUnlock()
	return p.RequestWithGrace(entityID, kind, mutate, grace)
}

// RequestWithGrace submits an action with an explicit undo window. The
// optimistic apply is visible when this returns; the returned actionId stays
// cancellable until the grace window elapses and the commit starts.
//
// Slot collision policy: a second request for an (entity, kind) slot whose
// occupant is still pending force-commits the occupant first — its deadline
// is cancelled and its commit runs right away — so an earlier toggle never
// silently vanishes and the queue cannot grow.
func (p *Presenter) RequestWithGrace(entityID string, kind model.ActionKind, mutate model.Mutator, grace time.Duration) (string, error) {
	if err := model.ValidateKind(kind); err != nil {
		return "", err
	}
	if mutate == nil {
		return "", fmt.Errorf("nil mutator for %s/%s", entityID, kind)
	}

	lockKey := "entity:" + entityID
	p.entityLocks.Lock(lockKey)
	defer p.entityLocks.Unlock(lockKey)

	if prev := p.registry.SlotHolder(entityID, kind); prev != nil {
		p.supersede(prev)
	}

	snapshot, priorVersion, err := p.store.Snapshot(entityID)
	if err != nil {
		return "", err
	}

	id, err := model.NewActionID()
	if err != nil {
		return "", err
	}

	appliedVersion, err := p.store.Apply(entityID, mutate)
	if err != nil {
		return "", err
	}
	applied, err := p.store.Get(entityID)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	a := newAction(id, entityID, kind)
	a.IdempotencyKey = uuid.NewString()
	a.PriorSnapshot = snapshot
	a.PriorVersion = priorVersion
	a.AppliedVersion = appliedVersion
	a.NewState = applied.State
	a.CreatedAt = now
	a.Deadline = now.Add(grace)

	if err := p.registry.Register(a); err != nil {
		// Slot invariant violated; revert the optimistic apply.
		if rerr := p.rollback.Revert(a); rerr != nil {
			p.log(LogLevelError, "register_revert action=%s error=%v", a.ID, rerr)
		}
		return "", err
	}

	a.timer = p.scheduler.Start(a, grace, p.commit)
	return a.ID, nil
}

// supersede force-commits the previous slot occupant. If its commit already
// started elsewhere, wait for it to settle so slot order holds.
func (p *Presenter) supersede(prev *Action) {
	if prev.transition(model.StatusPending, model.StatusCommitting) {
		prev.timer.Stop()
		p.log(LogLevelInfo, "supersede action=%s entity=%s kind=%s", prev.ID, prev.EntityID, prev.Kind)
		p.commit(prev)
		return
	}
	<-prev.Done()
}

// commit runs once the action is in committing status (deadline fired or
// supersede). Success confirms the optimistic write; failure resolves the
// action as failed and rolls the entity back.
func (p *Presenter) commit(a *Action) {
	p.inflight.Add(1)
	defer p.inflight.Done()

	if err := p.committer.Execute(context.Background(), a); err != nil {
		if rerr := p.registry.Resolve(a.ID, model.StatusFailed); rerr != nil {
			p.log(LogLevelError, "resolve_failed action=%s error=%v", a.ID, rerr)
		}
		data := map[string]any{"error": err.Error()}
		if rerr := p.rollback.Revert(a); rerr != nil {
			data["rollback_error"] = rerr.Error()
		}
		p.publish(events.EventActionFailed, a, data)
		return
	}

	if err := p.registry.Resolve(a.ID, model.StatusCommitted); err != nil {
		p.log(LogLevelError, "resolve_committed action=%s error=%v", a.ID, err)
		return
	}
	p.publish(events.EventActionCommitted, a, nil)
}

// Undo cancels a pending action and restores the prior snapshot. Returns
// ErrCancelTooLate once the commit started or the action settled, and
// ErrStaleUndo when the snapshot could not be applied cleanly — the entity
// then keeps its newer state.
func (p *Presenter) Undo(actionID string) error {
	a, err := p.registry.Get(actionID)
	if err != nil {
		return err
	}

	if !p.scheduler.Cancel(a.timer) {
		return fmt.Errorf("%w: action=%s status=%s", ErrCancelTooLate, a.ID, a.Status())
	}

	p.registry.ReleaseCancelled(a)

	err = p.rollback.Revert(a)
	data := map[string]any{}
	if err != nil {
		data["rollback_error"] = err.Error()
	}
	p.publish(events.EventActionCancelled, a, data)
	return err
}

// Action returns the descriptor for an action id.
func (p *Presenter) Action(actionID string) (model.PendingAction, error) {
	a, err := p.registry.Get(actionID)
	if err != nil {
		return model.PendingAction{}, err
	}
	return a.View(), nil
}

// Entity returns the current projection of an entity.
func (p *Presenter) Entity(entityID string) (model.Entity, error) {
	return p.store.Get(entityID)
}

// Seed loads an entity into the store.
func (p *Presenter) Seed(entityID string, state model.EntityState) model.Entity {
	return p.store.Seed(entityID, state)
}

// Stats reports live counters for the metrics tick and the stats command.
func (p *Presenter) Stats() map[string]int {
	pending, committing, total := p.registry.Counts()
	return map[string]int{
		"entities":           p.store.Count(),
		"actions_pending":    pending,
		"actions_committing": committing,
		"actions_tracked":    total,
	}
}

// SweepTerminal discards settled actions older than the cutoff.
func (p *Presenter) SweepTerminal(olderThan time.Duration) int {
	return p.registry.SweepTerminal(olderThan)
}

// Drain blocks until in-flight commits finish or the timeout elapses.
// Returns false on timeout.
func (p *Presenter) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (p *Presenter) publish(typ events.EventType, a *Action, data map[string]any) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.Event{
		Type:     typ,
		EntityID: a.EntityID,
		ActionID: a.ID,
		Version:  a.AppliedVersion,
		Data:     data,
	})
}

func (p *Presenter) log(level LogLevel, format string, args ...any) {
	if level < p.logLevel || p.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	p.logger.Printf("%s %s presenter: %s", time.Now().Format(time.RFC3339), LevelString(level), msg)
}
