package engine

import (
	"errors"
	"fmt"
	"log"
	"time"

	"inboxd/internal/store"
)

// Rollback restores an entity to an action's prior snapshot, guarded by the
// version check: if another action legitimately moved the entity since, the
// restore is refused and a stale-undo condition surfaced instead of silently
// clobbering newer state.
type Rollback struct {
	store    *store.Store
	logger   *log.Logger
	logLevel LogLevel
}

// NewRollback creates a Rollback writing through st.
func NewRollback(st *store.Store, logger *log.Logger, logLevel LogLevel) *Rollback {
	return &Rollback{store: st, logger: logger, logLevel: logLevel}
}

// Revert puts the entity back to the action's prior snapshot.
func (r *Rollback) Revert(a *Action) error {
	_, err := r.store.Restore(a.EntityID, a.PriorSnapshot, a.AppliedVersion)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			r.log(LogLevelWarn, "revert_stale action=%s entity=%s kind=%s error=%v", a.ID, a.EntityID, a.Kind, err)
			return fmt.Errorf("%w: %v", ErrStaleUndo, err)
		}
		r.log(LogLevelError, "revert_failed action=%s entity=%s error=%v", a.ID, a.EntityID, err)
		return fmt.Errorf("revert %s: %w", a.ID, err)
	}

	r.log(LogLevelInfo, "revert action=%s entity=%s kind=%s version=%d", a.ID, a.EntityID, a.Kind, a.PriorVersion)
	return nil
}

func (r *Rollback) log(level LogLevel, format string, args ...any) {
	if level < r.logLevel || r.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	r.logger.Printf("%s %s rollback: %s", time.Now().Format(time.RFC3339), LevelString(level), msg)
}
