package engine

import (
	"fmt"
	"log"
	"time"

	"inboxd/internal/model"
)

// Scheduler owns the cancellable grace-window timer per pending action.
// Exactly one of onFire or a successful Cancel occurs for a given timer: both
// race for the same pending→X CAS on the action status, and the loser is a
// no-op.
type Scheduler struct {
	logger   *log.Logger
	logLevel LogLevel
}

// Timer is the handle for one scheduled deadline.
type Timer struct {
	action *Action
	timer  *time.Timer
}

// Stop halts the underlying timer. Best effort: the CAS, not Stop, decides
// the cancel-vs-fire race.
func (t *Timer) Stop() {
	if t != nil && t.timer != nil {
		t.timer.Stop()
	}
}

// NewScheduler creates a Scheduler.
func NewScheduler(logger *log.Logger, logLevel LogLevel) *Scheduler {
	return &Scheduler{logger: logger, logLevel: logLevel}
}

// Start arms the deadline for a pending action. When the delay elapses the
// action moves pending→committing and onFire runs on the timer goroutine.
// A delay of zero fires on the next tick but stays cancellable until the
// CAS actually runs.
func (s *Scheduler) Start(a *Action, delay time.Duration, onFire func(*Action)) *Timer {
	if delay < 0 {
		delay = 0
	}

	t := &Timer{action: a}
	t.timer = time.AfterFunc(delay, func() {
		if !a.transition(model.StatusPending, model.StatusCommitting) {
			s.log(LogLevelDebug, "fire_lost action=%s status=%s", a.ID, a.Status())
			return
		}
		s.log(LogLevelInfo, "deadline_fire action=%s entity=%s kind=%s", a.ID, a.EntityID, a.Kind)
		onFire(a)
	})

	s.log(LogLevelDebug, "start action=%s delay=%s", a.ID, delay)
	return t
}

// Cancel attempts to win the race against the deadline. Returns true if the
// cancel CAS succeeded; the timer is stopped and the action will never
// commit. Returns false if the commit already started or the action settled.
func (s *Scheduler) Cancel(t *Timer) bool {
	if t == nil || t.action == nil {
		return false
	}

	if !t.action.transition(model.StatusPending, model.StatusCancelled) {
		s.log(LogLevelDebug, "cancel_lost action=%s status=%s", t.action.ID, t.action.Status())
		return false
	}

	t.Stop()
	s.log(LogLevelInfo, "cancel action=%s entity=%s kind=%s", t.action.ID, t.action.EntityID, t.action.Kind)
	return true
}

func (s *Scheduler) log(level LogLevel, format string, args ...any) {
	if level < s.logLevel || s.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	s.logger.Printf("%s %s scheduler: %s", time.Now().Format(time.RFC3339), LevelString(level), msg)
}
