package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"inboxd/internal/remote"
)

// Committer invokes the Entity Mutation Service for actions whose deadline
// fired. Each call is bounded by the commit timeout, and concurrent
// duplicate executions for one actionId are collapsed so the endpoint sees
// at most one in-flight call per action.
type Committer struct {
	service  remote.Service
	timeout  time.Duration
	group    singleflight.Group
	logger   *log.Logger
	logLevel LogLevel
}

// NewCommitter creates a Committer calling service with the given per-call
// timeout.
func NewCommitter(service remote.Service, timeout time.Duration, logger *log.Logger, logLevel LogLevel) *Committer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Committer{
		service:  service,
		timeout:  timeout,
		logger:   logger,
		logLevel: logLevel,
	}
}

// Execute performs the durable apply for the action. A timeout counts as a
// failure; the caller resolves the action and rolls back.
//
// The status machine already guarantees one commit per action from the
// engine's own flow; the singleflight group guards callers that retry
// Execute directly, collapsing their duplicates onto the in-flight call.
func (c *Committer) Execute(ctx context.Context, a *Action) error {
	_, err, shared := c.group.Do(a.ID, func() (any, error) {
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		return c.service.Apply(cctx, remote.Mutation{
			ActionID:       a.ID,
			IdempotencyKey: a.IdempotencyKey,
			EntityID:       a.EntityID,
			Kind:           a.Kind,
			NewState:       a.NewState,
		})
	})

	if err != nil {
		c.log(LogLevelError, "commit_failed action=%s entity=%s kind=%s error=%v", a.ID, a.EntityID, a.Kind, err)
		return fmt.Errorf("commit %s: %w", a.ID, err)
	}

	c.log(LogLevelInfo, "commit_success action=%s entity=%s kind=%s shared=%v", a.ID, a.EntityID, a.Kind, shared)
	return nil
}

func (c *Committer) log(level LogLevel, format string, args ...any) {
	if level < c.logLevel || c.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	c.logger.Printf("%s %s committer: %s", time.Now().Format(time.RFC3339), LevelString(level), msg)
}
