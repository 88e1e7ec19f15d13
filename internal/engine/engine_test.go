package engine

import (
	"bytes"
	"context"
	"log"
	"sync"
	"testing"
	"time"

	"inboxd/internal/model"
	"inboxd/internal/remote"
	"inboxd/internal/store"
)

// fakeService records mutations and can be configured to fail, delay, or
// block until released.
type fakeService struct {
	mu    sync.Mutex
	calls []remote.Mutation
	err   error
	delay time.Duration
	gate  chan struct{}
}

func (f *fakeService) Apply(ctx context.Context, m remote.Mutation) (remote.Confirmation, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return remote.Confirmation{}, &remote.Error{Code: remote.ErrCodeTimeout, Message: ctx.Err().Error()}
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return remote.Confirmation{}, &remote.Error{Code: remote.ErrCodeTimeout, Message: ctx.Err().Error()}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return remote.Confirmation{}, f.err
	}
	f.calls = append(f.calls, m)
	return remote.Confirmation{EntityID: m.EntityID, AppliedAt: time.Now().UTC().Format(time.RFC3339)}, nil
}

func (f *fakeService) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeService) callsFor(entityID string, kind model.ActionKind) []remote.Mutation {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []remote.Mutation
	for _, m := range f.calls {
		if m.EntityID == entityID && m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func testLogger() *log.Logger {
	return log.New(&bytes.Buffer{}, "", 0)
}

func testConfig() model.EngineConfig {
	return model.EngineConfig{
		DefaultGraceMs:   0,
		SendGraceMs:      5000,
		CommitTimeoutSec: 5,
		EventBufferSize:  100,
	}
}

func newTestPresenter(svc remote.Service) (*Presenter, *store.Store) {
	st := store.New(nil)
	p := New(testConfig(), st, nil, svc, testLogger(), LogLevelDebug)
	return p, st
}

// waitTerminal polls until the action reaches a terminal status.
func waitTerminal(t *testing.T, p *Presenter, actionID string) model.ActionStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		view, err := p.Action(actionID)
		if err != nil {
			t.Fatalf("action %s: %v", actionID, err)
		}
		if model.IsTerminal(view.Status) {
			return view.Status
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("action %s never settled", actionID)
	return ""
}

func mustMutator(t *testing.T, kind model.ActionKind, p model.ActionParams) model.Mutator {
	t.Helper()
	m, err := model.MutatorFor(kind, p)
	if err != nil {
		t.Fatalf("mutator for %s: %v", kind, err)
	}
	return m
}
