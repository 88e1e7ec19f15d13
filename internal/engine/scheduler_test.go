package engine

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"inboxd/internal/model"
)

func TestSchedulerFire(t *testing.T) {
	s := NewScheduler(testLogger(), LogLevelDebug)
	a := makeAction(t, "ent_1700000000_00000001", model.KindArchive)

	fired := make(chan *Action, 1)
	s.Start(a, time.Millisecond, func(fa *Action) { fired <- fa })

	select {
	case fa := <-fired:
		if fa != a {
			t.Error("fired with wrong action")
		}
	case <-time.After(time.Second):
		t.Fatal("deadline never fired")
	}
	if got := a.Status(); got != model.StatusCommitting {
		t.Errorf("status after fire = %s, want %s", got, model.StatusCommitting)
	}
}

func TestSchedulerCancelBeforeFire(t *testing.T) {
	s := NewScheduler(testLogger(), LogLevelDebug)
	a := makeAction(t, "ent_1700000000_00000001", model.KindArchive)

	var fires atomic.Int32
	timer := s.Start(a, time.Hour, func(*Action) { fires.Add(1) })

	if !s.Cancel(timer) {
		t.Fatal("cancel should win against a distant deadline")
	}
	if got := a.Status(); got != model.StatusCancelled {
		t.Errorf("status = %s, want %s", got, model.StatusCancelled)
	}
	if n := fires.Load(); n != 0 {
		t.Errorf("onFire ran %d times after cancel", n)
	}
}

func TestSchedulerCancelAfterFire(t *testing.T) {
	s := NewScheduler(testLogger(), LogLevelDebug)
	a := makeAction(t, "ent_1700000000_00000001", model.KindArchive)

	fired := make(chan struct{})
	timer := s.Start(a, 0, func(*Action) { close(fired) })
	<-fired

	if s.Cancel(timer) {
		t.Error("cancel should lose once the commit started")
	}
	if got := a.Status(); got != model.StatusCommitting {
		t.Errorf("status = %s, want %s", got, model.StatusCommitting)
	}
}

func TestSchedulerCancelNil(t *testing.T) {
	s := NewScheduler(testLogger(), LogLevelDebug)
	if s.Cancel(nil) {
		t.Error("cancel of nil timer reported success")
	}
}

// Zero delay and an immediate cancel race for the same CAS; exactly one side
// must win, every iteration.
func TestSchedulerRaceOneWinner(t *testing.T) {
	s := NewScheduler(testLogger(), LogLevelDebug)

	for i := 0; i < 200; i++ {
		a := makeAction(t, "ent_1700000000_00000001", model.KindStar)

		var fires atomic.Int32
		fired := make(chan struct{})
		timer := s.Start(a, 0, func(*Action) {
			fires.Add(1)
			close(fired)
		})

		var wg sync.WaitGroup
		wg.Add(1)
		var cancelled bool
		go func() {
			defer wg.Done()
			cancelled = s.Cancel(timer)
		}()
		wg.Wait()

		if cancelled {
			if got := a.Status(); got != model.StatusCancelled {
				t.Fatalf("iteration %d: cancel won but status = %s", i, got)
			}
			if fires.Load() != 0 {
				t.Fatalf("iteration %d: onFire ran despite successful cancel", i)
			}
		} else {
			<-fired
			if got := a.Status(); got != model.StatusCommitting {
				t.Fatalf("iteration %d: fire won but status = %s", i, got)
			}
			if fires.Load() != 1 {
				t.Fatalf("iteration %d: onFire ran %d times", i, fires.Load())
			}
		}
	}
}
