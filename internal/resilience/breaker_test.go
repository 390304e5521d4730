package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errBackend = errors.New("backend error")

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func fail() error { return errBackend }
func ok() error   { return nil }

func TestNewBreaker_Defaults(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{Name: "test"})
	if b.cfg.MaxFailures != 3 || b.cfg.Cooldown != 30*time.Second || b.cfg.Probes != 1 || b.cfg.Now == nil {
		t.Errorf("defaults = %+v", b.cfg)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	b := NewBreaker(BreakerConfig{MaxFailures: 2, Now: clock.Now})

	if err := b.Execute(fail); !errors.Is(err, errBackend) {
		t.Fatalf("first failure = %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state after one failure = %v, want closed", b.State())
	}
	b.Execute(fail)
	if b.State() != StateOpen {
		t.Fatalf("state after two failures = %v, want open", b.State())
	}

	called := false
	err := b.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("open breaker: err = %v, called = %v", err, called)
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{MaxFailures: 2})
	b.Execute(fail)
	b.Execute(ok)
	b.Execute(fail)
	if b.State() != StateClosed {
		t.Errorf("state = %v; failures were not consecutive", b.State())
	}
}

func TestBreaker_CanceledCallsDoNotCount(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{MaxFailures: 1})
	err := b.Execute(func() error { return context.Canceled })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v; a canceled call tripped the breaker", b.State())
	}
}

func TestBreaker_HalfOpenProbeCloses(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	b := NewBreaker(BreakerConfig{MaxFailures: 1, Cooldown: time.Minute, Probes: 2, Now: clock.Now})
	b.Execute(fail)

	clock.Advance(59 * time.Second)
	if b.State() != StateOpen {
		t.Fatalf("state before cooldown = %v", b.State())
	}
	clock.Advance(time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("state after cooldown = %v, want half-open", b.State())
	}

	if err := b.Execute(ok); err != nil {
		t.Fatalf("probe 1: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state after one probe = %v; want half-open until 2 probes", b.State())
	}
	b.Execute(ok)
	if b.State() != StateClosed {
		t.Errorf("state after probes = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	b := NewBreaker(BreakerConfig{MaxFailures: 1, Cooldown: time.Minute, Now: clock.Now})
	b.Execute(fail)
	clock.Advance(time.Minute)

	if err := b.Execute(fail); !errors.Is(err, errBackend) {
		t.Fatalf("probe err = %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open again", b.State())
	}
	// The cooldown restarts from the failed probe.
	clock.Advance(30 * time.Second)
	if err := b.Execute(ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v; want ErrCircuitOpen during the new cooldown", err)
	}
}

func TestBreaker_OneProbeAtATime(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	b := NewBreaker(BreakerConfig{MaxFailures: 1, Cooldown: time.Second, Now: clock.Now})
	b.Execute(fail)
	clock.Advance(time.Second)

	inProbe := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- b.Execute(func() error {
			close(inProbe)
			<-release
			return nil
		})
	}()
	<-inProbe
	if err := b.Execute(ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("concurrent probe err = %v; want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{MaxFailures: 1})
	b.Execute(fail)
	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
	if err := b.Execute(ok); err != nil {
		t.Errorf("Execute after Reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
