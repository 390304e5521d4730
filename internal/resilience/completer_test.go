package resilience_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/ocepa/internal/insight"
	"github.com/MrWong99/ocepa/internal/resilience"
)

type stubCompleter struct {
	answer string
	err    error
	calls  atomic.Int32
}

func (s *stubCompleter) Complete(ctx context.Context, _, _ string) (string, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.answer, s.err
}

func TestCompleter_UsesPrimary(t *testing.T) {
	t.Parallel()
	primary := &stubCompleter{answer: "primary"}
	backup := &stubCompleter{answer: "backup"}
	c := resilience.NewCompleter(resilience.BreakerConfig{},
		resilience.Backend{Name: "openai", Completer: primary},
		resilience.Backend{Name: "ollama", Completer: backup},
	)

	got, err := c.Complete(context.Background(), "sys", "user")
	if err != nil || got != "primary" {
		t.Fatalf("Complete = %q, %v", got, err)
	}
	if backup.calls.Load() != 0 {
		t.Error("backup called while primary is healthy")
	}
}

func TestCompleter_FailsOverAndSkipsOpenPrimary(t *testing.T) {
	t.Parallel()
	primary := &stubCompleter{err: errors.New("503 service unavailable")}
	backup := &stubCompleter{answer: "backup"}
	c := resilience.NewCompleter(resilience.BreakerConfig{MaxFailures: 2, Cooldown: time.Hour},
		resilience.Backend{Name: "openai", Completer: primary},
		resilience.Backend{Name: "ollama", Completer: backup},
	)

	for range 4 {
		got, err := c.Complete(context.Background(), "", "line")
		if err != nil || got != "backup" {
			t.Fatalf("Complete = %q, %v", got, err)
		}
	}
	if n := primary.calls.Load(); n != 2 {
		t.Errorf("primary called %d times; want 2 before its breaker opened", n)
	}
	if s := c.States(); s["openai"] != resilience.StateOpen || s["ollama"] != resilience.StateClosed {
		t.Errorf("States = %v", s)
	}
}

func TestCompleter_AllFail(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	c := resilience.NewCompleter(resilience.BreakerConfig{},
		resilience.Backend{Name: "a", Completer: &stubCompleter{err: errors.New("first")}},
		resilience.Backend{Name: "b", Completer: &stubCompleter{err: boom}},
	)
	_, err := c.Complete(context.Background(), "", "x")
	if !errors.Is(err, resilience.ErrAllFailed) || !errors.Is(err, boom) {
		t.Errorf("err = %v; want ErrAllFailed wrapping the last error", err)
	}
}

func TestCompleter_NoBackends(t *testing.T) {
	t.Parallel()
	_, err := resilience.NewCompleter(resilience.BreakerConfig{}).Complete(context.Background(), "", "x")
	if !errors.Is(err, resilience.ErrAllFailed) {
		t.Errorf("err = %v; want ErrAllFailed", err)
	}
}

func TestCompleter_StopsOnCanceledContext(t *testing.T) {
	t.Parallel()
	primary := &stubCompleter{answer: "a"}
	backup := &stubCompleter{answer: "b"}
	c := resilience.NewCompleter(resilience.BreakerConfig{MaxFailures: 1},
		resilience.Backend{Name: "a", Completer: primary},
		resilience.Backend{Name: "b", Completer: backup},
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Complete(ctx, "", "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v; want context.Canceled", err)
	}
	if backup.calls.Load() != 0 {
		t.Error("backup tried after the caller gave up")
	}
	if s := c.States(); s["a"] != resilience.StateClosed {
		t.Errorf("primary state = %v; cancellation must not trip it", s["a"])
	}
}

func TestCompleter_DrivesLLMClassifier(t *testing.T) {
	t.Parallel()
	backup := &stubCompleter{answer: `[{"category":"Definition","text":"A set is a collection"}]`}
	c := resilience.NewCompleter(resilience.BreakerConfig{},
		resilience.Backend{Name: "down", Completer: &stubCompleter{err: errors.New("timeout")}},
		resilience.Backend{Name: "up", Completer: backup},
	)
	notes, err := insight.NewLLMClassifier(c, nil).Classify(context.Background(), "A set is a collection")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(notes) != 1 || notes[0].Category != insight.CategoryDefinition {
		t.Errorf("notes = %+v", notes)
	}
}
