package lecture

import (
	"context"
	"time"
)

// TimingFunc observes one store operation. op is the method name in lower
// case ("create", "get", "list", "update", "delete").
type TimingFunc func(ctx context.Context, op string, d time.Duration, err error)

// WithTiming wraps s so that fn observes the duration and outcome of every
// call. A nil fn returns s unchanged.
func WithTiming(s Store, fn TimingFunc) Store {
	if fn == nil {
		return s
	}
	return &timedStore{next: s, fn: fn}
}

type timedStore struct {
	next Store
	fn   TimingFunc
}

var _ Store = (*timedStore)(nil)

func (t *timedStore) observe(ctx context.Context, op string, start time.Time, err error) {
	t.fn(ctx, op, time.Since(start), err)
}

func (t *timedStore) Create(ctx context.Context, title, userID string) (Lecture, error) {
	start := time.Now()
	l, err := t.next.Create(ctx, title, userID)
	t.observe(ctx, "create", start, err)
	return l, err
}

func (t *timedStore) Get(ctx context.Context, id string) (Lecture, error) {
	start := time.Now()
	l, err := t.next.Get(ctx, id)
	t.observe(ctx, "get", start, err)
	return l, err
}

func (t *timedStore) List(ctx context.Context, opts ListOptions) ([]Lecture, error) {
	start := time.Now()
	ls, err := t.next.List(ctx, opts)
	t.observe(ctx, "list", start, err)
	return ls, err
}

func (t *timedStore) Update(ctx context.Context, id string, u Update) (Lecture, error) {
	start := time.Now()
	l, err := t.next.Update(ctx, id, u)
	t.observe(ctx, "update", start, err)
	return l, err
}

func (t *timedStore) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := t.next.Delete(ctx, id)
	t.observe(ctx, "delete", start, err)
	return err
}

// Ping forwards to the wrapped store when it supports readiness checks.
func (t *timedStore) Ping(ctx context.Context) error {
	if p, ok := t.next.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}
