package lecture

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

type memEntry struct {
	lecture Lecture
	seq     uint64
}

// MemStore is a thread-safe, in-memory implementation of [Store].
// The zero value is ready to use.
type MemStore struct {
	mu       sync.RWMutex
	lectures map[string]memEntry
	seq      uint64

	// Now returns the current time. Nil means time.Now.
	Now func() time.Time
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{lectures: make(map[string]memEntry)}
}

func (s *MemStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Create implements [Store.Create].
func (s *MemStore) Create(ctx context.Context, title, userID string) (Lecture, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Lecture{}, ErrEmptyTitle
	}
	now := s.now()
	l := Lecture{
		ID:         uuid.NewString(),
		UserID:     userID,
		Title:      title,
		Transcript: []string{},
		Notes:      []Note{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lectures == nil {
		s.lectures = make(map[string]memEntry)
	}
	s.seq++
	s.lectures[l.ID] = memEntry{lecture: l, seq: s.seq}
	return l.Clone(), nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(ctx context.Context, id string) (Lecture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.lectures[id]
	if !ok {
		return Lecture{}, ErrNotFound
	}
	return e.lecture.Clone(), nil
}

// List implements [Store.List].
func (s *MemStore) List(ctx context.Context, opts ListOptions) ([]Lecture, error) {
	s.mu.RLock()
	entries := make([]memEntry, 0, len(s.lectures))
	for _, e := range s.lectures {
		if opts.UserID != "" && e.lecture.UserID != opts.UserID {
			continue
		}
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	slices.SortFunc(entries, func(a, b memEntry) int {
		if c := b.lecture.CreatedAt.Compare(a.lecture.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.seq, a.seq)
	})
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}

	result := make([]Lecture, len(entries))
	for i, e := range entries {
		result[i] = e.lecture.Clone()
	}
	return result, nil
}

// Update implements [Store.Update].
func (s *MemStore) Update(ctx context.Context, id string, u Update) (Lecture, error) {
	if u.Title != nil && strings.TrimSpace(*u.Title) == "" {
		return Lecture{}, ErrEmptyTitle
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lectures[id]
	if !ok {
		return Lecture{}, ErrNotFound
	}
	u.Apply(&e.lecture)
	e.lecture.UpdatedAt = s.now()
	s.lectures[id] = e
	return e.lecture.Clone(), nil
}

// Delete implements [Store.Delete].
func (s *MemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lectures[id]; !ok {
		return ErrNotFound
	}
	delete(s.lectures, id)
	return nil
}

// Ping implements the readiness check. The in-memory store is always ready.
func (s *MemStore) Ping(context.Context) error { return nil }
