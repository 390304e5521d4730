// Package lecture holds the lecture record and the persistence contract used
// to save transcripts and notes when a capture session stops.
//
// Two implementations of [Store] exist: [MemStore] in this package for tests
// and single-process deployments, and the PostgreSQL store in the postgres
// subpackage.
package lecture

import (
	"context"
	"errors"
	"slices"
	"time"
)

var (
	// ErrNotFound is returned when no lecture exists for the given ID.
	ErrNotFound = errors.New("lecture: not found")

	// ErrEmptyTitle is returned by Create when the title is blank.
	ErrEmptyTitle = errors.New("lecture: title must not be empty")

	// ErrPersistence classifies a failed write to the persistence
	// collaborator. The in-memory capture state is kept when it occurs.
	ErrPersistence = errors.New("lecture: persistence failure")
)

// Note is a categorized excerpt of the transcript.
type Note struct {
	Category string `json:"category"`
	Text     string `json:"text"`
}

// Lecture is one recorded lecture with its accumulated transcript.
type Lecture struct {
	ID     string `json:"id"`
	UserID string `json:"user_id,omitempty"`
	Title  string `json:"title"`

	// Transcript holds transcript increments in receive order.
	Transcript []string `json:"transcript"`
	Notes      []Note   `json:"notes"`

	// Summary is nil until one has been produced.
	Summary *string `json:"summary,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of l.
func (l Lecture) Clone() Lecture {
	l.Transcript = slices.Clone(l.Transcript)
	l.Notes = slices.Clone(l.Notes)
	if l.Summary != nil {
		s := *l.Summary
		l.Summary = &s
	}
	return l
}

// Update is a partial update. Nil fields are left unchanged.
type Update struct {
	Title      *string
	Transcript *[]string
	Notes      *[]Note
	Summary    *string
}

// Apply writes the non-nil fields of u onto l.
func (u Update) Apply(l *Lecture) {
	if u.Title != nil {
		l.Title = *u.Title
	}
	if u.Transcript != nil {
		l.Transcript = slices.Clone(*u.Transcript)
	}
	if u.Notes != nil {
		l.Notes = slices.Clone(*u.Notes)
	}
	if u.Summary != nil {
		s := *u.Summary
		l.Summary = &s
	}
}

// Empty reports whether u changes nothing.
func (u Update) Empty() bool {
	return u.Title == nil && u.Transcript == nil && u.Notes == nil && u.Summary == nil
}

// ListOptions filters [Store.List].
type ListOptions struct {
	// UserID restricts results to one owner. Empty means all owners.
	UserID string

	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// Store persists lectures. Implementations must be safe for concurrent use.
type Store interface {
	// Create stores a new lecture with an empty transcript and returns it.
	Create(ctx context.Context, title, userID string) (Lecture, error)

	// Get returns the lecture with id or ErrNotFound.
	Get(ctx context.Context, id string) (Lecture, error)

	// List returns lectures newest first.
	List(ctx context.Context, opts ListOptions) ([]Lecture, error)

	// Update applies u to the lecture with id and returns the result, or
	// ErrNotFound.
	Update(ctx context.Context, id string, u Update) (Lecture, error)

	// Delete removes the lecture with id, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error
}
