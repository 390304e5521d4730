// Package insight derives structured notes and summaries from lecture
// transcripts.
//
// A [Classifier] turns one transcript increment into zero or more
// [lecture.Note] values. A [Summarizer] condenses a whole transcript. Both
// are pluggable: the keyword classifier and the extractive summarizer run
// locally, the LLM variants call any provider supported by any-llm-go.
//
// Classification and summarization failures are never fatal to a capture
// session; callers log them and continue.
package insight

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/ocepa/internal/lecture"
)

// Default note categories.
const (
	CategoryDefinition = "Definition"
	CategoryKeyPoint   = "Key Point"
	CategoryFormula    = "Formula/Term"
)

// maxNoteRunes caps the text of notes derived from a transcript line.
const maxNoteRunes = 80

// Classifier derives notes from a single transcript increment.
//
// Implementations must be safe for concurrent use, must not retain or modify
// text, and return at most one note per category for a given input.
type Classifier interface {
	Classify(ctx context.Context, text string) ([]lecture.Note, error)
}

// Summarizer condenses a transcript. An empty result with a nil error means
// no summary could be produced.
type Summarizer interface {
	Summarize(ctx context.Context, transcript []string) (string, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, text string) ([]lecture.Note, error)

// Classify calls f.
func (f ClassifierFunc) Classify(ctx context.Context, text string) ([]lecture.Note, error) {
	return f(ctx, text)
}

// Nop is a Classifier that never produces notes.
var Nop Classifier = ClassifierFunc(func(context.Context, string) ([]lecture.Note, error) {
	return nil, nil
})

// truncate shortens s to at most n runes, appending an ellipsis when cut.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n-1])) + "…"
}
