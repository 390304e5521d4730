package insight

import (
	"context"
	"strings"
	"unicode/utf8"
)

// DefaultSummaryMinLines is the transcript length a lecture must exceed
// before a summary is produced.
const DefaultSummaryMinLines = 5

const defaultExtractiveMaxRunes = 400

// ExtractiveSummarizer builds a summary from the transcript itself: the
// opening lines, joined, up to a rune budget. It needs no external service.
type ExtractiveSummarizer struct {
	// MaxRunes caps the summary length. Zero means 400.
	MaxRunes int
}

var _ Summarizer = ExtractiveSummarizer{}

// Summarize implements [Summarizer].
func (e ExtractiveSummarizer) Summarize(_ context.Context, transcript []string) (string, error) {
	limit := e.MaxRunes
	if limit <= 0 {
		limit = defaultExtractiveMaxRunes
	}

	var b strings.Builder
	for _, line := range transcript {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if b.Len() > 0 {
			line = " " + line
		}
		if utf8.RuneCountInString(b.String())+utf8.RuneCountInString(line) > limit {
			if b.Len() == 0 {
				return truncate(line, limit), nil
			}
			break
		}
		b.WriteString(line)
	}
	return b.String(), nil
}

// Guarded wraps s so that it only runs on transcripts longer than minLines.
// Shorter transcripts yield no summary. A nil s stays nil.
func Guarded(s Summarizer, minLines int) Summarizer {
	if s == nil {
		return nil
	}
	return guarded{next: s, minLines: minLines}
}

type guarded struct {
	next     Summarizer
	minLines int
}

func (g guarded) Summarize(ctx context.Context, transcript []string) (string, error) {
	if len(transcript) <= g.minLines {
		return "", nil
	}
	return g.next.Summarize(ctx, transcript)
}
