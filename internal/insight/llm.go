package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/ocepa/internal/lecture"
)

const classifySystemPrompt = `You extract study notes from a live lecture transcript.
For the transcript line given by the user, answer with a JSON array of objects
{"category": <one of the allowed categories>, "text": <short note>}.
Use at most one object per category. Answer [] when nothing is worth noting.
Answer with JSON only.`

const summarizeSystemPrompt = `You summarize lecture transcripts for students.
Write a concise summary of at most five sentences covering the main topics,
definitions and formulas. Answer with the summary text only.`

// LLMClassifier asks a language model to categorize each transcript line.
type LLMClassifier struct {
	llm        Completer
	categories []string
}

var _ Classifier = (*LLMClassifier)(nil)

// NewLLMClassifier returns a classifier restricted to categories. With no
// categories the defaults are used.
func NewLLMClassifier(llm Completer, categories []string) *LLMClassifier {
	if len(categories) == 0 {
		categories = []string{CategoryDefinition, CategoryKeyPoint, CategoryFormula}
	}
	return &LLMClassifier{llm: llm, categories: slices.Clone(categories)}
}

// Classify implements [Classifier]. Notes with unknown categories or empty
// text are discarded, as are repeated categories.
func (c *LLMClassifier) Classify(ctx context.Context, text string) ([]lecture.Note, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	user := fmt.Sprintf("Allowed categories: %s\nTranscript line: %s", strings.Join(c.categories, ", "), text)
	answer, err := c.llm.Complete(ctx, classifySystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("insight: classify: %w", err)
	}

	var raw []lecture.Note
	if err := json.Unmarshal([]byte(extractJSONArray(answer)), &raw); err != nil {
		return nil, fmt.Errorf("insight: classify: parse answer: %w", err)
	}

	var (
		notes []lecture.Note
		seen  = make(map[string]bool, len(raw))
	)
	for _, n := range raw {
		cat, ok := c.canonical(n.Category)
		noteText := strings.TrimSpace(n.Text)
		if !ok || noteText == "" || seen[cat] {
			continue
		}
		seen[cat] = true
		notes = append(notes, lecture.Note{Category: cat, Text: truncate(noteText, maxNoteRunes)})
	}
	return notes, nil
}

// canonical maps a model-provided category onto the configured spelling.
func (c *LLMClassifier) canonical(category string) (string, bool) {
	category = strings.TrimSpace(category)
	for _, allowed := range c.categories {
		if strings.EqualFold(allowed, category) {
			return allowed, true
		}
	}
	return "", false
}

// extractJSONArray strips code fences and prose around the first JSON array
// in s. Models often wrap JSON answers in markdown.
func extractJSONArray(s string) string {
	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start < 0 || end < start {
		return strings.TrimSpace(s)
	}
	return s[start : end+1]
}

// LLMSummarizer asks a language model for a transcript summary.
type LLMSummarizer struct {
	llm Completer
}

var _ Summarizer = (*LLMSummarizer)(nil)

// NewLLMSummarizer returns a Summarizer backed by llm.
func NewLLMSummarizer(llm Completer) *LLMSummarizer {
	return &LLMSummarizer{llm: llm}
}

// Summarize implements [Summarizer].
func (s *LLMSummarizer) Summarize(ctx context.Context, transcript []string) (string, error) {
	if len(transcript) == 0 {
		return "", nil
	}
	answer, err := s.llm.Complete(ctx, summarizeSystemPrompt, strings.Join(transcript, "\n"))
	if err != nil {
		return "", fmt.Errorf("insight: summarize: %w", err)
	}
	return strings.TrimSpace(answer), nil
}
