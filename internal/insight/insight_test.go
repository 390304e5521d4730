package insight_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/ocepa/internal/insight"
	"github.com/MrWong99/ocepa/internal/lecture"
)

// ── Keyword classifier ────────────────────────────────────────────────────────

func categories(notes []lecture.Note) []string {
	out := make([]string, len(notes))
	for i, n := range notes {
		out[i] = n.Category
	}
	return out
}

func TestKeywordClassifier_DefaultRules(t *testing.T) {
	t.Parallel()
	c := insight.NewKeywordClassifier(nil)

	tests := []struct {
		name string
		line string
		want []string
	}{
		{
			name: "phrase and word in one line",
			line: "The derivative is defined as the limit",
			want: []string{insight.CategoryDefinition, insight.CategoryFormula},
		},
		{
			name: "key point",
			line: "Remember this for the exam",
			want: []string{insight.CategoryKeyPoint},
		},
		{
			name: "phonetic match on a misrecognized word",
			line: "It is importent to practice",
			want: []string{insight.CategoryKeyPoint},
		},
		{
			name: "one note per category",
			line: "Important: remember the key point",
			want: []string{insight.CategoryKeyPoint},
		},
		{
			name: "nothing to note",
			line: "Good morning everyone",
			want: nil,
		},
		{
			name: "empty line",
			line: "   ",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			notes, err := c.Classify(context.Background(), tt.line)
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			got := categories(notes)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("categories = %v; want %v", got, tt.want)
			}
			for _, n := range notes {
				if n.Text != strings.TrimSpace(tt.line) {
					t.Errorf("note text = %q; want the line", n.Text)
				}
			}
		})
	}
}

func TestKeywordClassifier_TruncatesNoteText(t *testing.T) {
	t.Parallel()
	line := "This is important " + strings.Repeat("and it goes on ", 20)
	notes, err := insight.NewKeywordClassifier(nil).Classify(context.Background(), line)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("got %d notes; want 1", len(notes))
	}
	if n := utf8.RuneCountInString(notes[0].Text); n != 80 {
		t.Errorf("note text has %d runes; want 80", n)
	}
	if !strings.HasSuffix(notes[0].Text, "…") {
		t.Errorf("truncated text %q lacks ellipsis", notes[0].Text)
	}
}

func TestKeywordClassifier_CustomRules(t *testing.T) {
	t.Parallel()
	rules := []insight.Rule{
		{Category: "Homework", Terms: []string{"assignment", "due next week"}},
		{Category: "", Terms: []string{"ignored"}},
		{Category: "Empty"},
	}
	c := insight.NewKeywordClassifier(rules, insight.WithPhoneticThreshold(0))

	notes, _ := c.Classify(context.Background(), "The essay is due next week")
	if got := categories(notes); len(got) != 1 || got[0] != "Homework" {
		t.Errorf("categories = %v; want [Homework]", got)
	}

	// Default rules are replaced, not merged.
	notes, _ = c.Classify(context.Background(), "This is important")
	if len(notes) != 0 {
		t.Errorf("custom classifier matched default rule: %v", notes)
	}

	// Phonetic matching is disabled.
	notes, _ = c.Classify(context.Background(), "Read the asignment")
	if len(notes) != 0 {
		t.Errorf("phonetic match with threshold 0: %v", notes)
	}
}

func TestKeywordClassifier_NoUsableRulesFallsBack(t *testing.T) {
	t.Parallel()
	c := insight.NewKeywordClassifier([]insight.Rule{{Category: "x", Terms: []string{"  "}}})
	notes, _ := c.Classify(context.Background(), "Remember this")
	if got := categories(notes); len(got) != 1 || got[0] != insight.CategoryKeyPoint {
		t.Errorf("categories = %v; want default Key Point", got)
	}
}

func TestNop(t *testing.T) {
	t.Parallel()
	notes, err := insight.Nop.Classify(context.Background(), "This is important")
	if err != nil || notes != nil {
		t.Errorf("Nop.Classify = %v, %v", notes, err)
	}
}

// ── LLM classifier / summarizer ───────────────────────────────────────────────

type fakeCompleter struct {
	answer     string
	err        error
	lastSystem string
	lastUser   string
}

func (f *fakeCompleter) Complete(_ context.Context, system, user string) (string, error) {
	f.lastSystem, f.lastUser = system, user
	return f.answer, f.err
}

func TestLLMClassifier_FiltersAnswer(t *testing.T) {
	t.Parallel()
	llm := &fakeCompleter{answer: "```json\n" + `[
		{"category": "definition", "text": " A set is a collection of objects "},
		{"category": "Gossip", "text": "ignored"},
		{"category": "Definition", "text": "duplicate"},
		{"category": "Key Point", "text": ""}
	]` + "\n```"}
	c := insight.NewLLMClassifier(llm, nil)

	notes, err := c.Classify(context.Background(), "A set is a collection of objects")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("notes = %v; want 1", notes)
	}
	want := lecture.Note{Category: insight.CategoryDefinition, Text: "A set is a collection of objects"}
	if notes[0] != want {
		t.Errorf("note = %+v; want %+v", notes[0], want)
	}
	if !strings.Contains(llm.lastUser, "Formula/Term") || !strings.Contains(llm.lastUser, "A set is") {
		t.Errorf("prompt missing categories or line: %q", llm.lastUser)
	}
}

func TestLLMClassifier_Errors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	if _, err := insight.NewLLMClassifier(&fakeCompleter{err: boom}, nil).Classify(context.Background(), "x"); !errors.Is(err, boom) {
		t.Errorf("Classify = %v; want wrapped backend error", err)
	}
	if _, err := insight.NewLLMClassifier(&fakeCompleter{answer: "no notes, sorry"}, nil).Classify(context.Background(), "x"); err == nil {
		t.Error("Classify accepted a non-JSON answer")
	}

	llm := &fakeCompleter{answer: "[]"}
	notes, err := insight.NewLLMClassifier(llm, []string{"Only"}).Classify(context.Background(), "  ")
	if err != nil || notes != nil || llm.lastUser != "" {
		t.Errorf("blank line reached the model: %v, %v, %q", notes, err, llm.lastUser)
	}
}

func TestLLMSummarizer(t *testing.T) {
	t.Parallel()
	llm := &fakeCompleter{answer: "  Sets and functions.  "}
	s := insight.NewLLMSummarizer(llm)

	got, err := s.Summarize(context.Background(), []string{"line one", "line two"})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "Sets and functions." {
		t.Errorf("summary = %q", got)
	}
	if llm.lastUser != "line one\nline two" {
		t.Errorf("prompt = %q", llm.lastUser)
	}

	if got, _ := s.Summarize(context.Background(), nil); got != "" {
		t.Errorf("empty transcript summary = %q", got)
	}
}

func TestNewAnyLLM(t *testing.T) {
	t.Parallel()
	if _, err := insight.NewAnyLLM("", "m"); err == nil {
		t.Error("empty provider accepted")
	}
	if _, err := insight.NewAnyLLM("openai", ""); err == nil {
		t.Error("empty model accepted")
	}
	if _, err := insight.NewAnyLLM("fakecloud", "m", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Error("unknown provider accepted")
	}
	if _, err := insight.NewAnyLLM("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-test")); err != nil {
		t.Errorf("NewAnyLLM(openai): %v", err)
	}
}

// ── Summaries ─────────────────────────────────────────────────────────────────

func TestExtractiveSummarizer(t *testing.T) {
	t.Parallel()
	transcript := []string{"Today we cover sets.", "", "A set is a collection.", "Functions map sets."}

	got, _ := insight.ExtractiveSummarizer{}.Summarize(context.Background(), transcript)
	if want := "Today we cover sets. A set is a collection. Functions map sets."; got != want {
		t.Errorf("summary = %q; want %q", got, want)
	}

	got, _ = insight.ExtractiveSummarizer{MaxRunes: 45}.Summarize(context.Background(), transcript)
	if want := "Today we cover sets. A set is a collection."; got != want {
		t.Errorf("bounded summary = %q; want %q", got, want)
	}

	got, _ = insight.ExtractiveSummarizer{MaxRunes: 10}.Summarize(context.Background(), transcript)
	if utf8.RuneCountInString(got) > 10 || !strings.HasSuffix(got, "…") {
		t.Errorf("oversized first line summary = %q", got)
	}
}

func TestGuarded_RequiresMoreThanMinLines(t *testing.T) {
	t.Parallel()
	s := insight.Guarded(insight.ExtractiveSummarizer{}, insight.DefaultSummaryMinLines)

	five := []string{"a", "b", "c", "d", "e"}
	if got, _ := s.Summarize(context.Background(), five); got != "" {
		t.Errorf("summary for 5 lines = %q; want none", got)
	}
	if got, _ := s.Summarize(context.Background(), append(five, "f")); got != "a b c d e f" {
		t.Errorf("summary for 6 lines = %q", got)
	}

	if insight.Guarded(nil, 5) != nil {
		t.Error("Guarded(nil) returned a non-nil summarizer")
	}
}
