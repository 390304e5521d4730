package insight

import (
	"context"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/ocepa/internal/lecture"
)

const (
	defaultPhoneticThreshold = 0.88
	minPhoneticWordLen       = 4
)

// Rule maps trigger terms to a note category. A term may be a single word
// or a phrase; phrases only match exactly (case-insensitive, on word
// boundaries) while single words may also match phonetically.
type Rule struct {
	Category string
	Terms    []string
}

// DefaultRules returns the built-in rule set.
func DefaultRules() []Rule {
	return []Rule{
		{Category: CategoryDefinition, Terms: []string{"definition", "defined as", "is defined", "refers to", "is called", "means"}},
		{Category: CategoryFormula, Terms: []string{"formula", "equation", "equals", "theorem", "derivative", "integral"}},
		{Category: CategoryKeyPoint, Terms: []string{"important", "remember", "key point", "crucial", "essential", "note that"}},
	}
}

// KeywordOption configures a KeywordClassifier.
type KeywordOption func(*KeywordClassifier)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a phonetic
// match between a transcript word and a single-word term. Values
// outside (0, 1] disable phonetic matching.
func WithPhoneticThreshold(threshold float64) KeywordOption {
	return func(c *KeywordClassifier) { c.threshold = threshold }
}

// KeywordClassifier categorizes transcript lines by trigger terms. It is
// deterministic and read-only after construction.
type KeywordClassifier struct {
	rules     []compiledRule
	threshold float64
}

type compiledRule struct {
	category string
	phrases  [][]string // multi-word terms split into words
	words    []termWord
}

type termWord struct {
	text               string
	primary, secondary string
}

var _ Classifier = (*KeywordClassifier)(nil)

// NewKeywordClassifier compiles rules in order. Rules without a category or
// terms are skipped. With no usable rules, DefaultRules are used.
func NewKeywordClassifier(rules []Rule, opts ...KeywordOption) *KeywordClassifier {
	c := &KeywordClassifier{threshold: defaultPhoneticThreshold}
	for _, o := range opts {
		o(c)
	}
	for _, r := range rules {
		if cr, ok := compileRule(r); ok {
			c.rules = append(c.rules, cr)
		}
	}
	if len(c.rules) == 0 {
		for _, r := range DefaultRules() {
			cr, _ := compileRule(r)
			c.rules = append(c.rules, cr)
		}
	}
	return c
}

func compileRule(r Rule) (compiledRule, bool) {
	cr := compiledRule{category: strings.TrimSpace(r.Category)}
	if cr.category == "" {
		return cr, false
	}
	for _, term := range r.Terms {
		words := tokenize(term)
		switch len(words) {
		case 0:
			continue
		case 1:
			p, s := matchr.DoubleMetaphone(words[0])
			cr.words = append(cr.words, termWord{text: words[0], primary: p, secondary: s})
		default:
			cr.phrases = append(cr.phrases, words)
		}
	}
	return cr, len(cr.words)+len(cr.phrases) > 0
}

// Classify implements [Classifier]. Rules are evaluated in order and each
// category yields at most one note whose text is the line, truncated.
func (c *KeywordClassifier) Classify(_ context.Context, text string) ([]lecture.Note, error) {
	words := tokenize(text)
	if len(words) == 0 {
		return nil, nil
	}
	codes := make([][2]string, len(words))
	for i, w := range words {
		codes[i][0], codes[i][1] = matchr.DoubleMetaphone(w)
	}

	var (
		notes []lecture.Note
		seen  = make(map[string]bool, len(c.rules))
	)
	for _, r := range c.rules {
		if seen[r.category] || !c.matches(r, words, codes) {
			continue
		}
		seen[r.category] = true
		notes = append(notes, lecture.Note{Category: r.category, Text: truncate(text, maxNoteRunes)})
	}
	return notes, nil
}

func (c *KeywordClassifier) matches(r compiledRule, words []string, codes [][2]string) bool {
	for _, phrase := range r.phrases {
		if containsPhrase(words, phrase) {
			return true
		}
	}
	for _, tw := range r.words {
		for i, w := range words {
			if w == tw.text {
				return true
			}
			if c.phonetic(tw, w, codes[i]) {
				return true
			}
		}
	}
	return false
}

// phonetic reports whether w sounds like the term word: the Double Metaphone
// codes must overlap and the Jaro-Winkler similarity must reach the
// threshold.
func (c *KeywordClassifier) phonetic(tw termWord, w string, code [2]string) bool {
	if c.threshold <= 0 || c.threshold > 1 {
		return false
	}
	if len(w) < minPhoneticWordLen || len(tw.text) < minPhoneticWordLen {
		return false
	}
	if !codesOverlap(tw.primary, tw.secondary, code[0], code[1]) {
		return false
	}
	return matchr.JaroWinkler(w, tw.text, false) >= c.threshold
}

func codesOverlap(a1, a2, b1, b2 string) bool {
	for _, a := range []string{a1, a2} {
		if a == "" {
			continue
		}
		if a == b1 || a == b2 {
			return true
		}
	}
	return false
}

func containsPhrase(words, phrase []string) bool {
	if len(phrase) > len(words) {
		return false
	}
	for i := 0; i+len(phrase) <= len(words); i++ {
		match := true
		for j, p := range phrase {
			if words[i+j] != p {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// tokenize lower-cases s and splits it into letter/digit runs.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
