// Package validation checks the readings bound to a kanji against a
// morphological dictionary and reorders candidates by that evidence.
package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kangen/kangen/internal/layout"
	"github.com/kangen/kangen/internal/script"
)

// Options controls validation.
type Options struct {
	// Threshold is the share of matched readings an entry needs to be valid.
	Threshold float64
	// DiscardUnmatched removes readings without dictionary support, but
	// only when at least one reading of the entry matched.
	DiscardUnmatched bool
}

// Report is the outcome of validating one entry.
type Report struct {
	Kanji     string   `json:"kanji"`
	Valid     bool     `json:"valid"`
	Score     float64  `json:"score"`
	Matched   []string `json:"matched"`
	Unmatched []string `json:"unmatched"`
	Issues    []string `json:"issues,omitempty"`
	// Evidence lists the dictionary readings (katakana) that were consulted.
	Evidence []string `json:"evidence,omitempty"`
}

// Validator checks entries against a tokenizer's readings.
type Validator struct {
	tok  Tokenizer
	opts Options
}

// NewValidator creates a validator. A zero Threshold means 0.7.
func NewValidator(tok Tokenizer, opts Options) *Validator {
	if opts.Threshold <= 0 {
		opts.Threshold = 0.7
	}
	return &Validator{tok: tok, opts: opts}
}

// Validate scores the on and kun readings of e and returns e with matched
// readings moved ahead of unmatched ones. Meaning and example slots are
// left as they are; nothing is ever added to the entry.
func (v *Validator) Validate(e layout.Entry) (layout.Entry, Report) {
	report := Report{Kanji: e.Kanji()}
	evidence, exampleEvidence := v.evidence(e)
	report.Evidence = sortedKeys(evidence)

	total := 0
	for _, slot := range []layout.Slot{layout.OnYomi, layout.KunYomi} {
		var matched, unmatched []string
		for _, f := range e.Slots[slot] {
			total++
			if readingMatches(f.Text, evidence, exampleEvidence) {
				matched = append(matched, f.ID)
				report.Matched = append(report.Matched, f.Text)
			} else {
				unmatched = append(unmatched, f.ID)
				report.Unmatched = append(report.Unmatched, f.Text)
			}
		}
		if len(matched) == 0 && len(unmatched) == 0 {
			continue
		}

		ids := matched
		if !v.opts.DiscardUnmatched || len(matched) == 0 {
			ids = append(ids, unmatched...)
		}
		if reordered, err := e.Reorder(slot, ids); err == nil {
			e = reordered
		}
	}

	switch {
	case total == 0:
		report.Issues = append(report.Issues, "no readings detected")
	case len(report.Matched) == 0:
		report.Issues = append(report.Issues, "no reading matches the dictionary")
	default:
		report.Score = float64(len(report.Matched)) / float64(total)
		if len(report.Unmatched) > 0 {
			report.Issues = append(report.Issues,
				fmt.Sprintf("readings without dictionary support: %s", strings.Join(report.Unmatched, ", ")))
		}
	}
	report.Valid = report.Score >= v.opts.Threshold
	return e, report
}

// evidence collects readings from the kanji alone, from the kanji with
// the okurigana of each kun candidate, and from example tokens that
// contain the kanji. Example readings are kept apart because a compound
// like 住所 (ジュウショ) only supports its parts by substring.
func (v *Validator) evidence(e layout.Entry) (map[string]struct{}, []string) {
	kanji := e.Kanji()
	direct := make(map[string]struct{})

	add := func(text string) {
		for _, tok := range v.tok.Tokenize(text) {
			if tok.Reading != "" && strings.Contains(tok.Surface, kanji) {
				direct[clean(tok.Reading)] = struct{}{}
			}
		}
	}

	add(kanji)
	for _, f := range e.Slots[layout.KunYomi] {
		if oku := script.Okurigana(f.Text); oku != "" {
			add(kanji + oku)
		}
	}

	var examples []string
	for _, f := range e.Slots[layout.Example] {
		for _, tok := range v.tok.Tokenize(f.Text) {
			if tok.Reading != "" && strings.Contains(tok.Surface, kanji) {
				examples = append(examples, clean(tok.Reading))
			}
		}
	}
	return direct, examples
}

// readingMatches compares a candidate in katakana form: exactly against
// direct readings, and as a substring of example readings.
func readingMatches(text string, direct map[string]struct{}, examples []string) bool {
	c := clean(text)
	if c == "" {
		return false
	}
	if _, ok := direct[c]; ok {
		return true
	}
	for _, r := range examples {
		if strings.Contains(r, c) {
			return true
		}
	}
	return false
}

// clean strips okurigana markers, spaces and long-vowel marks and folds
// the result to katakana.
func clean(reading string) string {
	s := strings.ReplaceAll(script.Strip(reading), "ー", "")
	return script.ToKatakana(s)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
