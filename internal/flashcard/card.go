// Package flashcard turns anchored kanji entries into flashcard fields and
// lets an optional enhancer polish them in batches.
package flashcard

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kangen/kangen/internal/layout"
)

// Card is the content of one flashcard note.
type Card struct {
	Kanji      string  `json:"kanji"`
	Meaning    string  `json:"meaning"`
	OnYomi     string  `json:"on_yomi"`
	KunYomi    string  `json:"kun_yomi"`
	Example    string  `json:"example"`
	Confidence float64 `json:"confidence"`
	Flagged    bool    `json:"flagged,omitempty"`
}

// Polish is an enhancer's suggestion for one card, keyed by kanji.
// Empty fields mean no suggestion. Reading fields are decoded but
// never applied to a card.
type Polish struct {
	Kanji   string `json:"kanji"`
	Meaning string `json:"meaning"`
	OnYomi  string `json:"on_yomi"`
	KunYomi string `json:"kun_yomi"`
	Example string `json:"example"`
}

// Enhancer polishes a batch of cards.
type Enhancer interface {
	Enhance(ctx context.Context, cards []Card) ([]Polish, error)
}

// DefaultBatchSize is the number of cards sent per enhancer call.
const DefaultBatchSize = 500

// FromEntry flattens an entry's slots into card fields.
func FromEntry(e layout.Entry) Card {
	return Card{
		Kanji:      e.Kanji(),
		Meaning:    join(e.Texts(layout.Meaning), "; "),
		OnYomi:     join(e.Texts(layout.OnYomi), "、"),
		KunYomi:    join(e.Texts(layout.KunYomi), "、"),
		Example:    join(e.Texts(layout.Example), " / "),
		Confidence: e.Confidence,
		Flagged:    e.Flagged(),
	}
}

func join(texts []string, sep string) string {
	out := texts[:0:0]
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return strings.Join(out, sep)
}

// ApplyPolish merges suggestions into cards by kanji. Meaning and example
// suggestions replace the card's text. Reading suggestions are ignored:
// readings come from the sheet and dictionary only.
func ApplyPolish(cards []Card, polish []Polish) []Card {
	byKanji := make(map[string]Polish, len(polish))
	for _, p := range polish {
		byKanji[strings.TrimSpace(p.Kanji)] = p
	}

	out := make([]Card, len(cards))
	for i, c := range cards {
		p, ok := byKanji[c.Kanji]
		if ok {
			if m := strings.TrimSpace(p.Meaning); m != "" {
				c.Meaning = m
			}
			if ex := strings.TrimSpace(p.Example); ex != "" {
				c.Example = ex
			}
		}
		out[i] = c
	}
	return out
}

// Build converts entries to cards and, when enh is set, polishes them in
// batches of batchSize. A failed batch keeps its unpolished cards.
func Build(ctx context.Context, entries []layout.Entry, enh Enhancer, batchSize int, logger *slog.Logger) []Card {
	cards := make([]Card, 0, len(entries))
	for _, e := range entries {
		cards = append(cards, FromEntry(e))
	}
	if enh == nil || len(cards) == 0 {
		return cards
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	out := make([]Card, 0, len(cards))
	for start := 0; start < len(cards); start += batchSize {
		batch := cards[start:min(start+batchSize, len(cards))]

		polish, err := enh.Enhance(ctx, batch)
		if err != nil {
			logger.Warn("enhancement failed, keeping sheet text",
				"batch_start", start, "batch_size", len(batch), "error", err)
			out = append(out, batch...)
			continue
		}
		out = append(out, ApplyPolish(batch, polish)...)
	}
	return out
}
