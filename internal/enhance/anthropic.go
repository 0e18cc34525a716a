// Package enhance polishes flashcards with an LLM.
package enhance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kangen/kangen/internal/config"
	kgerrors "github.com/kangen/kangen/internal/errors"
	"github.com/kangen/kangen/internal/flashcard"
	"github.com/kangen/kangen/internal/logging"
)

// Anthropic is a flashcard.Enhancer backed by Claude.
type Anthropic struct {
	complete func(ctx context.Context, prompt string) (string, error)
	batches  atomic.Int64
	logger   *slog.Logger
}

// NewAnthropic creates an enhancer from the LLM config. Retries on rate
// limits and server errors are left to the SDK.
func NewAnthropic(cfg config.LLMConfig, logger *slog.Logger) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	client := anthropic.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithRequestTimeout(cfg.Timeout),
	)
	model := anthropic.Model(cfg.Model)
	maxTokens := cfg.MaxTokens

	complete := func(ctx context.Context, prompt string) (string, error) {
		msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     model,
			MaxTokens: maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return "", err
		}
		if len(msg.Content) == 0 {
			return "", fmt.Errorf("empty response")
		}
		return msg.Content[0].Text, nil
	}

	return &Anthropic{complete: complete, logger: logging.Component(logger, "enhance")}, nil
}

// Enhance implements flashcard.Enhancer.
func (a *Anthropic) Enhance(ctx context.Context, cards []flashcard.Card) ([]flashcard.Polish, error) {
	if len(cards) == 0 {
		return nil, nil
	}
	batch := int(a.batches.Add(1))

	reply, err := a.complete(ctx, buildPrompt(cards))
	if err != nil {
		return nil, kgerrors.NewEnhancementFailedError(batch, err)
	}

	polish, err := parseReply(reply)
	if err != nil {
		return nil, kgerrors.NewEnhancementFailedError(batch, err)
	}

	a.logger.Debug("batch enhanced", "cards", len(cards), "suggestions", len(polish))
	return polish, nil
}

// buildPrompt lists each card with the readings found on the sheet.
func buildPrompt(cards []flashcard.Card) string {
	var b strings.Builder
	for i, c := range cards {
		fmt.Fprintf(&b, "%d.\nKanji: %s\nOn-yomi (Katakana): %s\nKun-yomi (Hiragana): %s\nSheet meaning: %s\n",
			i+1, c.Kanji, orNone(c.OnYomi), orNone(c.KunYomi), orNone(c.Meaning))
	}

	return fmt.Sprintf(`You are a Japanese linguistics expert creating Anki flashcards.

For EACH kanji below, produce flashcard data.

MANDATORY RULES:
- Use ONLY the readings provided. Do NOT invent readings.
- On-yomi MUST be written in Katakana only.
- Kun-yomi MUST be written in Hiragana only.
- If a reading field has no value, output an empty string "". NEVER output the word "none", "null", or "n/a".
- Do NOT mix on-yomi into the kun-yomi field or vice versa.
- Meaning must be a concise English definition.
- Example must be a natural Japanese sentence using the kanji.

KANJI LIST:
%s
OUTPUT FORMAT: strict JSON array, no markdown, no preamble:
[
  {
    "kanji": "漢字",
    "meaning": "English meaning",
    "on_yomi": "カタカナ",
    "kun_yomi": "ひらがな",
    "example": "日本語の例文"
  }
]`, b.String())
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// parseReply extracts the JSON array from the model's reply and cleans
// placeholder values.
func parseReply(reply string) ([]flashcard.Polish, error) {
	jsonStr, err := extractJSONArray(reply)
	if err != nil {
		return nil, err
	}

	var raw []map[string]interface{}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}

	out := make([]flashcard.Polish, 0, len(raw))
	for _, item := range raw {
		p := flashcard.Polish{
			Kanji:   clean(item["kanji"]),
			Meaning: clean(item["meaning"]),
			OnYomi:  clean(item["on_yomi"]),
			KunYomi: clean(item["kun_yomi"]),
			Example: clean(item["example"]),
		}
		if p.Kanji == "" {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// extractJSONArray finds the outermost JSON array in a string, which
// also strips markdown fences around it.
func extractJSONArray(s string) (string, error) {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON array found in response")
	}
	return s[start : end+1], nil
}

// clean maps nil, non-strings and placeholder words to "".
func clean(v interface{}) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "none", "(none)", "n/a", "null":
		return ""
	}
	return s
}

// Passthrough is the enhancer used without an API key: it suggests nothing.
type Passthrough struct{}

// Enhance implements flashcard.Enhancer.
func (Passthrough) Enhance(context.Context, []flashcard.Card) ([]flashcard.Polish, error) {
	return nil, nil
}
