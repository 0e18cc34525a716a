package validation

import (
	"fmt"

	"github.com/ikawaha/kagome-dict/ipa"
	"github.com/ikawaha/kagome/v2/tokenizer"
)

// Token is one morpheme with its dictionary reading in katakana.
// Reading is empty for unknown words.
type Token struct {
	Surface string
	Reading string
}

// Tokenizer splits Japanese text into morphemes.
type Tokenizer interface {
	Tokenize(text string) []Token
}

// KagomeTokenizer is a Tokenizer backed by kagome and the IPA dictionary.
type KagomeTokenizer struct {
	t *tokenizer.Tokenizer
}

// NewKagomeTokenizer loads the IPA dictionary. This takes a moment and a
// few tens of MB, so build one and share it; Tokenize is safe for
// concurrent use.
func NewKagomeTokenizer() (*KagomeTokenizer, error) {
	t, err := tokenizer.New(ipa.Dict(), tokenizer.OmitBosEos())
	if err != nil {
		return nil, fmt.Errorf("failed to create kagome tokenizer: %w", err)
	}
	return &KagomeTokenizer{t: t}, nil
}

// Tokenize implements Tokenizer.
func (k *KagomeTokenizer) Tokenize(text string) []Token {
	tokens := k.t.Tokenize(text)
	out := make([]Token, 0, len(tokens))
	for _, tok := range tokens {
		reading, _ := tok.Reading()
		out = append(out, Token{Surface: tok.Surface, Reading: reading})
	}
	return out
}
