// Package script classifies OCR text by the writing system it is made of.
//
// Classification is pure and total: every string, including the empty
// string and arbitrary symbol soup, maps to exactly one Category.
package script

import (
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Category is the script makeup of a piece of text.
type Category int

const (
	Unknown Category = iota
	KanjiBearing
	KatakanaOnly
	HiraganaOnly
	LatinOrMixed
	PunctuationOnly
	Numeric
)

func (c Category) String() string {
	switch c {
	case KanjiBearing:
		return "kanji_bearing"
	case KatakanaOnly:
		return "katakana_only"
	case HiraganaOnly:
		return "hiragana_only"
	case LatinOrMixed:
		return "latin_or_mixed"
	case PunctuationOnly:
		return "punctuation_only"
	case Numeric:
		return "numeric"
	default:
		return "unknown"
	}
}

// MarshalText lets categories appear by name in JSON diagnostics.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// runeRange is an inclusive code point range.
type runeRange struct{ lo, hi rune }

var (
	kanjiRanges = []runeRange{
		{0x4E00, 0x9FFF},   // CJK Unified Ideographs
		{0x3400, 0x4DBF},   // Extension A
		{0xF900, 0xFAFF},   // Compatibility Ideographs
		{0x20000, 0x2A6DF}, // Extension B
		{0x2A700, 0x2EBEF}, // Extensions C to F
		{0x2F800, 0x2FA1F}, // Compatibility Supplement
		{0x30000, 0x323AF}, // Extensions G and H
	}
	hiraganaRange = runeRange{0x3040, 0x309F}
	katakanaRange = runeRange{0x30A0, 0x30FF}
)

const (
	prolongedSoundMark = 'ー' // U+30FC, shared by both kana scripts
	iterationMark      = '々' // U+3005
)

func (r runeRange) contains(c rune) bool { return c >= r.lo && c <= r.hi }

// IsKanji reports whether r is a CJK ideograph.
func IsKanji(r rune) bool {
	for _, rr := range kanjiRanges {
		if rr.contains(r) {
			return true
		}
	}
	return false
}

// IsHiragana reports whether r is in the hiragana block.
func IsHiragana(r rune) bool { return hiraganaRange.contains(r) }

// IsKatakana reports whether r is in the katakana block.
func IsKatakana(r rune) bool { return katakanaRange.contains(r) }

// isNoise reports runes ignored by classification.
func isNoise(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsPunct(r)
}

// Classify returns the script category of text.
//
// Text is NFKC-normalised first, so half-width katakana and full-width
// ASCII classify like their canonical forms. Whitespace and punctuation
// are then ignored.
func Classify(text string) Category {
	var (
		visible   bool
		kept      int
		allKata   = true
		allHira   = true
		allDigSym = true
		hasDigit  bool
	)

	for _, r := range norm.NFKC.String(text) {
		if unicode.IsSpace(r) {
			continue
		}
		visible = true
		if unicode.IsPunct(r) {
			continue
		}
		kept++

		if IsKanji(r) {
			return KanjiBearing
		}
		if !IsKatakana(r) {
			allKata = false
		}
		if !IsHiragana(r) && r != prolongedSoundMark {
			allHira = false
		}
		switch {
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsSymbol(r):
		default:
			allDigSym = false
		}
	}

	switch {
	case kept == 0 && visible:
		return PunctuationOnly
	case kept == 0:
		return Unknown
	case allKata:
		return KatakanaOnly
	case allHira:
		return HiraganaOnly
	case allDigSym && hasDigit:
		return Numeric
	case allDigSym:
		return PunctuationOnly
	default:
		return LatinOrMixed
	}
}
