package script

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// kanaOffset is the distance between a hiragana code point and its katakana twin.
const kanaOffset = 0x60

// ToHiragana converts katakana in s to hiragana, leaving everything else as is.
func ToHiragana(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 0x30A1 && r <= 0x30F6 {
			return r - kanaOffset
		}
		return r
	}, s)
}

// ToKatakana converts hiragana in s to katakana, leaving everything else as is.
func ToKatakana(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 0x3041 && r <= 0x3096 {
			return r + kanaOffset
		}
		return r
	}, s)
}

// Normalize folds text into the form used to compare candidates:
// NFKC, lower-cased, whitespace collapsed.
func Normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(norm.NFKC.String(s)), " "))
}

// Strip removes whitespace and punctuation after NFKC, so "す(む)" and
// "す.む" both become "すむ".
func Strip(s string) string {
	var b strings.Builder
	for _, r := range norm.NFKC.String(s) {
		if !isNoise(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// RuneCount counts the non-whitespace runes of s after NFKC.
func RuneCount(s string) int {
	n := 0
	for _, r := range norm.NFKC.String(s) {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// KanjiRunes returns the distinct kanji of s in order of first appearance.
func KanjiRunes(s string) []rune {
	var out []rune
	seen := make(map[rune]struct{})
	for _, r := range norm.NFKC.String(s) {
		if !IsKanji(r) {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// IsKanjiOnly reports whether s, ignoring whitespace and punctuation, is
// made of kanji alone (the iteration mark 々 is allowed).
func IsKanjiOnly(s string) bool {
	stripped := Strip(s)
	if stripped == "" {
		return false
	}
	for _, r := range stripped {
		if !IsKanji(r) && r != iterationMark {
			return false
		}
	}
	return true
}

// HasSentenceEnd reports whether s contains sentence-ending punctuation.
func HasSentenceEnd(s string) bool {
	return strings.ContainsAny(norm.NFKC.String(s), "。.!?")
}

// Okurigana returns the kana that follow the stem of a kun reading written
// with okurigana markers, e.g. "す(む)" and "す.む" give "む". A reading
// without markers has no okurigana.
func Okurigana(reading string) string {
	s := norm.NFKC.String(reading)
	if i := strings.IndexAny(s, "(."); i >= 0 {
		rest := strings.TrimLeft(s[i:], "(.")
		if j := strings.IndexRune(rest, ')'); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}
	return ""
}
