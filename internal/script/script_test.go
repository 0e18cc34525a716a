package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want Category
	}{
		{"single kanji", "住", KanjiBearing},
		{"kanji with okurigana", "住む", KanjiBearing},
		{"example sentence", "東京に住んでいます。", KanjiBearing},
		{"extension b kanji", "𠮟", KanjiBearing},
		{"extension b with okurigana", "𠮟る", KanjiBearing},
		{"katakana reading", "ジュウ", KatakanaOnly},
		{"katakana with middle dot", "ジュウ・チュウ", KatakanaOnly},
		{"half-width katakana", "ｼﾞｭｳ", KatakanaOnly},
		{"prolonged sound mark alone", "ー", KatakanaOnly},
		{"hiragana reading", "すむ", HiraganaOnly},
		{"parenthesised okurigana", "す(む)", HiraganaOnly},
		{"dotted okurigana", "す.む", HiraganaOnly},
		{"hiragana with long vowel", "すー", HiraganaOnly},
		{"english meaning", "to live; to reside", LatinOrMixed},
		{"full-width latin", "ｌｉｖｅ", LatinOrMixed},
		{"mixed kana", "ひらカタ", LatinOrMixed},
		{"latin and kana", "abcかな", LatinOrMixed},
		{"punctuation", "。、「」", PunctuationOnly},
		{"symbols only", "+ =", PunctuationOnly},
		{"digits", "123", Numeric},
		{"full-width digits", "１２３", Numeric},
		{"currency amount", "¥100", Numeric},
		{"empty", "", Unknown},
		{"whitespace", " \t\n", Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Classify(tt.in))
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	t.Parallel()

	inputs := []string{"住", "ジュウ", "す(む)", "to live", "。", "", "\u0000�", "🙂"}
	for _, in := range inputs {
		first := Classify(in)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, Classify(in), "input %q", in)
		}
	}
}

func TestKanaConversion(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "じゅう", ToHiragana("ジュウ"))
	assert.Equal(t, "ジュウ", ToKatakana("じゅう"))
	assert.Equal(t, "住ム", ToKatakana("住む"), "kanji untouched")
	assert.Equal(t, "住む", ToHiragana("住ム"))
	assert.Equal(t, "ー", ToHiragana("ー"))
}

func TestStripAndNormalize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "すむ", Strip("す(む)"))
	assert.Equal(t, "すむ", Strip(" す.む "))
	assert.Equal(t, "to live", Normalize("  To   LIVE "))
	assert.Equal(t, Normalize("ｼﾞｭｳ"), Normalize("ジュウ"))
}

func TestKanjiRunes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []rune{'住', '所'}, KanjiRunes("住所に住む"))
	assert.Empty(t, KanjiRunes("すむ"))
	assert.Equal(t, []rune{'𠮟'}, KanjiRunes("𠮟る"))
}

func TestIsKanjiOnly(t *testing.T) {
	t.Parallel()

	assert.True(t, IsKanjiOnly("住"))
	assert.True(t, IsKanjiOnly("住所"))
	assert.True(t, IsKanjiOnly("人々"))
	assert.True(t, IsKanjiOnly("𠮟"))
	assert.True(t, IsKanjiOnly(" 住。"))
	assert.False(t, IsKanjiOnly("住む"))
	assert.False(t, IsKanjiOnly(""))
}

func TestOkurigana(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "む", Okurigana("す(む)"))
	assert.Equal(t, "む", Okurigana("す.む"))
	assert.Equal(t, "", Okurigana("すむ"))
}

func TestHasSentenceEnd(t *testing.T) {
	t.Parallel()

	assert.True(t, HasSentenceEnd("住んでいます。"))
	assert.True(t, HasSentenceEnd("本当？"))
	assert.False(t, HasSentenceEnd("住所"))
}

func TestRuneCount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 5, RuneCount("住所に住む"))
	assert.Equal(t, 15, RuneCount("to live; to reside"))
}
