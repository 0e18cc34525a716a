package enhance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kangen/kangen/internal/config"
	kgerrors "github.com/kangen/kangen/internal/errors"
	"github.com/kangen/kangen/internal/flashcard"
	"github.com/kangen/kangen/internal/logging"
)

func fakeAnthropic(reply string, err error, prompts *[]string) *Anthropic {
	return &Anthropic{
		complete: func(_ context.Context, prompt string) (string, error) {
			*prompts = append(*prompts, prompt)
			return reply, err
		},
		logger: logging.Discard(),
	}
}

func TestEnhance(t *testing.T) {
	reply := "```json\n" + `[
  {"kanji": "住", "meaning": "to live", "on_yomi": "ジュウ", "kun_yomi": "None", "example": "東京に住む。"},
  {"kanji": "", "meaning": "orphan"},
  {"kanji": "所", "meaning": null, "on_yomi": "ショ", "kun_yomi": "ところ", "example": "n/a"}
]` + "\n```"
	var prompts []string
	a := fakeAnthropic(reply, nil, &prompts)

	polish, err := a.Enhance(context.Background(), []flashcard.Card{
		{Kanji: "住", OnYomi: "ジュウ", Meaning: "live"},
		{Kanji: "所"},
	})
	require.NoError(t, err)

	assert.Equal(t, []flashcard.Polish{
		{Kanji: "住", Meaning: "to live", OnYomi: "ジュウ", Example: "東京に住む。"},
		{Kanji: "所", OnYomi: "ショ", KunYomi: "ところ"},
	}, polish)

	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "1.\nKanji: 住\nOn-yomi (Katakana): ジュウ\nKun-yomi (Hiragana): (none)\nSheet meaning: live\n")
	assert.Contains(t, prompts[0], "2.\nKanji: 所\n")
}

func TestEnhance_Errors(t *testing.T) {
	var prompts []string

	_, err := fakeAnthropic("", errors.New("529 overloaded"), &prompts).
		Enhance(context.Background(), []flashcard.Card{{Kanji: "住"}})
	assert.Equal(t, kgerrors.ErrorEnhancementFailed, kgerrors.CodeOf(err))

	_, err = fakeAnthropic("I cannot help with that.", nil, &prompts).
		Enhance(context.Background(), []flashcard.Card{{Kanji: "住"}})
	assert.ErrorContains(t, err, "no JSON array")

	polish, err := fakeAnthropic("unused", nil, &prompts).Enhance(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, polish)
	assert.Len(t, prompts, 2, "empty batch makes no call")
}

func TestNewAnthropic_RequiresKey(t *testing.T) {
	_, err := NewAnthropic(config.LLMConfig{}, logging.Discard())
	assert.Error(t, err)

	a, err := NewAnthropic(config.LLMConfig{APIKey: "sk-test", Model: "claude-3-5-haiku-latest", MaxTokens: 1024}, logging.Discard())
	require.NoError(t, err)
	assert.NotNil(t, a.complete)
}

func TestClean(t *testing.T) {
	for _, in := range []interface{}{nil, 3.0, "none", " (None) ", "N/A", "null", "  "} {
		assert.Empty(t, clean(in), "%v", in)
	}
	assert.Equal(t, "ジュウ", clean(" ジュウ "))
}

func TestPassthrough(t *testing.T) {
	polish, err := Passthrough{}.Enhance(context.Background(), []flashcard.Card{{Kanji: "住"}})
	assert.NoError(t, err)
	assert.Empty(t, polish)
}
