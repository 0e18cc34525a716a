package processor

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kangen/kangen/internal/layout"
)

func TestToFragments(t *testing.T) {
	lines := []textLine{
		{Text: " 住 ", Box: image.Rect(10, 10, 50, 50), Confidence: 0.93},
		{Text: "ジュウ", Box: image.Rect(0, 55, 60, 75), Confidence: 0.41},
		{Text: "   ", Box: image.Rect(0, 80, 60, 95), Confidence: 0.99},
		{Text: "to live", Box: image.Rect(120, 30, 60, 10), Confidence: 0.7},
	}

	frags, dropped := toFragments(lines, 0.5)

	require.Len(t, frags, 2)
	assert.Equal(t, 2, dropped)

	assert.Equal(t, "ocr-1", frags[0].ID)
	assert.Equal(t, "住", frags[0].Text)
	assert.Equal(t, layout.RectQuad(10, 10, 40, 40), frags[0].Box)
	assert.Equal(t, 0.93, frags[0].Confidence)

	assert.Equal(t, "ocr-2", frags[1].ID)
	assert.Equal(t, layout.RectQuad(60, 10, 60, 20), frags[1].Box, "inverted rectangle is canonicalised")
}

func TestNewTesseractOCR(t *testing.T) {
	ocr, err := NewTesseractOCR(&TesseractConfig{})
	require.NoError(t, err)
	assert.Equal(t, []string{"jpn", "eng"}, ocr.languages)

	_, err = NewTesseractOCR(&TesseractConfig{MinConfidence: 1.5})
	assert.Error(t, err)

	_, err = NewTesseractOCR(nil)
	assert.Error(t, err)
}

func TestMeanConfidence(t *testing.T) {
	assert.Zero(t, meanConfidence(nil))
	assert.InDelta(t, 0.6, meanConfidence([]layout.Fragment{{Confidence: 0.4}, {Confidence: 0.8}}), 1e-9)
}
