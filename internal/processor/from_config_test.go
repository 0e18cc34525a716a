package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kangen/kangen/internal/config"
	"github.com/kangen/kangen/internal/logging"
)

func TestSplitLanguages(t *testing.T) {
	assert.Equal(t, []string{"jpn", "eng"}, splitLanguages("jpn,eng"))
	assert.Equal(t, []string{"jpn", "jpn_vert"}, splitLanguages("jpn+jpn_vert"))
	assert.Equal(t, []string{"jpn"}, splitLanguages(" jpn "))
	assert.Empty(t, splitLanguages(""))
}

func TestNewFromConfig(t *testing.T) {
	cfg := &config.Config{
		OCR:       config.OCRConfig{Languages: "jpn,eng", PageSegMode: 11, MinConfidence: 0.4},
		Image:     config.ImageConfig{MaxDimension: 2000, MaxFileSize: 1 << 20},
		Anchoring: config.AnchoringConfig{VerticalPenalty: 3, CutoffFactor: 4},
		Worker:    config.WorkerConfig{Concurrency: 2},
	}

	p, err := NewFromConfig(cfg, nil, logging.Discard())
	require.NoError(t, err)
	assert.Nil(t, p.validator, "validation disabled")
	assert.Nil(t, p.store)
	assert.Equal(t, 2, p.config.Concurrency)
	assert.Equal(t, 3.0, p.analyzer.Options().VerticalPenalty)

	cfg.OCR.MinConfidence = 2
	_, err = NewFromConfig(cfg, nil, logging.Discard())
	require.Error(t, err)
}
