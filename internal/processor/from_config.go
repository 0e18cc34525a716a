package processor

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/kangen/kangen/internal/config"
	"github.com/kangen/kangen/internal/imageprep"
	"github.com/kangen/kangen/internal/validation"
)

// NewFromConfig wires Tesseract, image preparation, anchoring and (when
// enabled) dictionary validation from the loaded config. store may be nil.
func NewFromConfig(cfg *config.Config, store JobStore, logger *slog.Logger) (*SheetProcessor, error) {
	ocr, err := NewTesseractOCR(&TesseractConfig{
		Languages:     splitLanguages(cfg.OCR.Languages),
		TessdataPath:  cfg.OCR.TessdataPath,
		PageSegMode:   cfg.OCR.PageSegMode,
		MinConfidence: cfg.OCR.MinConfidence,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Tesseract: %w", err)
	}

	pcfg := &ProcessorConfig{
		Recognizer: ocr,
		Image: imageprep.Options{
			MaxDimension: cfg.Image.MaxDimension,
			Grayscale:    cfg.Image.Grayscale,
			MaxFileSize:  cfg.Image.MaxFileSize,
		},
		Anchoring:   cfg.Anchoring.Options(),
		Store:       store,
		Concurrency: cfg.Worker.Concurrency,
		Logger:      logger,
	}

	if cfg.Validation.Enabled {
		tok, err := validation.NewKagomeTokenizer()
		if err != nil {
			return nil, err
		}
		pcfg.Validator = validation.NewValidator(tok, validation.Options{
			Threshold:        cfg.Validation.Threshold,
			DiscardUnmatched: cfg.Validation.DiscardUnmatched,
		})
	}

	return NewSheetProcessor(pcfg)
}

// splitLanguages accepts "jpn,eng" as well as Tesseract's own "jpn+eng".
func splitLanguages(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '+' || r == ' '
	})
}
