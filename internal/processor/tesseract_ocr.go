/**
 * Tesseract OCR
 *
 * Offline OCR using Tesseract through gosseract. Boxes are read at
 * text-line level: a study sheet line ("ジュウ", "to live; to reside") is
 * the unit the anchoring engine reasons about.
 */

package processor

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"

	kgerrors "github.com/kangen/kangen/internal/errors"
	"github.com/kangen/kangen/internal/layout"
)

// TesseractOCR handles OCR using Tesseract
type TesseractOCR struct {
	languages     []string
	tessdataPath  string
	pageSegMode   gosseract.PageSegMode
	minConfidence float64
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	Languages     []string // e.g. jpn, eng
	TessdataPath  string   // empty uses the library default
	PageSegMode   int      // 11 = sparse text, suits scattered sheet layouts
	MinConfidence float64  // 0..1, boxes below are dropped
}

// NewTesseractOCR creates a new Tesseract OCR instance
func NewTesseractOCR(cfg *TesseractConfig) (*TesseractOCR, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return nil, fmt.Errorf("min confidence %.2f outside [0,1]", cfg.MinConfidence)
	}

	langs := cfg.Languages
	if len(langs) == 0 {
		langs = []string{"jpn", "eng"}
	}
	psm := gosseract.PageSegMode(cfg.PageSegMode)
	if cfg.PageSegMode == 0 {
		psm = gosseract.PSM_SPARSE_TEXT
	}

	return &TesseractOCR{
		languages:     langs,
		tessdataPath:  cfg.TessdataPath,
		pageSegMode:   psm,
		minConfidence: cfg.MinConfidence,
	}, nil
}

// Recognize performs OCR and returns one fragment per text line.
// A gosseract client is not safe for concurrent use, so every call gets
// its own.
func (t *TesseractOCR) Recognize(ctx context.Context, img []byte) (*OCRResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	startTime := time.Now()

	client := gosseract.NewClient()
	defer client.Close()

	if t.tessdataPath != "" {
		if err := client.SetTessdataPrefix(t.tessdataPath); err != nil {
			return nil, fmt.Errorf("failed to set tessdata path: %w", err)
		}
	}
	if err := client.SetLanguage(t.languages...); err != nil {
		return nil, fmt.Errorf("failed to set languages: %w", err)
	}
	if err := client.SetPageSegMode(t.pageSegMode); err != nil {
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if err := client.SetImageFromBytes(img); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, kgerrors.NewOCRFailedError("", "tesseract", err)
	}

	lines := make([]textLine, 0, len(boxes))
	for _, b := range boxes {
		lines = append(lines, textLine{Text: b.Word, Box: b.Box, Confidence: b.Confidence / 100})
	}
	frags, dropped := toFragments(lines, t.minConfidence)

	return &OCRResult{
		Fragments:  frags,
		Confidence: meanConfidence(frags),
		Engine:     "tesseract",
		Languages:  t.languages,
		Dropped:    dropped,
		Duration:   time.Since(startTime),
	}, nil
}

// textLine is one OCR box with confidence already scaled to 0..1.
type textLine struct {
	Text       string
	Box        image.Rectangle
	Confidence float64
}

// toFragments keeps lines with text and enough confidence and numbers
// them ocr-1, ocr-2, ... in engine order.
func toFragments(lines []textLine, minConfidence float64) ([]layout.Fragment, int) {
	frags := make([]layout.Fragment, 0, len(lines))
	dropped := 0
	for _, l := range lines {
		text := strings.TrimSpace(l.Text)
		if text == "" || l.Confidence < minConfidence {
			dropped++
			continue
		}
		r := l.Box.Canon()
		frags = append(frags, layout.Fragment{
			ID:   fmt.Sprintf("ocr-%d", len(frags)+1),
			Text: text,
			Box: layout.RectQuad(float64(r.Min.X), float64(r.Min.Y),
				float64(r.Dx()), float64(r.Dy())),
			Confidence: min(l.Confidence, 1),
		})
	}
	return frags, dropped
}

func meanConfidence(frags []layout.Fragment) float64 {
	if len(frags) == 0 {
		return 0
	}
	var sum float64
	for _, f := range frags {
		sum += f.Confidence
	}
	return sum / float64(len(frags))
}
