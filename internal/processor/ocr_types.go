/**
 * OCR Types - Shared data structures for OCR operations
 *
 * A recognizer turns one prepared image into positioned text fragments,
 * the raw input of the anchoring engine.
 */

package processor

import (
	"context"
	"time"

	"github.com/kangen/kangen/internal/layout"
)

// Recognizer extracts positioned text from an image.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (*OCRResult, error)
}

// OCRResult represents the result of OCR processing
type OCRResult struct {
	Fragments  []layout.Fragment
	Confidence float64 // mean confidence of the kept fragments
	Engine     string  // "tesseract" or a test double
	Languages  []string
	Dropped    int // boxes filtered for low confidence or empty text
	Duration   time.Duration
}
