package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the KanGen sheet worker
 *
 * Structured codes are shared by the anchoring engine diagnostics,
 * the sheet processor and the queue consumers.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Anchoring errors (recoverable, surfaced as diagnostics)
	ErrorMalformedFragment    ErrorCode = "MALFORMED_FRAGMENT"
	ErrorNoAnchorsFound       ErrorCode = "NO_ANCHORS_FOUND"
	ErrorAmbiguousAnchorSplit ErrorCode = "AMBIGUOUS_ANCHOR_SPLIT"
	ErrorLowConfidence        ErrorCode = "LOW_CONFIDENCE"
	ErrorDuplicateAnchor      ErrorCode = "DUPLICATE_ANCHOR"

	// Input errors
	ErrorInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"

	// Processing errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorOCRFailed         ErrorCode = "OCR_FAILED"
	ErrorValidationFailed  ErrorCode = "VALIDATION_FAILED"
	ErrorEnhancementFailed ErrorCode = "ENHANCEMENT_FAILED"
	ErrorPackagingFailed   ErrorCode = "PACKAGING_FAILED"

	// Storage errors
	ErrorStorageFailed  ErrorCode = "STORAGE_FAILED"
	ErrorDatabaseFailed ErrorCode = "DATABASE_FAILED"
)

// Sentinels for errors.Is checks across package boundaries.
var (
	ErrInvalidInput      = stderrors.New("invalid input")
	ErrUnsupportedFormat = stderrors.New("unsupported image format")
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// CodeOf returns the code of the first ProcessingError in err's chain,
// or an empty code when there is none.
func CodeOf(err error) ErrorCode {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// Factory functions for common errors

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewOCRFailedError(jobID string, engine string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorOCRFailed,
		Message:   fmt.Sprintf("OCR failed in engine: %s", engine),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"ocr_engine": engine,
		},
		Cause: cause,
	}
}

func NewUnsupportedFormatError(jobID string, format string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorUnsupportedFormat,
		Message:   fmt.Sprintf("Unsupported image format: %s", format),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"format": format,
		},
		Cause: ErrUnsupportedFormat,
	}
}

func NewInvalidInputError(jobID string, reason string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidInput,
		Message:   reason,
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     ErrInvalidInput,
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store processing results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewEnhancementFailedError(batch int, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorEnhancementFailed,
		Message:   fmt.Sprintf("LLM enhancement failed for batch %d", batch),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"batch": batch,
		},
		Cause: cause,
	}
}

func NewPackagingFailedError(path string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorPackagingFailed,
		Message:   fmt.Sprintf("Failed to write deck package %s", path),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"path": path,
		},
		Cause: cause,
	}
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
