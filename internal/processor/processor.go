/**
 * Sheet Processor for the KanGen worker
 *
 * Orchestrates one study sheet photo through the pipeline:
 * - load (buffer, local path or URL)
 * - prepare (format check, grayscale, downscale)
 * - OCR into positioned fragments
 * - spatial anchoring into kanji entries
 * - optional dictionary validation and persistence
 */

package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	kgerrors "github.com/kangen/kangen/internal/errors"
	"github.com/kangen/kangen/internal/imageprep"
	"github.com/kangen/kangen/internal/layout"
	"github.com/kangen/kangen/internal/logging"
	"github.com/kangen/kangen/internal/storage"
	"github.com/kangen/kangen/internal/validation"
)

// SheetProcessorInterface defines the interface for sheet processing
type SheetProcessorInterface interface {
	ProcessSheet(ctx context.Context, req *ProcessRequest) (*ProcessResult, error)
	UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error
}

// EntryValidator checks an entry against a dictionary.
type EntryValidator interface {
	Validate(e layout.Entry) (layout.Entry, validation.Report)
}

// JobStore persists job status and results.
type JobStore interface {
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
	StoreEntries(ctx context.Context, jobID string, entries []layout.Entry) error
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Recognizer  Recognizer
	Image       imageprep.Options
	Anchoring   layout.Options
	Validator   EntryValidator // optional
	Store       JobStore       // optional
	Concurrency int            // parallel sheets in ProcessBatch, default 4
	Logger      *slog.Logger
}

// ProcessRequest represents a sheet processing request. Exactly one image
// source is used, in order: ImageBuffer, ImagePath, ImageURL.
type ProcessRequest struct {
	JobID       string
	Filename    string
	ImagePath   string
	ImageURL    string
	ImageBuffer []byte
	Metadata    map[string]interface{}
}

// ProcessResult represents the processing result
type ProcessResult struct {
	JobID            string              `json:"jobId,omitempty"`
	Filename         string              `json:"filename"`
	Image            imageprep.Info      `json:"image"`
	OCREngine        string              `json:"ocrEngine"`
	FragmentCount    int                 `json:"fragmentCount"`
	Analysis         *layout.Result      `json:"analysis"`
	Entries          []layout.Entry      `json:"entries"`
	Reports          []validation.Report `json:"reports,omitempty"`
	Confidence       float64             `json:"confidence"`
	ProcessingTimeMs int64               `json:"processingTimeMs"`
}

// BatchResult pairs a request of ProcessBatch with its outcome.
type BatchResult struct {
	Request *ProcessRequest
	Result  *ProcessResult
	Err     error
}

// SheetProcessor handles sheet processing
type SheetProcessor struct {
	config     *ProcessorConfig
	recognizer Recognizer
	analyzer   *layout.Analyzer
	validator  EntryValidator
	store      JobStore
	logger     *slog.Logger
}

// NewSheetProcessor creates a new sheet processor
func NewSheetProcessor(cfg *ProcessorConfig) (*SheetProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Recognizer == nil {
		return nil, fmt.Errorf("recognizer is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &SheetProcessor{
		config:     cfg,
		recognizer: cfg.Recognizer,
		analyzer:   layout.NewAnalyzer(cfg.Anchoring),
		validator:  cfg.Validator,
		store:      cfg.Store,
		logger:     logging.Component(logger, "processor"),
	}, nil
}

// ProcessSheet processes one sheet through the complete pipeline
func (p *SheetProcessor) ProcessSheet(ctx context.Context, req *ProcessRequest) (*ProcessResult, error) {
	startTime := time.Now()
	log := p.logger.With("job_id", req.JobID, "filename", req.Filename)
	log.Info("starting sheet processing")

	// Step 1: load
	data, err := p.loadFile(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}

	// Step 2: prepare for OCR
	prepared, info, err := imageprep.Prepare(data, p.config.Image)
	if err != nil {
		if errors.Is(err, kgerrors.ErrUnsupportedFormat) {
			return nil, kgerrors.NewUnsupportedFormatError(req.JobID, imageprep.DetectFormat(data).MimeType())
		}
		return nil, fmt.Errorf("failed to prepare image: %w", err)
	}
	log.Debug("image prepared",
		"format", info.Format, "width", info.Width, "height", info.Height, "scaled", info.Scaled)

	// Step 3: OCR
	ocr, err := p.recognizer.Recognize(ctx, prepared)
	if err != nil {
		var pe *kgerrors.ProcessingError
		if errors.As(err, &pe) {
			pe.JobID = req.JobID
			return nil, pe
		}
		return nil, kgerrors.NewOCRFailedError(req.JobID, "ocr", err)
	}
	log.Debug("ocr complete",
		"engine", ocr.Engine, "fragments", len(ocr.Fragments), "dropped", ocr.Dropped,
		"duration_ms", ocr.Duration.Milliseconds())

	// Step 4: spatial anchoring
	frags := ocr.Fragments
	if frags == nil {
		frags = []layout.Fragment{}
	}
	analysis, err := p.analyzer.Analyze(frags)
	if err != nil {
		return nil, kgerrors.NewInvalidInputError(req.JobID, err.Error())
	}
	for _, d := range analysis.Diagnostics {
		log.Warn("sheet diagnostic", "code", d.Code, "message", d.Message)
	}

	// Step 5: dictionary validation
	entries := analysis.Entries
	var reports []validation.Report
	if p.validator != nil && len(entries) > 0 {
		entries = make([]layout.Entry, 0, len(analysis.Entries))
		for _, e := range analysis.Entries {
			validated, report := p.validator.Validate(e)
			entries = append(entries, validated)
			reports = append(reports, report)
			if !report.Valid {
				log.Debug("entry failed validation", "kanji", report.Kanji, "score", report.Score)
			}
		}
	}

	result := &ProcessResult{
		JobID:            req.JobID,
		Filename:         req.Filename,
		Image:            info,
		OCREngine:        ocr.Engine,
		FragmentCount:    len(frags),
		Analysis:         analysis,
		Entries:          entries,
		Reports:          reports,
		Confidence:       analysis.MeanConfidence(),
		ProcessingTimeMs: time.Since(startTime).Milliseconds(),
	}

	// Step 6: persist
	if p.store != nil && req.JobID != "" {
		if err := p.store.StoreEntries(ctx, req.JobID, entries); err != nil {
			return nil, kgerrors.NewStorageFailedError(req.JobID, err)
		}
	}

	log.Info("sheet processing complete",
		"entries", len(entries), "orphans", len(analysis.Orphans),
		"confidence", result.Confidence, "duration_ms", result.ProcessingTimeMs)

	return result, nil
}

// ProcessBatch processes sheets in parallel. A failing or panicking sheet
// only fails its own BatchResult; results keep the order of reqs.
func (p *SheetProcessor) ProcessBatch(ctx context.Context, reqs []*ProcessRequest) []BatchResult {
	out := make([]BatchResult, len(reqs))

	var g errgroup.Group
	g.SetLimit(p.config.Concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			out[i] = p.processIsolated(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	return out
}

func (p *SheetProcessor) processIsolated(ctx context.Context, req *ProcessRequest) (br BatchResult) {
	br.Request = req
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while processing sheet",
				"filename", req.Filename, "panic", r, "stack", string(debug.Stack()))
			br.Result = nil
			br.Err = fmt.Errorf("panic while processing %s: %v", req.Filename, r)
		}
	}()

	if err := ctx.Err(); err != nil {
		br.Err = err
		return br
	}
	br.Result, br.Err = p.ProcessSheet(ctx, req)
	return br
}

// UpdateJobStatus updates job status in the job store. Without a store it
// is a no-op.
func (p *SheetProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error {
	if p.store == nil {
		p.logger.Debug("no job store configured, status not persisted",
			"job_id", jobID, "status", status, "progress", progress)
		return nil
	}

	update := &storage.JobUpdate{
		JobID:    jobID,
		Status:   status,
		Metadata: metadata,
	}

	// Extract specific fields from metadata if present
	if metadata != nil {
		if filename, ok := metadata["filename"].(string); ok {
			update.Filename = filename
		}
		if confidence, ok := metadata["confidence"].(float64); ok {
			update.Confidence = confidence
		}
		if processingTime, ok := metadata["processingTime"].(int64); ok {
			update.ProcessingTimeMs = processingTime
		}
		if entries, ok := metadata["entryCount"].(int); ok {
			update.EntryCount = entries
		}
		if orphans, ok := metadata["orphanCount"].(int); ok {
			update.OrphanCount = orphans
		}
		if errorMsg, ok := metadata["error"].(string); ok {
			update.ErrorCode = string(kgerrors.ErrorOCRFailed)
			if code, ok := metadata["errorCode"].(string); ok && code != "" {
				update.ErrorCode = code
			}
			update.ErrorMessage = errorMsg
		}
	}

	return p.store.UpdateJobStatus(ctx, update)
}
