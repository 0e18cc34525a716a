package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kangen/kangen/internal/config"
	kgerrors "github.com/kangen/kangen/internal/errors"
	"github.com/kangen/kangen/internal/processor"
	"github.com/kangen/kangen/internal/storage"
)

// DefaultProcessingTimeout bounds one sheet when the config sets none.
const DefaultProcessingTimeout = 5 * time.Minute

// SheetJob is the payload of a sheet processing job. One of ImagePath,
// ImageURL or ImageBuffer names the image.
type SheetJob struct {
	JobID       string                 `json:"jobId"`
	Filename    string                 `json:"filename"`
	ImagePath   string                 `json:"imagePath,omitempty"`
	ImageURL    string                 `json:"imageUrl,omitempty"`
	ImageBuffer []byte                 `json:"imageBuffer,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// UnmarshalJSON accepts imageBuffer as a base64 string (what Go and the
// TypeScript API send) or as a Node.js Buffer object ({"type":"Buffer","data":[...]}).
func (j *SheetJob) UnmarshalJSON(data []byte) error {
	type Alias SheetJob
	aux := &struct {
		ImageBuffer interface{} `json:"imageBuffer,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(j),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal SheetJob: %w", err)
	}

	switch v := aux.ImageBuffer.(type) {
	case nil:
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 imageBuffer: %w", err)
		}
		j.ImageBuffer = decoded

	case map[string]interface{}:
		if bufferType, ok := v["type"].(string); !ok || bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("buffer object missing 'data' array")
		}
		j.ImageBuffer = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			j.ImageBuffer[i] = byte(byteVal)
		}

	default:
		return fmt.Errorf("imageBuffer must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}

// Producer submits sheet jobs to the worker queue.
type Producer interface {
	Enqueue(ctx context.Context, job *SheetJob) (string, error)
	Close() error
}

// NewProducer returns the producer matching the configured queue backend.
func NewProducer(cfg config.WorkerConfig) (Producer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required to enqueue jobs")
	}
	switch cfg.QueueBackend {
	case "asynq":
		return NewEnqueuer(cfg.RedisURL, cfg.QueueName, cfg.MaxRetries, cfg.ProcessingTimeout)
	case "redis", "":
		return NewRedisProducer(cfg.RedisURL, cfg.QueueName, cfg.MaxRetries)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
}

// Request converts the job into a processor request.
func (j *SheetJob) Request() *processor.ProcessRequest {
	return &processor.ProcessRequest{
		JobID:       j.JobID,
		Filename:    j.Filename,
		ImagePath:   j.ImagePath,
		ImageURL:    j.ImageURL,
		ImageBuffer: j.ImageBuffer,
		Metadata:    j.Metadata,
	}
}

// runJob processes one job under a timeout and reports its status through
// the processor. Both consumers share it.
func runJob(ctx context.Context, proc processor.SheetProcessorInterface, job *SheetJob, timeout time.Duration, logger *slog.Logger) (*processor.ProcessResult, error) {
	startTime := time.Now()
	log := logger.With("job_id", job.JobID, "filename", job.Filename)

	if err := proc.UpdateJobStatus(ctx, job.JobID, storage.StatusProcessing, 0, map[string]interface{}{
		"filename": job.Filename,
	}); err != nil {
		log.Warn("failed to update status to processing", "error", err)
	}

	if timeout <= 0 {
		timeout = DefaultProcessingTimeout
	}
	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := proc.ProcessSheet(processCtx, job.Request())
	duration := time.Since(startTime)

	if err != nil {
		if errors.Is(processCtx.Err(), context.DeadlineExceeded) {
			log.Error("processing timed out", "duration", duration, "timeout", timeout)

			timeoutErr := kgerrors.NewProcessingTimeoutError(job.JobID, timeout, err)
			errorMap := timeoutErr.ToMap()
			errorMap["error"] = timeoutErr.Error()
			errorMap["errorCode"] = string(timeoutErr.Code)
			errorMap["processingTime"] = duration.Milliseconds()

			if updateErr := proc.UpdateJobStatus(ctx, job.JobID, storage.StatusFailed, 100, errorMap); updateErr != nil {
				log.Warn("failed to update status to failed", "error", updateErr)
			}
			return nil, fmt.Errorf("processing timeout: %w", timeoutErr)
		}

		log.Error("processing failed", "duration", duration, "error", err)
		if updateErr := proc.UpdateJobStatus(ctx, job.JobID, storage.StatusFailed, 100, map[string]interface{}{
			"error":          err.Error(),
			"errorCode":      string(kgerrors.CodeOf(err)),
			"processingTime": duration.Milliseconds(),
		}); updateErr != nil {
			log.Warn("failed to update status to failed", "error", updateErr)
		}
		return nil, fmt.Errorf("sheet processing failed: %w", err)
	}

	log.Info("processing completed",
		"duration", duration, "entries", len(result.Entries), "confidence", result.Confidence)

	if err := proc.UpdateJobStatus(ctx, job.JobID, storage.StatusCompleted, 100, completedMetadata(result, duration)); err != nil {
		log.Warn("failed to update status to completed", "error", err)
	}
	return result, nil
}

func completedMetadata(result *processor.ProcessResult, duration time.Duration) map[string]interface{} {
	flagged, orphans := 0, 0
	for _, e := range result.Entries {
		if e.Flagged() {
			flagged++
		}
	}
	if result.Analysis != nil {
		orphans = len(result.Analysis.Orphans)
	}
	return map[string]interface{}{
		"filename":       result.Filename,
		"confidence":     result.Confidence,
		"processingTime": duration.Milliseconds(),
		"entryCount":     len(result.Entries),
		"orphanCount":    orphans,
		"flaggedCount":   flagged,
		"fragmentCount":  result.FragmentCount,
		"ocrEngine":      result.OCREngine,
	}
}

// permanent reports whether retrying the job cannot help: the input itself
// is bad or the image format is not readable.
func permanent(err error) bool {
	switch kgerrors.CodeOf(err) {
	case kgerrors.ErrorInvalidInput, kgerrors.ErrorUnsupportedFormat:
		return true
	}
	return errors.Is(err, kgerrors.ErrInvalidInput) || errors.Is(err, kgerrors.ErrUnsupportedFormat)
}
