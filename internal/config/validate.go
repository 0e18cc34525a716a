package config

import (
	"fmt"
	"strings"
)

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if err := c.Anchoring.validate(); err != nil {
		return fmt.Errorf("anchoring: %w", err)
	}

	if c.OCR.MinConfidence < 0 || c.OCR.MinConfidence > 1 {
		return fmt.Errorf("ocr.min_confidence must be within [0, 1], got %v", c.OCR.MinConfidence)
	}

	if strings.TrimSpace(c.OCR.Languages) == "" {
		return fmt.Errorf("ocr.languages is required")
	}

	if c.Image.MaxDimension < 0 {
		return fmt.Errorf("image.max_dimension must be >= 0, got %d", c.Image.MaxDimension)
	}

	if c.Image.MaxFileSize < 1024 || c.Image.MaxFileSize > 1073741824 { // 1KB to 1GB
		return fmt.Errorf("image.max_file_size must be between 1KB and 1GB, got %d", c.Image.MaxFileSize)
	}

	if c.Validation.Threshold < 0 || c.Validation.Threshold > 1 {
		return fmt.Errorf("validation.threshold must be within [0, 1], got %v", c.Validation.Threshold)
	}

	if c.LLM.BatchSize < 1 {
		return fmt.Errorf("llm.batch_size must be >= 1, got %d", c.LLM.BatchSize)
	}

	if c.Worker.Concurrency < 1 || c.Worker.Concurrency > 100 {
		return fmt.Errorf("worker.concurrency must be between 1 and 100, got %d", c.Worker.Concurrency)
	}

	switch c.Worker.QueueBackend {
	case "redis", "asynq":
	default:
		return fmt.Errorf("worker.queue_backend must be redis or asynq, got %q", c.Worker.QueueBackend)
	}

	return nil
}

// ValidateWorker checks the settings only the queue worker needs.
func (c *Config) ValidateWorker() error {
	if c.Worker.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Worker.ProcessingTimeout <= 0 {
		return fmt.Errorf("worker.processing_timeout must be > 0, got %v", c.Worker.ProcessingTimeout)
	}

	return nil
}

func (a *AnchoringConfig) validate() error {
	if a.VerticalPenalty <= 1 {
		return fmt.Errorf("vertical_penalty must be > 1, got %v", a.VerticalPenalty)
	}
	if a.CutoffFactor <= 0 {
		return fmt.Errorf("cutoff_factor must be > 0, got %v", a.CutoffFactor)
	}
	if a.TieEpsilon < 0 {
		return fmt.Errorf("tie_epsilon must be >= 0, got %v", a.TieEpsilon)
	}
	if a.MeaningMaxRunes < 1 {
		return fmt.Errorf("meaning_max_runes must be >= 1, got %d", a.MeaningMaxRunes)
	}
	if a.ExampleMinRunes < 1 {
		return fmt.Errorf("example_min_runes must be >= 1, got %d", a.ExampleMinRunes)
	}
	if a.AnchorWeight < 0 || a.CoverageWeight < 0 || a.FragmentWeight < 0 {
		return fmt.Errorf("confidence weights must be >= 0")
	}
	if a.AnchorWeight+a.CoverageWeight+a.FragmentWeight == 0 {
		return fmt.Errorf("at least one confidence weight must be > 0")
	}
	if a.LowConfidence < 0 || a.LowConfidence > 1 {
		return fmt.Errorf("low_confidence must be within [0, 1], got %v", a.LowConfidence)
	}
	return nil
}
