package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	kgerrors "github.com/kangen/kangen/internal/errors"
)

const (
	downloadMaxRetries     = 3
	downloadInitialBackoff = time.Second
	downloadMaxBackoff     = 8 * time.Second
	downloadTimeout        = 2 * time.Minute
)

// loadFile loads the image from buffer, local path or URL
func (p *SheetProcessor) loadFile(ctx context.Context, req *ProcessRequest) ([]byte, error) {
	limit := p.config.Image.MaxFileSize

	switch {
	case len(req.ImageBuffer) > 0:
		p.logger.Debug("using image buffer", "job_id", req.JobID, "bytes", len(req.ImageBuffer))
		return req.ImageBuffer, nil

	case req.ImagePath != "":
		st, err := os.Stat(req.ImagePath)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", req.ImagePath, err)
		}
		if limit > 0 && st.Size() > limit {
			return nil, fmt.Errorf("file size exceeds maximum: %d > %d bytes: %w",
				st.Size(), limit, kgerrors.ErrInvalidInput)
		}
		return os.ReadFile(req.ImagePath)

	case req.ImageURL != "":
		return p.download(ctx, req.JobID, req.ImageURL)
	}

	return nil, kgerrors.NewInvalidInputError(req.JobID, "no image source provided (buffer, path or URL)")
}

// download fetches an image with exponential backoff between attempts.
func (p *SheetProcessor) download(ctx context.Context, jobID, url string) ([]byte, error) {
	client := &http.Client{Timeout: downloadTimeout}
	limit := p.config.Image.MaxFileSize

	var lastErr error
	backoff := downloadInitialBackoff
	for attempt := 1; attempt <= downloadMaxRetries; attempt++ {
		data, err := fetch(ctx, client, url, limit)
		if err == nil {
			p.logger.Debug("image downloaded", "job_id", jobID, "attempt", attempt, "bytes", len(data))
			return data, nil
		}
		if isPermanent(err) {
			return nil, err
		}
		lastErr = err
		p.logger.Warn("image download failed", "job_id", jobID, "attempt", attempt, "error", err)

		if attempt == downloadMaxRetries {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
		}
		backoff = min(backoff*2, downloadMaxBackoff)
	}

	return nil, fmt.Errorf("failed to download image after %d attempts: %w", downloadMaxRetries, lastErr)
}

// permanentError marks a download failure that a retry cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func isPermanent(err error) bool {
	var pe permanentError
	return errors.As(err, &pe)
}

func fetch(ctx context.Context, client *http.Client, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, permanentError{fmt.Errorf("build request: %w", err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, permanentError{fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	if limit > 0 && resp.ContentLength > limit {
		return nil, permanentError{fmt.Errorf("file size exceeds maximum: %d > %d bytes: %w",
			resp.ContentLength, limit, kgerrors.ErrInvalidInput)}
	}

	r := io.Reader(resp.Body)
	if limit > 0 {
		// one extra byte tells an oversized body without Content-Length apart
		r = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, permanentError{fmt.Errorf("file size exceeds maximum of %d bytes: %w", limit, kgerrors.ErrInvalidInput)}
	}
	return data, nil
}
