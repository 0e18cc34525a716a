/**
 * PostgreSQL Client for the KanGen sheet worker
 *
 * Persists sheet job status and the kanji entries each job produced.
 */

package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/kangen/kangen/internal/config"
	"github.com/kangen/kangen/internal/layout"
)

//go:embed schema.sql
var schemaSQL string

// Job statuses written by the worker.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ErrJobNotFound is returned by GetJobByID for an unknown job.
var ErrJobNotFound = errors.New("job not found")

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	Filename         string
	Status           string
	Confidence       float64
	ProcessingTimeMs int64
	EntryCount       int
	OrphanCount      int
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// sanitizeConfidence rounds confidence to 4 decimal places and clamps it
// to [0.0, 1.0] so it fits the NUMERIC(5,4) columns.
// PostgreSQL rejects values like 0.9632000000000001 in that type.
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 || math.IsNaN(confidence) {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

var (
	nullEscape    = regexp.MustCompile(`\\u0000`)
	controlEscape = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// sanitizeJSONForPostgres removes escape sequences JSONB refuses.
// OCR output occasionally contains NUL and other control characters:
// \u0000 is dropped, the rest of \u0001-\u001F becomes a space.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscape.ReplaceAll(jsonBytes, []byte{})
	return controlEscape.ReplaceAll(result, []byte(" "))
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(cfg config.DatabaseConfig) (*PostgresClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the kangen schema and tables if they are missing.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// UpdateJobStatus upserts the job row. The worker may report a job before
// anything else has created it, so the first update inserts.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	sanitizedConfidence := sanitizeConfidence(update.Confidence)

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	metadataJSON = sanitizeJSONForPostgres(metadataJSON)

	query := `
		INSERT INTO kangen.sheet_jobs (
			id, filename, status, confidence, processing_time_ms,
			entry_count, orphan_count, error_code, error_message, metadata,
			created_at, updated_at
		) VALUES (
			$1::uuid, COALESCE(NULLIF($2, ''), 'unknown'), $3,
			NULLIF($4::NUMERIC(5,4), 0), NULLIF($5, 0),
			NULLIF($6, 0), NULLIF($7, 0),
			NULLIF($8, ''), NULLIF($9, ''),
			COALESCE(NULLIF($10, 'null')::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			filename = CASE
				WHEN EXCLUDED.filename = 'unknown' THEN kangen.sheet_jobs.filename
				ELSE EXCLUDED.filename
			END,
			confidence = COALESCE(EXCLUDED.confidence, kangen.sheet_jobs.confidence),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, kangen.sheet_jobs.processing_time_ms),
			entry_count = COALESCE(EXCLUDED.entry_count, kangen.sheet_jobs.entry_count),
			orphan_count = COALESCE(EXCLUDED.orphan_count, kangen.sheet_jobs.orphan_count),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			metadata = kangen.sheet_jobs.metadata || EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,            // $1 - id
		update.Filename,         // $2 - filename
		update.Status,           // $3 - status
		sanitizedConfidence,     // $4 - confidence (4 decimals)
		update.ProcessingTimeMs, // $5 - processing_time_ms
		update.EntryCount,       // $6 - entry_count
		update.OrphanCount,      // $7 - orphan_count
		update.ErrorCode,        // $8 - error_code
		update.ErrorMessage,     // $9 - error_message
		string(metadataJSON),    // $10 - metadata
	).Scan(&returnedID)
	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s, confidence=%.4f): %w",
			update.JobID, update.Status, sanitizedConfidence, err)
	}

	return nil
}

// entryRow is one kanji_entries row before insertion.
type entryRow struct {
	Kanji       string
	Confidence  float64
	Flagged     bool
	OnYomi      []string
	KunYomi     []string
	Meanings    []string
	Examples    []string
	Slots       []byte
	Diagnostics []byte
}

func newEntryRow(e layout.Entry) (entryRow, error) {
	slots, err := json.Marshal(e.Slots)
	if err != nil {
		return entryRow{}, fmt.Errorf("marshal slots of %s: %w", e.Kanji(), err)
	}
	diags := e.Diagnostics
	if diags == nil {
		diags = []layout.Diagnostic{}
	}
	diagJSON, err := json.Marshal(diags)
	if err != nil {
		return entryRow{}, fmt.Errorf("marshal diagnostics of %s: %w", e.Kanji(), err)
	}
	return entryRow{
		Kanji:       e.Kanji(),
		Confidence:  sanitizeConfidence(e.Confidence),
		Flagged:     e.Flagged(),
		OnYomi:      e.Texts(layout.OnYomi),
		KunYomi:     e.Texts(layout.KunYomi),
		Meanings:    e.Texts(layout.Meaning),
		Examples:    e.Texts(layout.Example),
		Slots:       sanitizeJSONForPostgres(slots),
		Diagnostics: sanitizeJSONForPostgres(diagJSON),
	}, nil
}

// StoreEntries replaces the entries stored for a job. Retried jobs
// therefore never leave duplicates behind.
func (p *PostgresClient) StoreEntries(ctx context.Context, jobID string, entries []layout.Entry) error {
	if jobID == "" {
		return fmt.Errorf("job ID is required")
	}

	rows := make([]entryRow, 0, len(entries))
	for _, e := range entries {
		row, err := newEntryRow(e)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM kangen.kanji_entries WHERE job_id = $1::uuid`, jobID); err != nil {
		return fmt.Errorf("failed to clear entries of job %s: %w", jobID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO kangen.kanji_entries (
			id, job_id, position, kanji, confidence, flagged,
			on_yomi, kun_yomi, meanings, examples, slots, diagnostics, created_at
		) VALUES ($1, $2::uuid, $3, $4, $5::NUMERIC(5,4), $6, $7, $8, $9, $10, $11::jsonb, $12::jsonb, NOW())
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare entry insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		_, err := stmt.ExecContext(ctx,
			uuid.New(), jobID, i, row.Kanji, row.Confidence, row.Flagged,
			pq.Array(row.OnYomi), pq.Array(row.KunYomi), pq.Array(row.Meanings), pq.Array(row.Examples),
			string(row.Slots), string(row.Diagnostics),
		)
		if err != nil {
			return fmt.Errorf("failed to insert entry %s (job=%s): %w", row.Kanji, jobID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit entries of job %s: %w", jobID, err)
	}
	return nil
}

// GetJobByID retrieves a job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id,
			filename,
			status,
			confidence,
			processing_time_ms,
			entry_count,
			orphan_count,
			error_code,
			error_message,
			metadata,
			created_at,
			updated_at
		FROM kangen.sheet_jobs
		WHERE id = $1::uuid
	`

	var row jobRow
	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&row.id, &row.filename, &row.status, &row.confidence, &row.processingTimeMs,
		&row.entryCount, &row.orphanCount, &row.errorCode, &row.errorMessage,
		&row.metadataJSON, &row.createdAt, &row.updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toMap()
}

// jobRow is one scanned kangen.sheet_jobs row.
type jobRow struct {
	id, filename, status    string
	confidence              sql.NullFloat64
	processingTimeMs        sql.NullInt64
	entryCount, orphanCount sql.NullInt64
	errorCode, errorMessage sql.NullString
	metadataJSON            []byte
	createdAt, updatedAt    time.Time
}

// toMap renders the row with NULL columns left out.
func (r jobRow) toMap() (map[string]interface{}, error) {
	var metadata map[string]interface{}
	if len(r.metadataJSON) > 0 {
		if err := json.Unmarshal(r.metadataJSON, &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	result := map[string]interface{}{
		"id":        r.id,
		"filename":  r.filename,
		"status":    r.status,
		"createdAt": r.createdAt,
		"updatedAt": r.updatedAt,
		"metadata":  metadata,
	}
	if r.confidence.Valid {
		result["confidence"] = r.confidence.Float64
	}
	if r.processingTimeMs.Valid {
		result["processingTimeMs"] = r.processingTimeMs.Int64
	}
	if r.entryCount.Valid {
		result["entryCount"] = r.entryCount.Int64
	}
	if r.orphanCount.Valid {
		result["orphanCount"] = r.orphanCount.Int64
	}
	if r.errorCode.Valid {
		result["errorCode"] = r.errorCode.String
	}
	if r.errorMessage.Valid {
		result["errorMessage"] = r.errorMessage.String
	}
	return result, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
