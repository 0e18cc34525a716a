package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/kangen/kangen/internal/config"
	"github.com/kangen/kangen/internal/storage"
)

// jobReader reads a stored sheet job.
type jobReader interface {
	GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error)
}

// showStatus prints a worker job as recorded in PostgreSQL.
func showStatus(ctx context.Context, w io.Writer, cfg *config.Config, jobID string) error {
	db, err := storage.NewPostgresClient(cfg.Database)
	if err != nil {
		return fmt.Errorf("job status needs DATABASE_URL: %w", err)
	}
	defer db.Close()

	return printJob(ctx, w, db, jobID)
}

func printJob(ctx context.Context, w io.Writer, jobs jobReader, jobID string) error {
	job, err := jobs.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
