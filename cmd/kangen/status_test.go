package main

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kangen/kangen/internal/storage"
)

type fakeJobs map[string]map[string]interface{}

func (f fakeJobs) GetJobByID(_ context.Context, jobID string) (map[string]interface{}, error) {
	job, ok := f[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrJobNotFound, jobID)
	}
	return job, nil
}

func TestPrintJob(t *testing.T) {
	jobs := fakeJobs{"j1": {"id": "j1", "status": "completed", "entryCount": int64(7)}}

	var out bytes.Buffer
	require.NoError(t, printJob(context.Background(), &out, jobs, "j1"))
	assert.JSONEq(t, `{"id":"j1","status":"completed","entryCount":7}`, out.String())

	out.Reset()
	err := printJob(context.Background(), &out, jobs, "missing")
	require.ErrorIs(t, err, storage.ErrJobNotFound)
	assert.Empty(t, out.String())
}
