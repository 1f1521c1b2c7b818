package pipeline

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-import/internal/jobs"
)

func TestReaper_ReapOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	running := h.submit(t, "owner-1", jobs.SourceTabular, "stuck.xlsx", workbook(t, header()))
	pending, err := h.service.Register(ctx, "owner-1", jobs.SourceTabular, "idle.xlsx", bytes.NewReader(workbook(t, header())))
	require.NoError(t, err)

	reaper := NewReaper(h.store, h.blobs, time.Hour)

	n, err := reaper.ReapOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "fresh jobs are left alone")

	reaper.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = reaper.ReapOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := h.store.GetJob(ctx, "owner-1", running)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "import timed out")
	assert.NotNil(t, job.FinishedAt)
	assert.False(t, h.fileExists(t, job.FileKey))

	idle, err := h.store.GetJob(ctx, "owner-1", pending.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, idle.Status)
	assert.True(t, h.fileExists(t, idle.FileKey))

	// The reaped job's queued run refuses to start.
	err = h.runner(nil).Handle(ctx, h.publisher.messages[0])
	assert.ErrorIs(t, err, jobs.ErrInvalidTransition)

	n, err = reaper.ReapOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
