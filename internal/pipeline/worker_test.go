package pipeline

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-import/internal/jobs"
	"github.com/dvloznov/finance-import/internal/jobs/inmemory"
)

func TestWorkerPool_ProcessesTriggeredImports(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobStore := inmemory.NewStore()
	queue := inmemory.NewQueue(10, 2)
	sink := &memorySink{}
	runner := NewRunner(jobStore, h.blobs, h.factory, sink)
	require.NoError(t, queue.Start(ctx, runner.Handle))
	defer queue.Close()

	svc := NewService(jobStore, h.blobs, h.factory, queue)

	var ids []string
	for _, desc := range []string{"Rent", "Groceries", "Fuel"} {
		content := workbook(t, header(),
			[]interface{}{"2024-03-26", desc, "10.00", "EXPENSE", "Home", "Checking"})
		job, err := svc.Register(ctx, "owner-1", jobs.SourceTabular, desc+".xlsx", bytes.NewReader(content))
		require.NoError(t, err)
		_, err = svc.Trigger(ctx, "owner-1", job.ID)
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	for _, id := range ids {
		require.Eventually(t, func() bool {
			job, err := jobStore.GetJob(ctx, "owner-1", id)
			return err == nil && job.Status.IsTerminal()
		}, 5*time.Second, 10*time.Millisecond)

		job, err := jobStore.GetJob(ctx, "owner-1", id)
		require.NoError(t, err)
		assert.Equal(t, jobs.JobStatusCompleted, job.Status, job.ErrorMessage)
		assert.Equal(t, 1, job.ProcessedItems)
	}

	assert.Len(t, sink.all(), 3)

	// Concurrent imports share one category and one account.
	categories, err := h.store.ListCategories(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, categories, 1)
	accounts, err := h.store.ListAccounts(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}
