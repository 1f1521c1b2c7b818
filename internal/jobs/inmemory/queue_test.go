package inmemory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-import/internal/jobs"
)

func TestQueue_DeliversEachMessageOnce(t *testing.T) {
	q := NewQueue(10, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	wg.Add(4)
	require.NoError(t, q.Start(ctx, func(ctx context.Context, msg *jobs.ProcessImportMessage) error {
		defer wg.Done()
		mu.Lock()
		seen[msg.JobID]++
		mu.Unlock()
		if msg.JobID == "j2" {
			return errors.New("boom")
		}
		return nil
	}))

	for _, id := range []string{"j1", "j2", "j3", "j4"} {
		require.NoError(t, q.PublishImport(ctx, &jobs.ProcessImportMessage{JobID: id, TaskID: "t-" + id}))
	}
	wg.Wait()

	// give a failed message the chance to be (wrongly) redelivered
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, q.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"j1": 1, "j2": 1, "j3": 1, "j4": 1}, seen)
}

func TestQueue_RecoversFromPanics(t *testing.T) {
	q := NewQueue(2, 1)
	ctx := context.Background()

	var calls atomic.Int32
	done := make(chan struct{})
	require.NoError(t, q.Start(ctx, func(ctx context.Context, msg *jobs.ProcessImportMessage) error {
		if calls.Add(1) == 1 {
			panic("bad file")
		}
		close(done)
		return nil
	}))

	require.NoError(t, q.PublishImport(ctx, &jobs.ProcessImportMessage{JobID: "j1"}))
	require.NoError(t, q.PublishImport(ctx, &jobs.ProcessImportMessage{JobID: "j2"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive the panic")
	}
	require.NoError(t, q.Stop(ctx))
}

func TestQueue_ClosedRejectsPublish(t *testing.T) {
	q := NewQueue(1, 1)
	require.NoError(t, q.Close())

	err := q.PublishImport(context.Background(), &jobs.ProcessImportMessage{JobID: "j1"})
	assert.Error(t, err)
	assert.Error(t, q.Start(context.Background(), func(context.Context, *jobs.ProcessImportMessage) error { return nil }))

	// Stop is idempotent
	assert.NoError(t, q.Stop(context.Background()))
}

func TestQueue_PublishRequiresJobID(t *testing.T) {
	q := NewQueue(1, 1)
	defer q.Close()

	assert.Error(t, q.PublishImport(context.Background(), &jobs.ProcessImportMessage{}))
}

func TestQueue_PublishHonoursContext(t *testing.T) {
	q := NewQueue(0, 1)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.PublishImport(ctx, &jobs.ProcessImportMessage{JobID: "j1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
