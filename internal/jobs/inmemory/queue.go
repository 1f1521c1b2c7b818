package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/finance-import/internal/jobs"
	"github.com/dvloznov/finance-import/internal/logger"
)

// DefaultWorkerCount is used when NewQueue receives a non-positive worker count.
const DefaultWorkerCount = 5

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for message distribution and is safe for concurrent use.
// Messages are delivered at most once: a failed run is never re-enqueued,
// because re-running an import would duplicate its transactions.
type Queue struct {
	msgChan   chan *jobs.ProcessImportMessage
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	workers   int
	closed    bool
}

// NewQueue creates a new in-memory queue.
// bufferSize determines how many messages can be queued before PublishImport blocks.
func NewQueue(bufferSize, workers int) *Queue {
	if workers <= 0 {
		workers = DefaultWorkerCount
	}
	return &Queue{
		msgChan:   make(chan *jobs.ProcessImportMessage, bufferSize),
		closeChan: make(chan struct{}),
		workers:   workers,
	}
}

// PublishImport implements the Publisher interface.
func (q *Queue) PublishImport(ctx context.Context, msg *jobs.ProcessImportMessage) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}
	if msg.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now()
	}

	select {
	case q.msgChan <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start implements the Consumer interface.
// The handler is called concurrently, up to the configured worker count.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.RUnlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i, handler)
	}

	return nil
}

// worker processes messages from the queue.
func (q *Queue) worker(ctx context.Context, id int, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case msg := <-q.msgChan:
			if msg == nil {
				return
			}
			q.process(ctx, id, msg, handler)
		}
	}
}

// process runs the handler once and logs the outcome.
func (q *Queue) process(ctx context.Context, workerID int, msg *jobs.ProcessImportMessage, handler jobs.JobHandler) {
	log := logger.FromContext(ctx).With().
		Int("worker", workerID).
		Str("job_id", msg.JobID).
		Str("task_id", msg.TaskID).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("import handler panicked")
		}
	}()

	start := time.Now()
	if err := handler(logger.WithContext(ctx, log), msg); err != nil {
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("import run failed")
		return
	}
	log.Debug().Dur("duration", time.Since(start)).Msg("import run finished")
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight runs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
