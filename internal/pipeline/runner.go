// Package pipeline drives import jobs from upload to terminal status.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/finance-import/internal/blob"
	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/jobs"
	"github.com/dvloznov/finance-import/internal/logger"
)

// Runner executes one import job end to end. Rows are handled strictly in
// file order and every progress change is written before the next row starts.
type Runner struct {
	jobs    jobs.JobStore
	blobs   blob.Store
	factory ProcessorFactory
	sink    TransactionSink
	mirror  Mirror
	now     func() time.Time
}

// RunnerOption configures optional Runner collaborators.
type RunnerOption func(*Runner)

// WithMirror streams persisted transactions and finished runs to m.
func WithMirror(m Mirror) RunnerOption {
	return func(r *Runner) { r.mirror = m }
}

// WithClock overrides the time source used for audit timestamps.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a Runner.
func NewRunner(store jobs.JobStore, blobs blob.Store, factory ProcessorFactory, sink TransactionSink, opts ...RunnerOption) *Runner {
	r := &Runner{
		jobs:    store,
		blobs:   blobs,
		factory: factory,
		sink:    sink,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle adapts Run to the worker-pool handler signature.
func (r *Runner) Handle(ctx context.Context, msg *jobs.ProcessImportMessage) error {
	return r.Run(ctx, msg.OwnerID, msg.JobID)
}

// Run processes a job that the trigger has already moved to PROCESSING.
// Any other status is refused with jobs.ErrInvalidTransition and leaves the
// job and its file untouched. Stage failures mark the job FAILED; the source
// file is deleted on every terminal path.
func (r *Runner) Run(ctx context.Context, ownerID, jobID string) error {
	job, err := r.jobs.GetJob(ctx, ownerID, jobID)
	if err != nil {
		return fmt.Errorf("Run: loading job: %w", err)
	}
	if job.Status != jobs.JobStatusProcessing {
		return fmt.Errorf("Run: job %s is %s: %w", job.ID, job.Status, jobs.ErrInvalidTransition)
	}

	log := logger.FromContext(ctx).With().
		Str("job_id", job.ID).
		Str("owner_id", job.OwnerID).
		Str("task_id", job.TaskID).
		Logger()
	ctx = logger.WithContext(ctx, log)
	log.Info().Str("file", job.FileKey).Str("source", string(job.Source)).Msg("Starting import")

	defer r.finish(ctx, job)

	state := &PipelineState{Job: job}
	for _, step := range r.steps() {
		if err := step.Execute(ctx, state); err != nil {
			r.fail(ctx, job, step.Name(), err)
			return fmt.Errorf("Run: %s: %w", step.Name(), err)
		}
	}

	log.Info().
		Int("total_items", job.TotalItems).
		Int("processed_items", job.ProcessedItems).
		Msg("Import completed")
	return nil
}

func (r *Runner) steps() []PipelineStep {
	return []PipelineStep{
		&resolveProcessorStep{r: r},
		&parseFileStep{r: r},
		&recordTotalStep{r: r},
		&persistRowsStep{r: r},
		&completeStep{r: r},
	}
}

// checkpoint durably writes job progress.
func (r *Runner) checkpoint(ctx context.Context, job *jobs.ImportJob) error {
	if err := r.jobs.SaveJob(context.WithoutCancel(ctx), job); err != nil {
		return fmt.Errorf("%w: %w", errCheckpoint, err)
	}
	return nil
}

// fail records cause on the job and marks it FAILED. When the job was already
// finalised elsewhere (for example by the stale-job reaper) nothing is written.
func (r *Runner) fail(ctx context.Context, job *jobs.ImportJob, stage string, cause error) {
	log := logger.FromContext(ctx)
	if errors.Is(cause, jobs.ErrInvalidTransition) || errors.Is(cause, jobs.ErrJobNotFound) {
		log.Warn().Err(cause).Str("stage", stage).Msg("Import was finalised elsewhere, stopping")
		return
	}
	log.Error().Err(cause).Str("stage", stage).Msg("Import failed")

	now := r.now()
	job.Status = jobs.JobStatusFailed
	job.FinishedAt = &now
	job.ErrorMessage += cause.Error()

	if err := r.jobs.SaveJob(context.WithoutCancel(ctx), job); err != nil {
		log.Error().Err(err).Msg("Could not record import failure")
	}
}

// finish removes the source file and reports terminal runs to the mirror.
func (r *Runner) finish(ctx context.Context, job *jobs.ImportJob) {
	ctx = context.WithoutCancel(ctx)
	log := logger.FromContext(ctx)

	if err := r.blobs.Delete(ctx, job.FileKey); err != nil {
		log.Warn().Err(err).Str("file", job.FileKey).Msg("Could not delete import file")
	}
	if r.mirror != nil && job.Status.IsTerminal() {
		if err := r.mirror.RecordImportRun(ctx, job); err != nil {
			log.Warn().Err(err).Msg("Could not mirror import run")
		}
	}
}

func (r *Runner) mirrorTransaction(ctx context.Context, tx *domain.Transaction) {
	if r.mirror == nil {
		return
	}
	if err := r.mirror.MirrorTransaction(ctx, tx); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("Could not mirror transaction")
	}
}
