package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-import/internal/blob"
	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/jobs"
	"github.com/dvloznov/finance-import/internal/logger"
	"github.com/dvloznov/finance-import/internal/processor"
)

// PipelineStep represents a single stage of an import run.
type PipelineStep interface {
	Name() string
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all steps of one run.
type PipelineState struct {
	Job          *jobs.ImportJob
	Processor    processor.Processor
	Transactions []*domain.Transaction
}

// resolveProcessorStep picks the processor from the stored file's extension.
type resolveProcessorStep struct{ r *Runner }

func (s *resolveProcessorStep) Name() string { return "resolve_processor" }

func (s *resolveProcessorStep) Execute(ctx context.Context, state *PipelineState) error {
	p, err := s.r.factory.ForExtension(blob.Ext(state.Job.FileKey))
	if err != nil {
		return err
	}
	state.Processor = p
	return nil
}

// parseFileStep reads the stored file and converts it to transactions.
type parseFileStep struct{ r *Runner }

func (s *parseFileStep) Name() string { return "parse_file" }

func (s *parseFileStep) Execute(ctx context.Context, state *PipelineState) error {
	rc, err := s.r.blobs.Open(ctx, state.Job.FileKey)
	if err != nil {
		return fmt.Errorf("source file unavailable: %w", err)
	}
	defer rc.Close()

	txs, err := state.Processor.Process(ctx, rc, state.Job.OwnerID)
	if err != nil {
		return err
	}
	state.Transactions = txs
	return nil
}

// recordTotalStep checkpoints total_items before any row is persisted.
type recordTotalStep struct{ r *Runner }

func (s *recordTotalStep) Name() string { return "record_total" }

func (s *recordTotalStep) Execute(ctx context.Context, state *PipelineState) error {
	state.Job.TotalItems = len(state.Transactions)
	return s.r.checkpoint(ctx, state.Job)
}

// persistRowsStep saves each transaction in file order. A row that fails to
// save is recorded in error_message and the loop moves on; only a failed
// checkpoint or cancellation stops it.
type persistRowsStep struct{ r *Runner }

func (s *persistRowsStep) Name() string { return "persist_rows" }

func (s *persistRowsStep) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)
	job := state.Job

	for i, tx := range state.Transactions {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("import interrupted after %d of %d rows: %w", i, len(state.Transactions), err)
		}

		tx.OwnerID = job.OwnerID
		tx.ImportJobID = job.ID
		if err := s.r.sink.CreateTransaction(ctx, tx); err != nil {
			log.Error().Err(err).Int("row", i+1).Msg("Error processing transaction")
			job.ErrorMessage += fmt.Sprintf("Error processing transaction %d (%s): %v\n", i+1, tx.Description, err)
		} else {
			job.ProcessedItems++
			s.r.mirrorTransaction(ctx, tx)
		}

		if err := s.r.checkpoint(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// completeStep marks the job COMPLETED.
type completeStep struct{ r *Runner }

func (s *completeStep) Name() string { return "complete" }

func (s *completeStep) Execute(ctx context.Context, state *PipelineState) error {
	now := s.r.now()
	state.Job.Status = jobs.JobStatusCompleted
	state.Job.FinishedAt = &now
	return s.r.checkpoint(ctx, state.Job)
}

// errCheckpoint marks failures to durably write job progress.
var errCheckpoint = errors.New("checkpoint failed")
