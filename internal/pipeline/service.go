package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/finance-import/internal/blob"
	"github.com/dvloznov/finance-import/internal/jobs"
	"github.com/dvloznov/finance-import/internal/logger"
)

// ErrSourceMismatch is returned when the declared source disagrees with the
// uploaded file's extension.
var ErrSourceMismatch = errors.New("file extension does not match import source")

// Service registers uploads and hands them to the worker pool.
type Service struct {
	jobs      jobs.JobStore
	blobs     blob.Store
	sources   SourceResolver
	publisher jobs.Publisher
	now       func() time.Time
}

// NewService creates a Service.
func NewService(store jobs.JobStore, blobs blob.Store, sources SourceResolver, publisher jobs.Publisher) *Service {
	return &Service{
		jobs:      store,
		blobs:     blobs,
		sources:   sources,
		publisher: publisher,
		now:       time.Now,
	}
}

// Register stores an uploaded file and creates a PENDING job for it.
// TABULAR and BANK_EXCHANGE uploads must carry an extension of their family;
// other sources are accepted as-is and rejected when run.
func (s *Service) Register(ctx context.Context, ownerID string, source jobs.Source, fileName string, r io.Reader) (*jobs.ImportJob, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("Register: owner is required")
	}
	if _, err := jobs.ParseSource(string(source)); err != nil {
		return nil, fmt.Errorf("Register: %w", err)
	}

	ext := strings.ToLower(path.Ext(fileName))
	if err := s.checkSource(source, ext); err != nil {
		return nil, fmt.Errorf("Register: %w", err)
	}

	id := uuid.NewString()
	key := blob.ImportKey(ownerID, id, ext)
	if err := s.blobs.Put(ctx, key, r); err != nil {
		return nil, fmt.Errorf("Register: storing file: %w", err)
	}

	job := &jobs.ImportJob{
		ID:       id,
		OwnerID:  ownerID,
		Source:   source,
		Status:   jobs.JobStatusPending,
		FileKey:  key,
		FileName: path.Base(fileName),
	}
	log := logger.FromContext(ctx)
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			log.Warn().Err(delErr).Str("file", key).Msg("Could not remove orphaned upload")
		}
		return nil, fmt.Errorf("Register: creating job: %w", err)
	}

	log.Info().
		Str("job_id", job.ID).
		Str("owner_id", ownerID).
		Str("source", string(source)).
		Str("file", key).
		Msg("Import registered")
	return job, nil
}

func (s *Service) checkSource(source jobs.Source, ext string) error {
	if source != jobs.SourceTabular && source != jobs.SourceBankExchange {
		return nil
	}
	family, ok := s.sources.SourceFor(ext)
	if !ok || family != source {
		return fmt.Errorf("%w: %s upload cannot have extension %q", ErrSourceMismatch, source, ext)
	}
	return nil
}

// Trigger moves a PENDING job to PROCESSING and queues its run. It returns
// the task id that correlates the queued run, or jobs.ErrNotPending when the
// job was already triggered.
func (s *Service) Trigger(ctx context.Context, ownerID, jobID string) (string, error) {
	taskID := uuid.NewString()
	job, err := s.jobs.MarkProcessing(ctx, ownerID, jobID, taskID)
	if err != nil {
		return "", fmt.Errorf("Trigger: %w", err)
	}

	msg := &jobs.ProcessImportMessage{
		JobID:      job.ID,
		OwnerID:    job.OwnerID,
		TaskID:     taskID,
		EnqueuedAt: s.now(),
	}
	if err := s.publisher.PublishImport(ctx, msg); err != nil {
		s.abandon(ctx, job, fmt.Sprintf("could not queue import: %v", err))
		return "", fmt.Errorf("Trigger: publishing: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("job_id", job.ID).
		Str("owner_id", job.OwnerID).
		Str("task_id", taskID).
		Msg("Import processing started")
	return taskID, nil
}

// abandon marks a job that will never run as FAILED and removes its file.
func (s *Service) abandon(ctx context.Context, job *jobs.ImportJob, reason string) {
	ctx = context.WithoutCancel(ctx)
	log := logger.FromContext(ctx)

	now := s.now()
	job.Status = jobs.JobStatusFailed
	job.FinishedAt = &now
	job.ErrorMessage += reason
	if err := s.jobs.SaveJob(ctx, job); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("Could not mark import as failed")
	}
	if err := s.blobs.Delete(ctx, job.FileKey); err != nil {
		log.Warn().Err(err).Str("file", job.FileKey).Msg("Could not delete import file")
	}
}

// Get returns one job of the owner.
func (s *Service) Get(ctx context.Context, ownerID, jobID string) (*jobs.ImportJob, error) {
	return s.jobs.GetJob(ctx, ownerID, jobID)
}

// List returns the owner's jobs, newest first.
func (s *Service) List(ctx context.Context, ownerID string, status jobs.JobStatus, limit, offset int) ([]*jobs.ImportJob, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("List: owner is required")
	}
	return s.jobs.ListJobs(ctx, jobs.JobFilter{
		OwnerID: ownerID,
		Status:  status,
		Limit:   limit,
		Offset:  offset,
	})
}

// SupportedExtensions lists the extensions a run can process.
func (s *Service) SupportedExtensions() []string {
	return s.sources.Supported()
}
