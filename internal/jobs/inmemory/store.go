package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/finance-import/internal/jobs"
)

// Store is an in-memory implementation of JobStore.
// It stores jobs in memory and is safe for concurrent use.
// Data is lost on restart; cmd/api uses the sqlite store instead.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*jobs.ImportJob
	now  func() time.Time
}

// NewStore creates a new in-memory job store.
func NewStore() *Store {
	return &Store{
		jobs: make(map[string]*jobs.ImportJob),
		now:  time.Now,
	}
}

// CreateJob implements the JobStore interface.
func (s *Store) CreateJob(ctx context.Context, job *jobs.ImportJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("CreateJob: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("CreateJob: job %s already exists", job.ID)
	}
	now := s.now()
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	jobCopy := *job
	s.jobs[job.ID] = &jobCopy
	return nil
}

// GetJob implements the JobStore interface.
func (s *Store) GetJob(ctx context.Context, ownerID, jobID string) (*jobs.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists || job.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}

	jobCopy := *job
	return &jobCopy, nil
}

// ListJobs implements the JobStore interface.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*jobs.ImportJob{}
	for _, job := range s.jobs {
		if !filter.Matches(job) {
			continue
		}
		jobCopy := *job
		result = append(result, &jobCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.ImportJob{}, nil
		}
		result = result[filter.Offset:]
	}

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

// SaveJob implements the JobStore interface.
func (s *Store) SaveJob(ctx context.Context, job *jobs.ImportJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("SaveJob: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.jobs[job.ID]
	if !exists || current.OwnerID != job.OwnerID {
		return fmt.Errorf("SaveJob: %w: %s", jobs.ErrJobNotFound, job.ID)
	}
	if !current.Status.CanTransitionTo(job.Status) {
		return fmt.Errorf("SaveJob: %w: %s -> %s", jobs.ErrInvalidTransition, current.Status, job.Status)
	}

	job.UpdatedAt = s.now()
	jobCopy := *job
	s.jobs[job.ID] = &jobCopy
	return nil
}

// MarkProcessing implements the JobStore interface.
func (s *Store) MarkProcessing(ctx context.Context, ownerID, jobID, taskID string) (*jobs.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists || job.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}
	if job.Status != jobs.JobStatusPending {
		return nil, jobs.ErrNotPending
	}

	now := s.now()
	job.Status = jobs.JobStatusProcessing
	job.TaskID = taskID
	job.StartedAt = &now
	job.UpdatedAt = now

	jobCopy := *job
	return &jobCopy, nil
}

// ExpireJob implements the JobStore interface.
func (s *Store) ExpireJob(ctx context.Context, ownerID, jobID string, staleBefore time.Time, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists || job.OwnerID != ownerID {
		return false, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}
	if job.Status != jobs.JobStatusProcessing || !job.UpdatedAt.Before(staleBefore) {
		return false, nil
	}

	now := s.now()
	job.Status = jobs.JobStatusFailed
	job.ErrorMessage += reason
	job.FinishedAt = &now
	job.UpdatedAt = now
	return true, nil
}

// Ensure Store implements JobStore interface.
var _ jobs.JobStore = (*Store)(nil)
