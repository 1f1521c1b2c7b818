package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrJobNotFound is returned when no import job matches the requested id and owner.
	ErrJobNotFound = errors.New("import job not found")
	// ErrNotPending is returned when processing is requested for a job that already left PENDING.
	ErrNotPending = errors.New("import already processed or in progress")
	// ErrInvalidTransition is returned when a status change would move a job backwards.
	ErrInvalidTransition = errors.New("invalid import status transition")
)

// Source is the declared origin of an uploaded file.
type Source string

const (
	SourceTabular      Source = "TABULAR"
	SourceBankExchange Source = "BANK_EXCHANGE"
	SourceImage        Source = "IMAGE"
	SourceAPI          Source = "API"
	SourceManual       Source = "MANUAL"
)

// ParseSource validates a declared source value.
func ParseSource(s string) (Source, error) {
	switch src := Source(s); src {
	case SourceTabular, SourceBankExchange, SourceImage, SourceAPI, SourceManual:
		return src, nil
	}
	return "", fmt.Errorf("unknown import source %q", s)
}

// JobStatus represents the current status of an import job.
type JobStatus string

const (
	// JobStatusPending indicates the file is registered but processing has not been requested.
	JobStatusPending JobStatus = "PENDING"
	// JobStatusProcessing indicates a run was requested and is queued or executing.
	JobStatusProcessing JobStatus = "PROCESSING"
	// JobStatusCompleted indicates every row was attempted.
	JobStatusCompleted JobStatus = "COMPLETED"
	// JobStatusFailed indicates a stage-level failure aborted the run.
	JobStatusFailed JobStatus = "FAILED"
)

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo reports whether moving from s to next keeps the status monotonic.
// Staying in the same status is allowed so checkpoints can be written repeatedly.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusProcessing:
		return next.IsTerminal()
	}
	return false
}

// ImportJob tracks one import attempt from registration to its terminal status.
type ImportJob struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"owner_id"`
	Source         Source     `json:"source"`
	Status         JobStatus  `json:"status"`
	FileKey        string     `json:"file"`
	FileName       string     `json:"file_name"`
	TotalItems     int        `json:"total_items"`
	ProcessedItems int        `json:"processed_items"`
	ErrorMessage   string     `json:"error_message"`
	TaskID         string     `json:"celery_task_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Validate checks the counter invariants of a job.
func (j *ImportJob) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.OwnerID == "" {
		return fmt.Errorf("job owner is required")
	}
	if j.TotalItems < 0 || j.ProcessedItems < 0 {
		return fmt.Errorf("job counters must not be negative")
	}
	if j.ProcessedItems > j.TotalItems {
		return fmt.Errorf("processed_items %d exceeds total_items %d", j.ProcessedItems, j.TotalItems)
	}
	return nil
}

// ProcessImportMessage is the unit of work handed to the worker pool.
type ProcessImportMessage struct {
	// JobID is the import job to run.
	JobID string `json:"job_id"`

	// OwnerID scopes every read and write performed by the run.
	OwnerID string `json:"owner_id"`

	// TaskID is the correlation id returned to the caller that requested processing.
	TaskID string `json:"task_id"`

	// EnqueuedAt is when the message was published.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Publisher defines the interface for publishing import runs to a queue.
type Publisher interface {
	// PublishImport enqueues one run of an import job.
	PublishImport(ctx context.Context, msg *ProcessImportMessage) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming import runs from a queue.
type Consumer interface {
	// Start begins consuming messages; handler is called once per message.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming and waits for in-flight runs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes one message. Messages are never redelivered, so a
// handler records its own failures on the job before returning.
type JobHandler func(ctx context.Context, msg *ProcessImportMessage) error

// JobStore defines the persistence contract for import jobs.
// All reads are scoped by owner; a job owned by someone else is reported as ErrJobNotFound.
type JobStore interface {
	// CreateJob inserts a new job.
	CreateJob(ctx context.Context, job *ImportJob) error

	// GetJob retrieves a job by owner and id.
	GetJob(ctx context.Context, ownerID, jobID string) (*ImportJob, error)

	// ListJobs retrieves jobs matching filter, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*ImportJob, error)

	// SaveJob durably writes the mutable fields of job. It rejects status
	// changes that CanTransitionTo forbids with ErrInvalidTransition.
	SaveJob(ctx context.Context, job *ImportJob) error

	// MarkProcessing atomically moves a PENDING job to PROCESSING and records
	// taskID. It returns ErrNotPending if the job was not PENDING.
	MarkProcessing(ctx context.Context, ownerID, jobID, taskID string) (*ImportJob, error)

	// ExpireJob atomically marks a PROCESSING job FAILED, appending reason to
	// its error message, but only while its last checkpoint is older than
	// staleBefore. It reports whether the job was expired.
	ExpireJob(ctx context.Context, ownerID, jobID string, staleBefore time.Time, reason string) (bool, error)
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// OwnerID filters jobs by owner. Empty matches every owner and is only used by operators.
	OwnerID string

	// Status filters jobs by status.
	Status JobStatus

	// UpdatedBefore keeps jobs whose last checkpoint is older than this instant.
	UpdatedBefore time.Time

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}

// Matches reports whether job satisfies every set criterion.
func (f JobFilter) Matches(job *ImportJob) bool {
	if f.OwnerID != "" && job.OwnerID != f.OwnerID {
		return false
	}
	if f.Status != "" && job.Status != f.Status {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !job.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}
