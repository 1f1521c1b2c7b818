package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/finance-import/internal/jobs"
)

var allStatuses = []jobs.JobStatus{
	jobs.JobStatusPending,
	jobs.JobStatusProcessing,
	jobs.JobStatusCompleted,
	jobs.JobStatusFailed,
}

const jobColumns = `id, owner_id, source, status, file_key, file_name, total_items, processed_items,
	error_message, task_id, created_at, updated_at, started_at, finished_at`

// CreateJob implements the JobStore interface.
func (s *Store) CreateJob(ctx context.Context, job *jobs.ImportJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("CreateJob: %w", err)
	}
	now := s.now()
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO import_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.OwnerID, string(job.Source), string(job.Status), job.FileKey, job.FileName,
		job.TotalItems, job.ProcessedItems, job.ErrorMessage, job.TaskID,
		formatTime(job.CreatedAt), formatTime(job.UpdatedAt), nullTime(job.StartedAt), nullTime(job.FinishedAt)); err != nil {
		return fmt.Errorf("CreateJob: %w", err)
	}
	return nil
}

// GetJob implements the JobStore interface.
func (s *Store) GetJob(ctx context.Context, ownerID, jobID string) (*jobs.ImportJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM import_jobs WHERE id = ? AND owner_id = ?`, jobID, ownerID)
	job, err := scanJob(row)
	if isNoRows(err) {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("GetJob: %w", err)
	}
	return job, nil
}

// ListJobs implements the JobStore interface.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.ImportJob, error) {
	var (
		where []string
		args  []any
	)
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.UpdatedBefore.IsZero() {
		where = append(where, "updated_at < ?")
		args = append(args, formatTime(filter.UpdatedBefore))
	}

	query := `SELECT ` + jobColumns + ` FROM import_jobs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListJobs: %w", err)
	}
	defer rows.Close()

	result := []*jobs.ImportJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("ListJobs: %w", err)
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

// SaveJob implements the JobStore interface. The status guard is part of the
// UPDATE itself, so a concurrent terminal write cannot be overwritten.
func (s *Store) SaveJob(ctx context.Context, job *jobs.ImportJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("SaveJob: %w", err)
	}

	var from []any
	for _, st := range allStatuses {
		if st.CanTransitionTo(job.Status) {
			from = append(from, string(st))
		}
	}
	if len(from) == 0 {
		return fmt.Errorf("SaveJob: %w: unknown status %q", jobs.ErrInvalidTransition, job.Status)
	}

	updatedAt := s.now()
	args := []any{
		string(job.Status), job.TotalItems, job.ProcessedItems, job.ErrorMessage, job.TaskID,
		formatTime(updatedAt), nullTime(job.StartedAt), nullTime(job.FinishedAt),
		job.ID, job.OwnerID,
	}
	args = append(args, from...)

	res, err := s.db.ExecContext(ctx, `
		UPDATE import_jobs
		SET status = ?, total_items = ?, processed_items = ?, error_message = ?, task_id = ?,
		    updated_at = ?, started_at = ?, finished_at = ?
		WHERE id = ? AND owner_id = ? AND status IN (?`+strings.Repeat(", ?", len(from)-1)+`)`,
		args...)
	if err != nil {
		return fmt.Errorf("SaveJob: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("SaveJob: rows affected: %w", err)
	}
	if n == 0 {
		current, err := s.GetJob(ctx, job.OwnerID, job.ID)
		if err != nil {
			return fmt.Errorf("SaveJob: %w", err)
		}
		return fmt.Errorf("SaveJob: %w: %s -> %s", jobs.ErrInvalidTransition, current.Status, job.Status)
	}
	job.UpdatedAt = updatedAt
	return nil
}

// MarkProcessing implements the JobStore interface.
func (s *Store) MarkProcessing(ctx context.Context, ownerID, jobID, taskID string) (*jobs.ImportJob, error) {
	now := formatTime(s.now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE import_jobs
		SET status = ?, task_id = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND owner_id = ? AND status = ?`,
		string(jobs.JobStatusProcessing), taskID, now, now, jobID, ownerID, string(jobs.JobStatusPending))
	if err != nil {
		return nil, fmt.Errorf("MarkProcessing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("MarkProcessing: rows affected: %w", err)
	}

	job, err := s.GetJob(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, jobs.ErrNotPending
	}
	return job, nil
}

// ExpireJob implements the JobStore interface.
func (s *Store) ExpireJob(ctx context.Context, ownerID, jobID string, staleBefore time.Time, reason string) (bool, error) {
	now := formatTime(s.now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE import_jobs
		SET status = ?, error_message = error_message || ?, finished_at = ?, updated_at = ?
		WHERE id = ? AND owner_id = ? AND status = ? AND updated_at < ?`,
		string(jobs.JobStatusFailed), reason, now, now,
		jobID, ownerID, string(jobs.JobStatusProcessing), formatTime(staleBefore))
	if err != nil {
		return false, fmt.Errorf("ExpireJob: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ExpireJob: rows affected: %w", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*jobs.ImportJob, error) {
	var (
		job                   jobs.ImportJob
		source, status        string
		createdAt, updatedAt  string
		startedAt, finishedAt sql.NullString
	)
	if err := row.Scan(&job.ID, &job.OwnerID, &source, &status, &job.FileKey, &job.FileName,
		&job.TotalItems, &job.ProcessedItems, &job.ErrorMessage, &job.TaskID,
		&createdAt, &updatedAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	job.Source = jobs.Source(source)
	job.Status = jobs.JobStatus(status)

	var err error
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("updated_at: %w", err)
	}
	if job.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, fmt.Errorf("started_at: %w", err)
	}
	if job.FinishedAt, err = parseNullTime(finishedAt); err != nil {
		return nil, fmt.Errorf("finished_at: %w", err)
	}
	return &job, nil
}

var _ jobs.JobStore = (*Store)(nil)
