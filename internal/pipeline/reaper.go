package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/finance-import/internal/blob"
	"github.com/dvloznov/finance-import/internal/jobs"
	"github.com/dvloznov/finance-import/internal/logger"
)

// Reaper fails PROCESSING jobs whose last checkpoint is older than maxAge.
// A run that is still alive notices on its next checkpoint and stops.
type Reaper struct {
	jobs   jobs.JobStore
	blobs  blob.Store
	maxAge time.Duration
	now    func() time.Time
}

// NewReaper creates a Reaper.
func NewReaper(store jobs.JobStore, blobs blob.Store, maxAge time.Duration) *Reaper {
	return &Reaper{jobs: store, blobs: blobs, maxAge: maxAge, now: time.Now}
}

// ReapOnce fails every stale job and returns how many were reaped.
func (r *Reaper) ReapOnce(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.maxAge)
	stale, err := r.jobs.ListJobs(ctx, jobs.JobFilter{
		Status:        jobs.JobStatusProcessing,
		UpdatedBefore: cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("ReapOnce: listing stale jobs: %w", err)
	}

	log := logger.FromContext(ctx)
	reaped := 0
	for _, job := range stale {
		reason := fmt.Sprintf("import timed out: no progress since %s", job.UpdatedAt.UTC().Format(time.RFC3339))
		expired, err := r.jobs.ExpireJob(ctx, job.OwnerID, job.ID, cutoff, reason)
		if err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Msg("Could not reap import")
			continue
		}
		if !expired {
			// Checkpointed or finished between the listing and this write.
			continue
		}
		if err := r.blobs.Delete(ctx, job.FileKey); err != nil {
			log.Warn().Err(err).Str("file", job.FileKey).Msg("Could not delete import file")
		}
		log.Warn().
			Str("job_id", job.ID).
			Str("owner_id", job.OwnerID).
			Int("total_items", job.TotalItems).
			Int("processed_items", job.ProcessedItems).
			Msg("Reaped stale import")
		reaped++
	}
	return reaped, nil
}

// Run calls ReapOnce every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ReapOnce(ctx); err != nil {
				log := logger.FromContext(ctx)
				log.Error().Err(err).Msg("Stale import sweep failed")
			}
		}
	}
}
