package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"image-cache-service/internal/telemetry"
)

const defaultCleanupAfterDays = 30

// Coordinator is the bulk entry point for recovery: the startup scan over
// incomplete jobs, resumable-job queries, the operator-facing resume kill
// switch, and retention cleanup of old completed jobs.
type Coordinator struct {
	store         JobStore
	executor      *Executor
	logger        *slog.Logger
	resumeTimeout time.Duration
}

// NewCoordinator builds a coordinator. resumeTimeout bounds each per-job
// resume so one hung job cannot stall the whole scan; zero disables the
// bound.
func NewCoordinator(store JobStore, executor *Executor, logger *slog.Logger, resumeTimeout time.Duration) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:         store,
		executor:      executor,
		logger:        logger,
		resumeTimeout: resumeTimeout,
	}
}

// Result aggregates a bulk recovery pass.
type Result struct {
	Recovered int `json:"recovered"`
	Failed    int `json:"failed"`
}

// RecoverIncompleteJobs scans every job whose status is not completed and
// attempts to resume each one. Per-job failures are contained: counted,
// logged, never allowed to abort the scan. The returned error is non-nil
// only when the scan itself could not run (store unavailable); callers
// should retry on the next startup rather than loop here.
func (c *Coordinator) RecoverIncompleteJobs(ctx context.Context) (Result, error) {
	jobs, err := c.store.GetIncompleteJobs(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("scan incomplete jobs: %w", err)
	}
	if len(jobs) == 0 {
		c.logger.Info("no incomplete jobs to recover")
		return Result{}, nil
	}

	var res Result
	for _, job := range jobs {
		ok, err := c.resumeOne(ctx, job.ID)
		if err != nil {
			c.logger.Warn("job resume failed", "job_id", job.ID, "error", err)
		}
		if ok {
			res.Recovered++
			telemetry.JobsRecovered.Inc()
		} else {
			res.Failed++
			telemetry.JobsRecoveryFails.Inc()
		}
	}

	c.logger.Info("recovery pass finished",
		"scanned", len(jobs), "recovered", res.Recovered, "failed", res.Failed)
	return res, nil
}

func (c *Coordinator) resumeOne(ctx context.Context, jobID string) (bool, error) {
	if c.resumeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.resumeTimeout)
		defer cancel()
	}
	return c.executor.Resume(ctx, jobID)
}

// GetResumableJobIDs returns the incomplete jobs still allowed to resume.
// Read-only; no side effects.
func (c *Coordinator) GetResumableJobIDs(ctx context.Context) ([]string, error) {
	ids, err := c.store.ResumableJobIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("query resumable jobs: %w", err)
	}
	return ids, nil
}

// DisableResumption closes the one-way resume gate for a job and marks it
// failed with the given reason. Disabling an already-disabled job only
// re-records the reason. Returns models.ErrJobNotFound for unknown jobs.
func (c *Coordinator) DisableResumption(ctx context.Context, jobID, reason string) error {
	if err := c.store.DisableResume(ctx, jobID, reason); err != nil {
		return err
	}
	c.logger.Info("job resumption disabled", "job_id", jobID, "reason", reason)
	return nil
}

// CleanupOldCompletedJobs deletes completed jobs older than the threshold
// (defaulted to 30 days when olderThanDays is not positive) and returns how
// many were removed. Incomplete jobs are never touched regardless of age.
func (c *Coordinator) CleanupOldCompletedJobs(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		olderThanDays = defaultCleanupAfterDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	deleted, err := c.store.DeleteOldCompletedJobs(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old completed jobs: %w", err)
	}
	if deleted > 0 {
		telemetry.JobsCleaned.Add(float64(deleted))
		c.logger.Info("cleaned up old completed jobs", "deleted", deleted, "older_than_days", olderThanDays)
	}
	return deleted, nil
}
