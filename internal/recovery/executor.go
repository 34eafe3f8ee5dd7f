package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"image-cache-service/internal/cachepath"
	"image-cache-service/internal/models"
	"image-cache-service/internal/telemetry"
)

// Executor resumes a single job: it decides what work remains and publishes
// a work message for each outstanding image.
type Executor struct {
	store       JobStore
	collections CollectionSource
	publisher   Publisher
	logger      *slog.Logger
}

// NewExecutor wires the executor's collaborators. A nil logger falls back to
// slog.Default.
func NewExecutor(store JobStore, collections CollectionSource, publisher Publisher, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:       store,
		collections: collections,
		publisher:   publisher,
		logger:      logger,
	}
}

// Resume attempts to resume one job. It returns true when the job was
// resumed or is already complete, false when resume did not occur.
//
// Expected terminal conditions (job missing, resume disabled, collection
// gone) return (false, nil): they are outcomes, not failures of this call.
// A non-nil error always means a collaborator I/O failure; the job remains
// resumable and a later pass will retry.
//
// Remaining work is recomputed on every call from the union of the job's
// submission snapshot and the collection's current membership, minus every
// image already processed or skipped. Two overlapping resumes therefore converge:
// the second pass sees a remaining set shrunk by whatever the first pass's
// workers have completed, and the store's at-most-once marker inserts absorb
// the rest.
func (e *Executor) Resume(ctx context.Context, jobID string) (bool, error) {
	job, err := e.store.GetByJobID(ctx, jobID)
	if errors.Is(err, models.ErrJobNotFound) {
		e.logger.Warn("resume requested for unknown job", "job_id", jobID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load job %s: %w", jobID, err)
	}

	if !job.CanResume {
		// Permanent and expected; the one-way gate was closed earlier.
		e.logger.Debug("resume disabled for job", "job_id", job.ID, "reason", job.StatusReason)
		return false, nil
	}

	if job.Status == models.StatusCompleted {
		return true, nil
	}

	col, err := e.collections.GetByID(ctx, job.CollectionID)
	if errors.Is(err, models.ErrCollectionNotFound) {
		// The only path that permanently revokes resumability. Best-effort:
		// a failed disable write leaves the job resumable for one more
		// cycle, which beats aborting the recovery pass.
		if derr := e.store.DisableResume(ctx, job.ID, "collection not found"); derr != nil {
			e.logger.Error("failed to disable resume", "job_id", job.ID, "error", derr)
		}
		e.logger.Warn("collection gone, job resumability revoked",
			"job_id", job.ID, "collection_id", job.CollectionID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load collection %s: %w", job.CollectionID, err)
	}

	current := make(map[string]models.CollectionImage, len(col.Images))
	for _, img := range col.Images {
		current[img.ID] = img
	}

	remaining := remainingImageIDs(job, col)
	if len(remaining) == 0 {
		// Processing finished but the final status write was lost.
		if err := e.store.UpdateStatus(ctx, job.ID, models.StatusCompleted, "all images processed"); err != nil {
			return false, fmt.Errorf("mark job %s completed: %w", job.ID, err)
		}
		e.logger.Info("job had no remaining work, marked completed", "job_id", job.ID)
		return true, nil
	}

	if err := e.store.UpdateStatus(ctx, job.ID, models.StatusRunning, "resumed after interruption"); err != nil {
		return false, fmt.Errorf("mark job %s running: %w", job.ID, err)
	}

	published := 0
	skipped := 0
	for _, imageID := range remaining {
		img, ok := current[imageID]
		if !ok {
			// Image left the collection since submission. Record and move
			// on; a partial skip never fails the batch.
			inserted, err := e.store.AddSkippedImage(ctx, job.ID, imageID)
			if err != nil {
				return false, fmt.Errorf("record skipped image %s: %w", imageID, err)
			}
			if inserted {
				telemetry.ImagesSkipped.Inc()
			}
			skipped++
			continue
		}

		dest := cachepath.Resolve(job.CacheFolderPath, job.CollectionID, imageID,
			job.CacheWidth, job.CacheHeight, job.Format)
		msg := models.WorkMessage{
			JobID:           job.ID,
			ImageID:         imageID,
			CollectionID:    job.CollectionID,
			SourcePath:      img.FilePath,
			DestinationPath: dest,
			Width:           job.CacheWidth,
			Height:          job.CacheHeight,
			Quality:         job.Quality,
			Format:          job.Format,
			// Never clobber output a prior uncrashed attempt already wrote;
			// forced regeneration is an explicit operator action at
			// submission, not part of resume.
			ForceRegenerate: false,
			Origin:          models.OriginRecovery,
		}
		if err := e.publisher.Publish(ctx, msg); err != nil {
			return false, fmt.Errorf("publish work for image %s: %w", imageID, err)
		}
		telemetry.MessagesPublished.Inc()
		published++
	}

	if published == 0 {
		// Everything remaining was skip-recorded; nothing is outstanding.
		if err := e.store.UpdateStatus(ctx, job.ID, models.StatusCompleted, "remaining images no longer in collection"); err != nil {
			return false, fmt.Errorf("mark job %s completed: %w", job.ID, err)
		}
	}

	e.logger.Info("job resumed",
		"job_id", job.ID,
		"collection_id", job.CollectionID,
		"published", published,
		"skipped", skipped)
	return true, nil
}

// remainingImageIDs computes the outstanding image IDs for a job: the union
// of the submission snapshot and the collection's current members, minus
// every image already dispositioned as processed or skipped. Skip is a
// terminal disposition; keeping skipped IDs out of the remaining set is what
// keeps the processed and skipped sets disjoint. Order follows the current
// collection, with snapshot-only (since removed) IDs appended.
func remainingImageIDs(job models.CacheJob, col models.Collection) []string {
	done := job.ProcessedSet()
	for _, id := range job.SkippedImageIDs {
		done[id] = struct{}{}
	}
	seen := make(map[string]struct{}, len(col.Images)+len(job.TargetImageIDs))
	var remaining []string

	appendID := func(id string) {
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		if _, d := done[id]; d {
			return
		}
		remaining = append(remaining, id)
	}

	for _, img := range col.Images {
		appendID(img.ID)
	}
	for _, id := range job.TargetImageIDs {
		appendID(id)
	}
	return remaining
}
