// Package recovery resumes interrupted bulk cache-generation jobs. It
// reconciles three independently-moving records - the job's persisted
// progress, the collection's current membership, and the work queue - and
// re-enqueues exactly the work that remains, idempotently under repeated
// restarts and concurrent completions.
package recovery

import (
	"context"
	"time"

	"image-cache-service/internal/models"
)

// JobStore is the slice of the job state store the recovery engine needs.
// All exclusivity guarantees (at-most-once marker inserts, the one-way
// can_resume gate) live behind this interface; the engine holds no locks of
// its own.
type JobStore interface {
	GetIncompleteJobs(ctx context.Context) ([]models.CacheJob, error)
	GetByJobID(ctx context.Context, id string) (models.CacheJob, error)
	UpdateStatus(ctx context.Context, id string, status models.JobStatus, reason string) error
	AddSkippedImage(ctx context.Context, jobID, imageID string) (bool, error)
	DisableResume(ctx context.Context, id, reason string) error
	ResumableJobIDs(ctx context.Context) ([]string, error)
	DeleteOldCompletedJobs(ctx context.Context, cutoff time.Time) (int64, error)
}

// CollectionSource provides authoritative collection membership. A missing
// collection must surface as models.ErrCollectionNotFound; transport
// failures must not, so the engine can tell true absence from an outage.
type CollectionSource interface {
	GetByID(ctx context.Context, id string) (models.Collection, error)
}

// Publisher delivers work messages to the render workers, at-least-once.
type Publisher interface {
	Publish(ctx context.Context, msg models.WorkMessage) error
}
