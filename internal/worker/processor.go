package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"image-cache-service/internal/config"
	"image-cache-service/internal/models"
	"image-cache-service/internal/queue"
	"image-cache-service/internal/store"
	"image-cache-service/internal/telemetry"
)

// Processor drives the render loop: lease a work message, render the cache
// entry, mark the image processed, ack.
//
// Failed renders are acked and dropped rather than retried in place: the
// image simply stays out of the job's processed set, and the next recovery
// pass republishes it. The recovery engine is the system's retry mechanism.
type Processor struct {
	cfg      config.Config
	queue    *queue.Queue
	store    *store.Store
	renderer *CacheRenderer
	logger   *slog.Logger
}

func NewProcessor(cfg config.Config, q *queue.Queue, st *store.Store, r *CacheRenderer, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{cfg: cfg, queue: q, store: st, renderer: r, logger: logger}
}

// Run consumes work messages until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if reclaimed, err := p.queue.RequeueExpired(ctx, time.Now(), int64(p.cfg.RequeueBatchSize)); err == nil && reclaimed > 0 {
			p.logger.Info("reclaimed expired leases", "count", reclaimed)
		}
		if depth, err := p.queue.Depth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}
		if inflight, err := p.queue.InFlight(ctx); err == nil {
			telemetry.InFlightGauge.Set(float64(inflight))
		}

		delivery, ok, err := p.queue.Dequeue(ctx)
		if err != nil || !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.WorkerPollInterval):
			}
			continue
		}

		p.handle(ctx, delivery)
	}
}

func (p *Processor) handle(ctx context.Context, d queue.Delivery) {
	msg := d.Message

	skipped, err := p.renderer.Render(ctx, msg)
	if err != nil {
		telemetry.RenderFailures.Inc()
		p.logger.Error("render failed",
			"job_id", msg.JobID, "image_id", msg.ImageID, "origin", msg.Origin, "error", err)
		_ = p.queue.Ack(ctx, d)
		return
	}
	if skipped {
		telemetry.RenderExisting.Inc()
	} else {
		telemetry.RenderSuccess.Inc()
	}

	// Marker insert is at-most-once per (job, image); a redelivered message
	// is absorbed here. Ack only after the marker is durable so a crash
	// between render and mark redelivers instead of losing progress.
	if _, err := p.store.AddProcessedImage(ctx, msg.JobID, msg.ImageID); err != nil {
		if !errors.Is(err, context.Canceled) {
			p.logger.Error("mark processed failed",
				"job_id", msg.JobID, "image_id", msg.ImageID, "error", err)
		}
		return
	}
	p.completeIfDone(ctx, msg.JobID)
	_ = p.queue.Ack(ctx, d)
}

// completeIfDone stamps the job completed once every target image has been
// dispositioned. A lost update here is repaired by the resume executor,
// which marks jobs with an empty remaining set completed.
func (p *Processor) completeIfDone(ctx context.Context, jobID string) {
	job, err := p.store.GetByJobID(ctx, jobID)
	if err != nil {
		if !errors.Is(err, models.ErrJobNotFound) {
			p.logger.Warn("completion check failed", "job_id", jobID, "error", err)
		}
		return
	}
	if job.Status == models.StatusCompleted {
		return
	}
	total := job.TotalImages
	if len(job.TargetImageIDs) > total {
		total = len(job.TargetImageIDs)
	}
	if len(job.ProcessedImageIDs)+len(job.SkippedImageIDs) < total {
		return
	}
	if err := p.store.UpdateStatus(ctx, jobID, models.StatusCompleted, "all images processed"); err != nil {
		p.logger.Warn("completion update failed", "job_id", jobID, "error", err)
		return
	}
	p.logger.Info("job completed", "job_id", jobID,
		"processed", len(job.ProcessedImageIDs), "skipped", len(job.SkippedImageIDs))
}
