package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"image-cache-service/internal/models"
)

// Store wraps pgxpool for cache-job persistence.
//
// Mutations that concurrent resumers and render workers race on (processed
// and skipped markers, status, the can_resume gate) are single-statement
// per-field updates; the database, not this process, is the source of mutual
// exclusion.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Pool exposes the underlying pool for packages that share the connection.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// CreateJob inserts a new cache job row together with its target-image
// snapshot. The processed and skipped marker sets start empty.
func (s *Store) CreateJob(ctx context.Context, job models.CacheJob) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	_, err = tx.Exec(ctx, `
		INSERT INTO cache_jobs
			(id, collection_id, status, status_reason, total_images, can_resume,
			 cache_width, cache_height, quality, format, cache_folder_path,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`, job.ID, job.CollectionID, job.Status.String(), job.StatusReason,
		job.TotalImages, job.CanResume, job.CacheWidth, job.CacheHeight,
		job.Quality, job.Format, job.CacheFolderPath, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert cache job: %w", err)
	}

	for _, imageID := range job.TargetImageIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO cache_job_images (job_id, image_id)
			VALUES ($1, $2)
			ON CONFLICT (job_id, image_id) DO NOTHING
		`, job.ID, imageID); err != nil {
			return fmt.Errorf("insert target image: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const jobColumns = `
	id, collection_id, status, status_reason, total_images, can_resume,
	cache_width, cache_height, quality, format, cache_folder_path,
	created_at, updated_at, completed_at`

func scanJob(row pgx.Row) (models.CacheJob, error) {
	var job models.CacheJob
	var status string
	var completed pgtype.Timestamptz
	err := row.Scan(&job.ID, &job.CollectionID, &status, &job.StatusReason,
		&job.TotalImages, &job.CanResume, &job.CacheWidth, &job.CacheHeight,
		&job.Quality, &job.Format, &job.CacheFolderPath,
		&job.CreatedAt, &job.UpdatedAt, &completed)
	if err != nil {
		return models.CacheJob{}, err
	}
	job.Status, err = models.ParseJobStatus(status)
	if err != nil {
		return models.CacheJob{}, fmt.Errorf("job %s: %w", job.ID, err)
	}
	if completed.Valid {
		t := completed.Time
		job.CompletedAt = &t
	}
	return job, nil
}

// GetByJobID fetches a job with its processed and skipped image sets.
func (s *Store) GetByJobID(ctx context.Context, id string) (models.CacheJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+jobColumns+` FROM cache_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CacheJob{}, models.ErrJobNotFound
	}
	if err != nil {
		return models.CacheJob{}, fmt.Errorf("scan cache job: %w", err)
	}
	if err := s.loadImageSets(ctx, &job); err != nil {
		return models.CacheJob{}, err
	}
	return job, nil
}

// GetIncompleteJobs returns every job whose status is not completed,
// resumable or not, with image sets loaded.
func (s *Store) GetIncompleteJobs(ctx context.Context) ([]models.CacheJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+jobColumns+` FROM cache_jobs
		WHERE status <> $1
		ORDER BY created_at
	`, models.StatusCompleted.String())
	if err != nil {
		return nil, fmt.Errorf("query incomplete jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.CacheJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cache job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incomplete jobs: %w", err)
	}
	for i := range jobs {
		if err := s.loadImageSets(ctx, &jobs[i]); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

// ResumableJobIDs returns the IDs of incomplete jobs still allowed to resume.
func (s *Store) ResumableJobIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM cache_jobs
		WHERE status <> $1 AND can_resume
		ORDER BY created_at
	`, models.StatusCompleted.String())
	if err != nil {
		return nil, fmt.Errorf("query resumable jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) loadImageSets(ctx context.Context, job *models.CacheJob) error {
	var err error
	job.TargetImageIDs, err = s.imageSet(ctx, "cache_job_images", job.ID)
	if err != nil {
		return err
	}
	job.ProcessedImageIDs, err = s.imageSet(ctx, "cache_job_processed", job.ID)
	if err != nil {
		return err
	}
	job.SkippedImageIDs, err = s.imageSet(ctx, "cache_job_skipped", job.ID)
	return err
}

func (s *Store) imageSet(ctx context.Context, table, jobID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT image_id FROM %s WHERE job_id = $1`, table), jobID)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateStatus sets status and reason in one statement. Completed jobs also
// get their completion timestamp stamped.
func (s *Store) UpdateStatus(ctx context.Context, id string, status models.JobStatus, reason string) error {
	var err error
	if status == models.StatusCompleted {
		_, err = s.pool.Exec(ctx, `
			UPDATE cache_jobs
			SET status = $2, status_reason = $3, completed_at = NOW(), updated_at = NOW()
			WHERE id = $1
		`, id, status.String(), reason)
	} else {
		_, err = s.pool.Exec(ctx, `
			UPDATE cache_jobs
			SET status = $2, status_reason = $3, updated_at = NOW()
			WHERE id = $1
		`, id, status.String(), reason)
	}
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// AddSkippedImage records an image as skipped. The primary key makes the
// insert exactly-once per (job, image); the return value reports whether
// this call was the one that inserted the row.
func (s *Store) AddSkippedImage(ctx context.Context, jobID, imageID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO cache_job_skipped (job_id, image_id)
		VALUES ($1, $2)
		ON CONFLICT (job_id, image_id) DO NOTHING
	`, jobID, imageID)
	if err != nil {
		return false, fmt.Errorf("insert skipped image: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AddProcessedImage records an image as processed, with the same
// exactly-once semantics as AddSkippedImage.
func (s *Store) AddProcessedImage(ctx context.Context, jobID, imageID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO cache_job_processed (job_id, image_id)
		VALUES ($1, $2)
		ON CONFLICT (job_id, image_id) DO NOTHING
	`, jobID, imageID)
	if err != nil {
		return false, fmt.Errorf("insert processed image: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DisableResume clears the can_resume gate and fails the job. The gate is
// one-way: no statement in this package ever sets can_resume back to true.
// Calling it on an already-disabled job only re-records the reason.
func (s *Store) DisableResume(ctx context.Context, id, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cache_jobs
		SET can_resume = FALSE, status = $2, status_reason = $3, updated_at = NOW()
		WHERE id = $1
	`, id, models.StatusFailed.String(), reason)
	if err != nil {
		return fmt.Errorf("disable resume: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrJobNotFound
	}
	return nil
}

// GetProgress returns the current processed and skipped counts for a job.
func (s *Store) GetProgress(ctx context.Context, jobID string) (processed, skipped int, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM cache_job_processed WHERE job_id = $1),
			(SELECT COUNT(*) FROM cache_job_skipped   WHERE job_id = $1)
	`, jobID).Scan(&processed, &skipped)
	if err != nil {
		return 0, 0, fmt.Errorf("query job progress: %w", err)
	}
	return processed, skipped, nil
}

// DeleteOldCompletedJobs removes completed jobs finished before the cutoff.
// Non-completed jobs are never touched regardless of age.
func (s *Store) DeleteOldCompletedJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM cache_jobs
		WHERE status = $1 AND completed_at IS NOT NULL AND completed_at < $2
	`, models.StatusCompleted.String(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old completed jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
