package recovery

import (
	"context"
	"sort"
	"time"

	"image-cache-service/internal/models"
)

// fakeStore is an in-memory JobStore that counts every mutation so tests can
// assert "no writes" paths.
type fakeStore struct {
	jobs map[string]*models.CacheJob

	writes        int
	statusUpdates []string // "jobID:status:reason"
	disabled      []string

	getErr     error
	updateErr  error
	skipErr    error
	disableErr error

	deleteCutoff time.Time
	deleteCount  int64
	deleteErr    error
}

func newFakeStore(jobs ...models.CacheJob) *fakeStore {
	fs := &fakeStore{jobs: make(map[string]*models.CacheJob)}
	for i := range jobs {
		j := jobs[i]
		fs.jobs[j.ID] = &j
	}
	return fs
}

func (f *fakeStore) GetIncompleteJobs(_ context.Context) ([]models.CacheJob, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	ids := make([]string, 0, len(f.jobs))
	for id := range f.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []models.CacheJob
	for _, id := range ids {
		if f.jobs[id].Status != models.StatusCompleted {
			out = append(out, *f.jobs[id])
		}
	}
	return out, nil
}

func (f *fakeStore) GetByJobID(_ context.Context, id string) (models.CacheJob, error) {
	if f.getErr != nil {
		return models.CacheJob{}, f.getErr
	}
	job, ok := f.jobs[id]
	if !ok {
		return models.CacheJob{}, models.ErrJobNotFound
	}
	return *job, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, id string, status models.JobStatus, reason string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.writes++
	f.statusUpdates = append(f.statusUpdates, id+":"+status.String()+":"+reason)
	if job, ok := f.jobs[id]; ok {
		job.Status = status
		job.StatusReason = reason
	}
	return nil
}

func (f *fakeStore) AddSkippedImage(_ context.Context, jobID, imageID string) (bool, error) {
	if f.skipErr != nil {
		return false, f.skipErr
	}
	f.writes++
	job, ok := f.jobs[jobID]
	if !ok {
		return false, models.ErrJobNotFound
	}
	for _, id := range job.SkippedImageIDs {
		if id == imageID {
			return false, nil
		}
	}
	job.SkippedImageIDs = append(job.SkippedImageIDs, imageID)
	return true, nil
}

func (f *fakeStore) DisableResume(_ context.Context, id, reason string) error {
	if f.disableErr != nil {
		return f.disableErr
	}
	f.writes++
	f.disabled = append(f.disabled, id+":"+reason)
	job, ok := f.jobs[id]
	if !ok {
		return models.ErrJobNotFound
	}
	job.CanResume = false
	job.Status = models.StatusFailed
	job.StatusReason = reason
	return nil
}

func (f *fakeStore) ResumableJobIDs(_ context.Context) ([]string, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	var ids []string
	for id, job := range f.jobs {
		if job.Status != models.StatusCompleted && job.CanResume {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeStore) DeleteOldCompletedJobs(_ context.Context, cutoff time.Time) (int64, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	f.deleteCutoff = cutoff
	return f.deleteCount, nil
}

// fakeCollections serves collections from a map, with optional error
// injection to simulate an unavailable source. Lookups are counted so tests
// can assert the collection source was never contacted.
type fakeCollections struct {
	collections map[string]models.Collection
	err         error
	lookups     int
}

func (f *fakeCollections) GetByID(_ context.Context, id string) (models.Collection, error) {
	f.lookups++
	if f.err != nil {
		return models.Collection{}, f.err
	}
	col, ok := f.collections[id]
	if !ok {
		return models.Collection{}, models.ErrCollectionNotFound
	}
	return col, nil
}

// fakePublisher records published messages. When block is set it waits for
// context cancellation instead, to exercise per-job timeouts.
type fakePublisher struct {
	messages []models.WorkMessage
	err      error
	block    bool
}

func (f *fakePublisher) Publish(ctx context.Context, msg models.WorkMessage) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakePublisher) imageIDs() []string {
	ids := make([]string, 0, len(f.messages))
	for _, m := range f.messages {
		ids = append(ids, m.ImageID)
	}
	return ids
}

func collectionOf(id string, imageIDs ...string) models.Collection {
	col := models.Collection{ID: id, Name: "col-" + id}
	for i, imgID := range imageIDs {
		col.Images = append(col.Images, models.CollectionImage{
			ID:       imgID,
			FilePath: "/library/" + id + "/" + imgID + ".jpg",
			Position: i,
		})
	}
	return col
}

func resumableJob(id, collectionID string, targets []string, processed []string) models.CacheJob {
	return models.CacheJob{
		ID:                id,
		CollectionID:      collectionID,
		Status:            models.StatusRunning,
		TotalImages:       len(targets),
		TargetImageIDs:    targets,
		ProcessedImageIDs: processed,
		CanResume:         true,
		CacheWidth:        800,
		CacheHeight:       600,
		Quality:           85,
		Format:            "jpeg",
		CacheFolderPath:   "/cache",
	}
}
