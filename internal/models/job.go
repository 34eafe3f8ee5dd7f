package models

import (
	"fmt"
	"time"
)

// JobStatus is the closed set of lifecycle states persisted in Postgres.
type JobStatus int

const (
	StatusPending JobStatus = iota
	StatusRunning
	StatusCompleted
	StatusFailed
)

const (
	statusPendingText   = "pending"
	statusRunningText   = "running"
	statusCompletedText = "completed"
	statusFailedText    = "failed"
)

// String returns the wire/database representation of the status.
func (s JobStatus) String() string {
	switch s {
	case StatusPending:
		return statusPendingText
	case StatusRunning:
		return statusRunningText
	case StatusCompleted:
		return statusCompletedText
	case StatusFailed:
		return statusFailedText
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// ParseJobStatus maps a stored string back to a JobStatus. Unknown values are
// an error, not a default: free-text status comparison is what this
// enumeration exists to prevent.
func ParseJobStatus(v string) (JobStatus, error) {
	switch v {
	case statusPendingText:
		return StatusPending, nil
	case statusRunningText:
		return StatusRunning, nil
	case statusCompletedText:
		return StatusCompleted, nil
	case statusFailedText:
		return StatusFailed, nil
	}
	return 0, fmt.Errorf("unknown job status %q", v)
}

// MarshalText implements encoding.TextMarshaler for JSON responses.
func (s JobStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *JobStatus) UnmarshalText(b []byte) error {
	parsed, err := ParseJobStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// CacheJob is one bulk cache-generation job persisted in Postgres.
//
// ProcessedImageIDs and SkippedImageIDs are disjoint sets maintained by the
// store through atomic per-row inserts; the render worker adds processed
// markers, the resume executor adds skipped markers. TotalImages is a
// count snapshot taken at submission and is for reporting only.
// TargetImageIDs is the immutable membership snapshot from submission; it is
// never treated as a pending list - remaining work is recomputed on every
// resume from the union of this snapshot and live collection membership, so
// images removed after submission can still be accounted for as skipped.
type CacheJob struct {
	ID                string     `json:"id"`
	CollectionID      string     `json:"collection_id"`
	Status            JobStatus  `json:"status"`
	StatusReason      string     `json:"status_reason,omitempty"`
	TotalImages       int        `json:"total_images"`
	TargetImageIDs    []string   `json:"target_image_ids"`
	ProcessedImageIDs []string   `json:"processed_image_ids"`
	SkippedImageIDs   []string   `json:"skipped_image_ids"`
	CanResume         bool       `json:"can_resume"`
	CacheWidth        int        `json:"cache_width"`
	CacheHeight       int        `json:"cache_height"`
	Quality           int        `json:"quality"`
	Format            string     `json:"format"`
	CacheFolderPath   string     `json:"cache_folder_path"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// ProcessedSet returns the processed IDs as a set for membership tests.
func (j CacheJob) ProcessedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(j.ProcessedImageIDs))
	for _, id := range j.ProcessedImageIDs {
		set[id] = struct{}{}
	}
	return set
}
