package models

// Message origins, recorded for diagnostics so operators can tell recovery
// traffic from first-submission traffic in queue dumps.
const (
	OriginSubmission = "submission"
	OriginRecovery   = "recovery"
)

// WorkMessage is the self-contained unit of work transported over the queue.
// It carries everything the render worker needs so the worker never has to
// re-derive cache parameters from the job record.
type WorkMessage struct {
	JobID           string `json:"job_id"`
	ImageID         string `json:"image_id"`
	CollectionID    string `json:"collection_id"`
	SourcePath      string `json:"source_path"`
	DestinationPath string `json:"destination_path"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	Quality         int    `json:"quality"`
	Format          string `json:"format"`
	ForceRegenerate bool   `json:"force_regenerate"`
	Origin          string `json:"origin"`
}
