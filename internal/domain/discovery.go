package domain

import "time"

// Discovery job statuses.
const (
	DiscoveryPending    = "pending"
	DiscoveryProcessing = "processing"
	DiscoveryCompleted  = "completed"
	DiscoveryFailed     = "failed"
)

// DiscoveryJob asks the pipeline to find agenda sources for a municipality.
type DiscoveryJob struct {
	ID           string     `db:"id" json:"id"`
	Municipality string     `db:"municipality" json:"municipality"`
	Lat          *float64   `db:"lat" json:"lat,omitempty"`
	Lng          *float64   `db:"lng" json:"lng,omitempty"`
	BatchID      *string    `db:"batch_id" json:"batch_id,omitempty"`
	Status       string     `db:"status" json:"status"`
	Priority     int        `db:"priority" json:"priority"`
	Attempts     int        `db:"attempts" json:"attempts"`
	SourcesFound int        `db:"sources_found" json:"sources_found"`
	SourcesAdded int        `db:"sources_added" json:"sources_added"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}
