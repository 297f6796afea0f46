package domain

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Scrape job statuses. Transitions: pending -> running -> completed|failed.
// A failed job may be reset to pending with ProxyRetry=true exactly once.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// DefaultMaxAttempts is the default number of attempts a job is allowed.
const DefaultMaxAttempts = 3

// ScrapeJob is a scheduled unit of work to scrape one source once.
type ScrapeJob struct {
	ID             string     `db:"id" json:"id"`
	SourceID       string     `db:"source_id" json:"source_id"`
	Status         string     `db:"status" json:"status"`
	Attempts       int        `db:"attempts" json:"attempts"`
	MaxAttempts    int        `db:"max_attempts" json:"max_attempts"`
	Payload        JobPayload `db:"payload" json:"payload"`
	Priority       int        `db:"priority" json:"priority"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	EventsScraped  int        `db:"events_scraped" json:"events_scraped"`
	EventsInserted int        `db:"events_inserted" json:"events_inserted"`
	ErrorMessage   *string    `db:"error_message" json:"error_message,omitempty"`
}

// JobPayload is the JSONB payload carried by a scrape job.
type JobPayload struct {
	SourceID    string    `json:"sourceId"`
	ScheduledAt time.Time `json:"scheduledAt"`
	ProxyRetry  bool      `json:"proxyRetry"`
}

// Scan implements the sql.Scanner interface.
func (p *JobPayload) Scan(value any) error {
	var m JSONBMap
	if err := m.Scan(value); err != nil {
		return err
	}
	if v, ok := m["sourceId"].(string); ok {
		p.SourceID = v
	}
	if v, ok := m["proxyRetry"].(bool); ok {
		p.ProxyRetry = v
	}
	if v, ok := m["scheduledAt"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			p.ScheduledAt = t
		}
	}
	return nil
}

// Value implements the driver.Valuer interface.
func (p JobPayload) Value() (driver.Value, error) {
	m := JSONBMap{
		"sourceId":    p.SourceID,
		"scheduledAt": p.ScheduledAt.Format(time.RFC3339),
		"proxyRetry":  p.ProxyRetry,
	}
	return m.Value()
}

// ValidTransition reports whether a job status transition is allowed by the
// job state machine.
func ValidTransition(from, to string) bool {
	switch from {
	case JobPending:
		return to == JobRunning
	case JobRunning:
		return to == JobCompleted || to == JobFailed
	case JobFailed:
		// proxy retry resets a failed job to pending
		return to == JobPending
	default:
		return false
	}
}

// String returns a debug representation.
func (j *ScrapeJob) String() string {
	return fmt.Sprintf("ScrapeJob[%s] source=%s status=%s attempts=%d/%d",
		j.ID, j.SourceID, j.Status, j.Attempts, j.MaxAttempts)
}
