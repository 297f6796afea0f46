package domain

import (
	"fmt"
	"time"
)

// Dead letter item statuses. Resolved and discarded are terminal.
const (
	DLQPending   = "pending"
	DLQRetrying  = "retrying"
	DLQResolved  = "resolved"
	DLQDiscarded = "discarded"
)

const (
	// DLQMaxRetries caps retry attempts per dead letter item.
	DLQMaxRetries = 3
	// DLQBaseRetryDelay is the base of the exponential retry schedule.
	DLQBaseRetryDelay = time.Hour
	// DLQAlertThreshold is the pending+retrying depth that raises an alert.
	DLQAlertThreshold = 50
)

// DeadLetterItem represents a failed pipeline stage awaiting retry.
type DeadLetterItem struct {
	ID              string       `db:"id" json:"id"`
	OriginalJobID   *string      `db:"original_job_id" json:"original_job_id,omitempty"`
	SourceID        string       `db:"source_id" json:"source_id"`
	Stage           FailureStage `db:"stage" json:"stage"`
	ErrorType       ErrorKind    `db:"error_type" json:"error_type"`
	ErrorMessage    string       `db:"error_message" json:"error_message"`
	ErrorStack      *string      `db:"error_stack" json:"error_stack,omitempty"`
	Payload         JSONBMap     `db:"payload" json:"payload"`
	RetryCount      int          `db:"retry_count" json:"retry_count"`
	MaxRetries      int          `db:"max_retries" json:"max_retries"`
	NextRetryAt     time.Time    `db:"next_retry_at" json:"next_retry_at"`
	Status          string       `db:"status" json:"status"`
	ResolvedAt      *time.Time   `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolutionNotes *string      `db:"resolution_notes" json:"resolution_notes,omitempty"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
}

// NewDeadLetterItem creates a DLQ item with the initial retry schedule.
func NewDeadLetterItem(sourceID string, stage FailureStage, kind ErrorKind, errMsg string) *DeadLetterItem {
	now := time.Now()
	return &DeadLetterItem{
		SourceID:     sourceID,
		Stage:        stage,
		ErrorType:    kind,
		ErrorMessage: errMsg,
		RetryCount:   0,
		MaxRetries:   DLQMaxRetries,
		NextRetryAt:  now.Add(DLQBaseRetryDelay),
		Status:       DLQPending,
		CreatedAt:    now,
	}
}

// NextRetryDelay is the exponential backoff for the current retry count:
// base * 2^retry_count.
func (d *DeadLetterItem) NextRetryDelay() time.Duration {
	return DLQBaseRetryDelay * time.Duration(1<<d.RetryCount)
}

// Exhausted reports whether all retries have been used.
func (d *DeadLetterItem) Exhausted() bool {
	return d.RetryCount >= d.MaxRetries
}

// Terminal reports whether the item is in a terminal status.
func (d *DeadLetterItem) Terminal() bool {
	return d.Status == DLQResolved || d.Status == DLQDiscarded
}

// String returns a debug representation.
func (d *DeadLetterItem) String() string {
	return fmt.Sprintf("DLQ[%s] source=%s stage=%s retries=%d/%d status=%s",
		d.ID, d.SourceID, d.Stage, d.RetryCount, d.MaxRetries, d.Status)
}
