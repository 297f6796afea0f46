package domain

import "time"

// Raw event staging statuses.
const (
	StagingPending            = "pending"
	StagingAwaitingEnrichment = "awaiting_enrichment"
	StagingCompleted          = "completed"
	StagingFailed             = "failed"
)

// RawEventStaging holds a raw extracted event between parsing and
// normalization/enrichment.
type RawEventStaging struct {
	ID               string        `db:"id" json:"id"`
	SourceID         string        `db:"source_id" json:"source_id"`
	Status           string        `db:"status" json:"status"`
	SourceURL        string        `db:"source_url" json:"source_url"`
	DetailURL        *string       `db:"detail_url" json:"detail_url,omitempty"`
	RawHTML          string        `db:"raw_html" json:"raw_html"`
	DetailHTML       *string       `db:"detail_html" json:"detail_html,omitempty"`
	ParsingMethod    ParsingMethod `db:"parsing_method" json:"parsing_method"`
	Title            *string       `db:"title" json:"title,omitempty"`
	EventDate        *string       `db:"event_date" json:"event_date,omitempty"`
	EventTime        *string       `db:"event_time" json:"event_time,omitempty"`
	Location         *string       `db:"location" json:"location,omitempty"`
	Description      *string       `db:"description" json:"description,omitempty"`
	ImageURL         *string       `db:"image_url" json:"image_url,omitempty"`
	QualityScore     float64       `db:"quality_score" json:"quality_score"`
	DataCompleteness float64       `db:"data_completeness" json:"data_completeness"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
}
