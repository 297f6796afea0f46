package domain

import "time"

// RepairLog records an AI selector-healing attempt against a source.
type RepairLog struct {
	ID               string     `db:"id" json:"id"`
	SourceID         string     `db:"source_id" json:"source_id"`
	TriggerReason    string     `db:"trigger_reason" json:"trigger_reason"`
	RawHTMLSample    string     `db:"raw_html_sample" json:"raw_html_sample"`
	AIDiagnosis      string     `db:"ai_diagnosis" json:"ai_diagnosis"`
	OldConfig        JSONBMap   `db:"old_config" json:"old_config"`
	NewConfig        JSONBMap   `db:"new_config" json:"new_config"`
	ValidationPassed bool       `db:"validation_passed" json:"validation_passed"`
	Applied          bool       `db:"applied" json:"applied"`
	AppliedAt        *time.Time `db:"applied_at" json:"applied_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// RepairLogSampleLimit caps how much raw HTML is stored per repair attempt.
const RepairLogSampleLimit = 4000
