// Package domain contains the core domain models for the event pipeline.
package domain

import "errors"

// ErrNotFound is returned when an entity is not found in the database.
var ErrNotFound = errors.New("entity not found")

// SourceTier classifies how a source publishes events.
type SourceTier string

const (
	TierAggregator SourceTier = "aggregator"
	TierVenue      SourceTier = "venue"
	TierGeneral    SourceTier = "general"
)

// FetchStrategy selects how a source's pages are fetched.
type FetchStrategy string

const (
	FetchStatic   FetchStrategy = "static"
	FetchHeadless FetchStrategy = "headless"
	FetchProxy    FetchStrategy = "proxy"
)

// ParsingMethod records which extractor produced a staged event.
type ParsingMethod string

const (
	MethodHydration         ParsingMethod = "hydration"
	MethodJSONLD            ParsingMethod = "json_ld"
	MethodMicrodata         ParsingMethod = "microdata"
	MethodFeed              ParsingMethod = "feed"
	MethodDOM               ParsingMethod = "dom"
	MethodDeterministic     ParsingMethod = "deterministic"
	MethodDeterministicDetl ParsingMethod = "deterministic_detail"
	MethodAI                ParsingMethod = "ai"
	MethodHybridAI          ParsingMethod = "hybrid_ai"
	MethodAIFallback        ParsingMethod = "ai_fallback"
	MethodUnknown           ParsingMethod = "unknown"
)

// FailureStage identifies where in the pipeline a job failed.
type FailureStage string

const (
	StageFetch     FailureStage = "fetch"
	StageParse     FailureStage = "parse"
	StageNormalize FailureStage = "normalize"
	StageDedup     FailureStage = "dedup"
	StageInsert    FailureStage = "insert"
	StageEnrich    FailureStage = "enrich"
)

// ErrorKind is the coarse error taxonomy used for retry decisions.
type ErrorKind string

const (
	ErrorTransient     ErrorKind = "transient"
	ErrorBlockedFetch  ErrorKind = "blocked_fetch"
	ErrorSourceDrift   ErrorKind = "source_drift"
	ErrorRepairFailure ErrorKind = "repair_failure"
	ErrorSystemic      ErrorKind = "systemic"
)

// EventType distinguishes canonical scraped events from user-derived ones.
type EventType string

const (
	EventAnchor EventType = "anchor"
	EventSignal EventType = "signal"
	EventFork   EventType = "fork"
)
