// Package healer repairs sources that stopped producing events: it
// fetches their current HTML, asks the LLM for fresh selectors, and
// applies or rejects the suggestion by confidence.
package healer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stadspuls/eventpipe/internal/ai"
	"github.com/stadspuls/eventpipe/internal/domain"
	"github.com/stadspuls/eventpipe/internal/fetch"
	"github.com/stadspuls/eventpipe/internal/logger"
	"github.com/stadspuls/eventpipe/internal/metrics"
)

// Mode selects what a healer run is allowed to change.
type Mode string

const (
	// ModeDiagnose only records the LLM's diagnosis.
	ModeDiagnose Mode = "diagnose"
	// ModeRepair applies suggested selectors and clears quarantine when
	// the suggestion is confident enough.
	ModeRepair Mode = "repair"
	// ModeUnquarantine re-enables sources the LLM still recognizes as
	// agenda pages, without touching their config.
	ModeUnquarantine Mode = "unquarantine"
)

// Confidence floors per mode.
const (
	RepairConfidence       = 0.6
	UnquarantineConfidence = 0.5
)

// DefaultLimit bounds how many sources one run examines.
const DefaultLimit = 10

// minFailures is the consecutive-failure count that makes a
// non-quarantined source a healing candidate.
const minFailures = 3

// SourceStore is the slice of the source repository the healer needs.
type SourceStore interface {
	GetByID(ctx context.Context, id string) (*domain.Source, error)
	ListForHealing(ctx context.Context, minFailures, limit int) ([]*domain.Source, error)
	UpdateConfig(ctx context.Context, id string, cfg domain.ExtractionConfig) error
	SetQuarantined(ctx context.Context, id string, quarantined bool) error
}

// Fetcher retrieves the source's current listing page.
type Fetcher interface {
	Fetch(ctx context.Context, source *domain.Source, url string, forceProxy bool) (*fetch.Result, error)
}

// Diagnoser asks the LLM for repaired selectors.
type Diagnoser interface {
	SuggestSelectors(ctx context.Context, htmlSample string, currentSelectors []string) (*ai.RepairSuggestion, error)
}

// RepairLogStore records every attempt, applied or not.
type RepairLogStore interface {
	Insert(ctx context.Context, log *domain.RepairLog) error
}

// TickMutex serializes healer runs across replicas.
type TickMutex interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Healer diagnoses and repairs drifted sources.
type Healer struct {
	sources   SourceStore
	fetcher   Fetcher
	diagnoser Diagnoser
	repairs   RepairLogStore
	mutex     TickMutex
	metrics   *metrics.Metrics
	logger    logger.Interface
}

// New creates a healer.
func New(sources SourceStore, fetcher Fetcher, diagnoser Diagnoser, repairs RepairLogStore,
	mutex TickMutex, m *metrics.Metrics, log logger.Interface) *Healer {
	return &Healer{
		sources:   sources,
		fetcher:   fetcher,
		diagnoser: diagnoser,
		repairs:   repairs,
		mutex:     mutex,
		metrics:   m,
		logger:    log,
	}
}

// Options selects the mode and scope of one healer run.
type Options struct {
	Mode     Mode
	SourceID string // limit the run to one source
	Limit    int
}

// ItemResult is the outcome for one examined source.
type ItemResult struct {
	SourceID      string   `json:"source_id"`
	SourceName    string   `json:"source_name"`
	Confidence    float64  `json:"confidence"`
	Diagnosis     string   `json:"diagnosis,omitempty"`
	Selectors     []string `json:"selectors,omitempty"`
	Applied       bool     `json:"applied"`
	Unquarantined bool     `json:"unquarantined"`
	Error         string   `json:"error,omitempty"`
}

// Report summarizes one healer run.
type Report struct {
	Mode          Mode         `json:"mode"`
	Skipped       bool         `json:"skipped"`
	Examined      int          `json:"examined"`
	Repaired      int          `json:"repaired"`
	Unquarantined int          `json:"unquarantined"`
	Results       []ItemResult `json:"results"`
}

// Run executes one healer pass.
func (h *Healer) Run(ctx context.Context, opts Options) (*Report, error) {
	if h.diagnoser == nil {
		return nil, fmt.Errorf("healer requires a configured LLM diagnoser")
	}
	if opts.Mode == "" {
		opts.Mode = ModeDiagnose
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}

	ok, err := h.mutex.TryAcquire(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		h.logger.Info("healer already running elsewhere, skipping")
		return &Report{Mode: opts.Mode, Skipped: true}, nil
	}
	defer func() {
		if releaseErr := h.mutex.Release(ctx); releaseErr != nil {
			h.logger.Warn("failed to release healer mutex", "error", releaseErr)
		}
	}()

	sources, err := h.candidates(ctx, opts)
	if err != nil {
		return nil, err
	}

	report := &Report{Mode: opts.Mode, Examined: len(sources)}
	for _, src := range sources {
		item := h.healOne(ctx, src, opts.Mode)
		if item.Applied {
			report.Repaired++
		}
		if item.Unquarantined {
			report.Unquarantined++
		}
		report.Results = append(report.Results, item)
	}

	h.logger.Info("healer run complete",
		"mode", opts.Mode,
		"examined", report.Examined,
		"repaired", report.Repaired,
		"unquarantined", report.Unquarantined)
	return report, nil
}

func (h *Healer) candidates(ctx context.Context, opts Options) ([]*domain.Source, error) {
	if opts.SourceID != "" {
		src, err := h.sources.GetByID(ctx, opts.SourceID)
		if err != nil {
			return nil, err
		}
		return []*domain.Source{src}, nil
	}
	return h.sources.ListForHealing(ctx, minFailures, opts.Limit)
}

func (h *Healer) healOne(ctx context.Context, src *domain.Source, mode Mode) ItemResult {
	item := ItemResult{SourceID: src.ID, SourceName: src.Name}

	page, err := h.fetcher.Fetch(ctx, src, src.URL, false)
	if err != nil {
		item.Error = fmt.Sprintf("fetch failed: %v", err)
		h.metrics.HealAttemptsTotal.WithLabelValues("failed").Inc()
		return item
	}

	suggestion, err := h.diagnoser.SuggestSelectors(ctx, page.HTML, src.ExtractionConfig.Selectors)
	if err != nil {
		item.Error = fmt.Sprintf("diagnosis failed: %v", err)
		h.metrics.HealAttemptsTotal.WithLabelValues("failed").Inc()
		return item
	}
	item.Confidence = suggestion.Confidence
	item.Diagnosis = suggestion.Diagnosis
	item.Selectors = suggestion.Selectors

	switch mode {
	case ModeRepair:
		h.applyRepair(ctx, src, suggestion, &item)
	case ModeUnquarantine:
		if src.Quarantined && suggestion.Confidence >= UnquarantineConfidence {
			if err := h.sources.SetQuarantined(ctx, src.ID, false); err != nil {
				item.Error = err.Error()
				return item
			}
			item.Unquarantined = true
			h.logger.Info("source unquarantined",
				"source_id", src.ID, "confidence", suggestion.Confidence)
		}
	}

	h.record(ctx, src, suggestion, item.Applied)
	return item
}

func (h *Healer) applyRepair(ctx context.Context, src *domain.Source, suggestion *ai.RepairSuggestion, item *ItemResult) {
	if suggestion.Confidence < RepairConfidence {
		h.metrics.HealAttemptsTotal.WithLabelValues("rejected").Inc()
		h.logger.Info("repair suggestion below confidence floor",
			"source_id", src.ID, "confidence", suggestion.Confidence)
		return
	}

	newConfig := src.ExtractionConfig
	newConfig.Selectors = suggestion.Selectors
	if err := h.sources.UpdateConfig(ctx, src.ID, newConfig); err != nil {
		item.Error = err.Error()
		h.metrics.HealAttemptsTotal.WithLabelValues("failed").Inc()
		return
	}
	item.Applied = true
	h.metrics.HealAttemptsTotal.WithLabelValues("applied").Inc()

	if src.Quarantined {
		if err := h.sources.SetQuarantined(ctx, src.ID, false); err != nil {
			h.logger.Warn("failed to clear quarantine after repair",
				"source_id", src.ID, "error", err)
		} else {
			item.Unquarantined = true
		}
	}

	h.logger.Info("source repaired",
		"source_id", src.ID,
		"selectors", suggestion.Selectors,
		"confidence", suggestion.Confidence)
}

func (h *Healer) record(ctx context.Context, src *domain.Source, suggestion *ai.RepairSuggestion, applied bool) {
	repairLog := &domain.RepairLog{
		SourceID:         src.ID,
		TriggerReason:    "healer run",
		AIDiagnosis:      suggestion.Diagnosis,
		OldConfig:        configMap(src.ExtractionConfig),
		ValidationPassed: suggestion.Confidence >= RepairConfidence,
		Applied:          applied,
	}
	if applied {
		newConfig := src.ExtractionConfig
		newConfig.Selectors = suggestion.Selectors
		repairLog.NewConfig = configMap(newConfig)
		now := time.Now()
		repairLog.AppliedAt = &now
	}

	if err := h.repairs.Insert(ctx, repairLog); err != nil {
		h.logger.Warn("failed to record repair log", "source_id", src.ID, "error", err)
	}
}

func configMap(cfg domain.ExtractionConfig) domain.JSONBMap {
	data, err := json.Marshal(cfg)
	if err != nil {
		return domain.JSONBMap{}
	}
	m := domain.JSONBMap{}
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.JSONBMap{}
	}
	return m
}
