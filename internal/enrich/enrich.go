// Package enrich sweeps staged cards that made it into the events table
// and asks the LLM for their Social Five summary.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/stadspuls/eventpipe/internal/ai"
	"github.com/stadspuls/eventpipe/internal/domain"
	"github.com/stadspuls/eventpipe/internal/logger"
	"github.com/stadspuls/eventpipe/internal/metrics"
)

// DefaultLimit bounds one sweep.
const DefaultLimit = 25

// StagingQueue lists and settles rows parked for enrichment.
type StagingQueue interface {
	PendingEnrichment(ctx context.Context, limit int) ([]*domain.RawEventStaging, error)
	UpdateStatus(ctx context.Context, id, status string) error
}

// EventStore finds and updates the event behind a staged card.
type EventStore interface {
	GetByFingerprint(ctx context.Context, sourceID, fingerprint string) (*domain.Event, error)
	UpdateEnrichment(ctx context.Context, id string, five domain.JSONBMap, quality float64) error
}

// Enricher produces the Social Five for one event.
type Enricher interface {
	Enrich(ctx context.Context, event *domain.NormalizedEvent) (*ai.SocialFive, error)
}

// Service runs enrichment sweeps.
type Service struct {
	staging  StagingQueue
	events   EventStore
	enricher Enricher
	metrics  *metrics.Metrics
	logger   logger.Interface
}

// New creates the enrichment service.
func New(staging StagingQueue, events EventStore, enricher Enricher,
	m *metrics.Metrics, log logger.Interface) *Service {
	return &Service{
		staging:  staging,
		events:   events,
		enricher: enricher,
		metrics:  m,
		logger:   log,
	}
}

// Result summarizes one sweep.
type Result struct {
	Examined int `json:"examined"`
	Enriched int `json:"enriched"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Sweep enriches up to limit staged rows. Rows whose event disappeared
// (duplicate drop, manual delete) settle as failed; LLM failures stay
// queued for the next sweep.
func (s *Service) Sweep(ctx context.Context, limit int) (*Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := s.staging.PendingEnrichment(ctx, limit)
	if err != nil {
		return nil, err
	}

	result := &Result{Examined: len(rows)}
	for _, row := range rows {
		s.enrichRow(ctx, row, result)
	}

	if result.Examined > 0 {
		s.logger.Info("enrichment sweep complete",
			"examined", result.Examined,
			"enriched", result.Enriched,
			"skipped", result.Skipped,
			"failed", result.Failed)
	}
	return result, nil
}

func (s *Service) enrichRow(ctx context.Context, row *domain.RawEventStaging, result *Result) {
	if row.Title == nil || row.EventDate == nil {
		result.Failed++
		s.settle(ctx, row, domain.StagingFailed)
		return
	}

	fp := domain.Fingerprint(*row.Title, *row.EventDate, row.SourceID)
	event, err := s.events.GetByFingerprint(ctx, row.SourceID, fp)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			result.Failed++
			s.settle(ctx, row, domain.StagingFailed)
			return
		}
		s.logger.Warn("event lookup failed", "staging_id", row.ID, "error", err)
		result.Skipped++
		return
	}
	if len(event.SocialFive) > 0 {
		result.Skipped++
		s.settle(ctx, row, domain.StagingCompleted)
		return
	}

	start := time.Now()
	five, err := s.enricher.Enrich(ctx, normalizedView(event))
	s.metrics.LLMDurationSeconds.WithLabelValues("openai").Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.LLMCallsTotal.WithLabelValues("openai", "error").Inc()
		s.logger.Warn("enrichment failed, row stays queued",
			"staging_id", row.ID, "event_id", event.ID, "error", err)
		result.Skipped++
		return
	}
	s.metrics.LLMCallsTotal.WithLabelValues("openai", "ok").Inc()

	if err := s.events.UpdateEnrichment(ctx, event.ID, fiveMap(five), five.QualityScore); err != nil {
		s.logger.Error("failed to store enrichment", "event_id", event.ID, "error", err)
		result.Skipped++
		return
	}

	result.Enriched++
	s.settle(ctx, row, domain.StagingCompleted)
}

func (s *Service) settle(ctx context.Context, row *domain.RawEventStaging, status string) {
	if err := s.staging.UpdateStatus(ctx, row.ID, status); err != nil {
		s.logger.Warn("failed to settle staging row", "staging_id", row.ID, "error", err)
	}
}

// normalizedView rebuilds the normalized shape the enricher prompt
// expects from a persisted event.
func normalizedView(ev *domain.Event) *domain.NormalizedEvent {
	return &domain.NormalizedEvent{
		Title:       ev.Title,
		Description: ev.Description,
		Category:    ev.Category,
		VenueName:   ev.VenueName,
		EventDate:   ev.EventDate.Format("2006-01-02"),
		EventTime:   ev.EventTime,
		SourceID:    ev.SourceID,
	}
}

func fiveMap(five *ai.SocialFive) domain.JSONBMap {
	data, err := json.Marshal(five)
	if err != nil {
		return domain.JSONBMap{}
	}
	m := domain.JSONBMap{}
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.JSONBMap{}
	}
	return m
}
