package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/stadspuls/eventpipe/internal/domain"
	"github.com/stadspuls/eventpipe/internal/fingerprint"
	"github.com/stadspuls/eventpipe/internal/logger"
)

// aggregatorCompletenessFloor is the average card completeness a
// high-strictness source must reach before the waterfall stops.
const aggregatorCompletenessFloor = 0.5

// Outcome is the result of one waterfall run over a fetched page.
type Outcome struct {
	Cards       []domain.RawEventCard
	Method      domain.ParsingMethod
	Fingerprint *fingerprint.Result
}

// Waterfall runs extraction strategies in fingerprinter-recommended
// order, stopping at the first that produces usable cards.
type Waterfall struct {
	strategies map[domain.ParsingMethod]Strategy
	ai         *AIStrategy
	logger     logger.Interface
}

// NewWaterfall builds the standard strategy set. aiExtractor may be nil
// when no LLM is configured.
func NewWaterfall(aiExtractor CardExtractor, log logger.Interface) *Waterfall {
	ai := NewAIStrategy(aiExtractor)
	return &Waterfall{
		strategies: map[domain.ParsingMethod]Strategy{
			domain.MethodHydration: NewHydrationStrategy(),
			domain.MethodJSONLD:    NewJSONLDStrategy(),
			domain.MethodFeed:      NewFeedStrategy(),
			domain.MethodDOM:       NewDOMStrategy(),
		},
		ai:     ai,
		logger: log,
	}
}

// Strategy returns the named strategy, or nil.
func (w *Waterfall) Strategy(method domain.ParsingMethod) Strategy {
	if method == domain.MethodAI {
		return w.ai
	}
	return w.strategies[method]
}

// Run fingerprints the page and tries each recommended strategy in
// order. The AI strategy runs last, and only when everything
// deterministic came up empty.
func (w *Waterfall) Run(ctx context.Context, html, pageURL string, source *domain.Source) (*Outcome, error) {
	fp := fingerprint.Detect(html)
	opts := Options{Source: source, BaseURL: pageURL, Language: source.Language}
	policy := source.Policy()

	order := fp.RecommendedStrategies
	if preferred := source.ExtractionConfig.PreferredMethod; preferred != "" {
		order = promote(order, preferred)
	}

	var best *Outcome
	for _, method := range order {
		strategy := w.strategies[method]
		if strategy == nil {
			continue
		}

		cards, err := strategy.ParseListing(ctx, html, pageURL, opts)
		if err != nil {
			if !errors.Is(err, ErrNoCards) {
				w.logger.Warn("strategy failed",
					"source_id", source.ID, "method", method, "error", err)
			}
			continue
		}
		ResolveCardURLs(cards, pageURL)

		outcome := &Outcome{Cards: cards, Method: method, Fingerprint: fp}
		if source.Tier == domain.TierAggregator && policy.Strictness == domain.StrictnessHigh {
			if averageCompleteness(cards) < aggregatorCompletenessFloor {
				// Keep the partial result in case nothing better comes.
				if best == nil {
					best = outcome
				}
				continue
			}
		}
		return outcome, nil
	}

	if best != nil {
		return best, nil
	}

	if w.ai.Enabled() {
		cards, err := w.ai.ParseListing(ctx, html, pageURL, opts)
		if err == nil {
			ResolveCardURLs(cards, pageURL)
			return &Outcome{Cards: cards, Method: domain.MethodAI, Fingerprint: fp}, nil
		}
		if !errors.Is(err, ErrNoCards) {
			return nil, fmt.Errorf("ai extraction failed: %w", err)
		}
	}

	return nil, ErrNoCards
}

func promote(order []domain.ParsingMethod, preferred domain.ParsingMethod) []domain.ParsingMethod {
	out := []domain.ParsingMethod{preferred}
	for _, m := range order {
		if m != preferred {
			out = append(out, m)
		}
	}
	return out
}

func averageCompleteness(cards []domain.RawEventCard) float64 {
	if len(cards) == 0 {
		return 0
	}
	total := 0.0
	for i := range cards {
		total += cards[i].Completeness()
	}
	return total / float64(len(cards))
}
