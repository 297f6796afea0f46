// Package ai wraps the LLM providers: Gemini for extraction,
// normalization, selector healing, discovery validation and
// embeddings; OpenAI for Social Five enrichment. Every response is
// schema-validated, and each provider sits behind a circuit breaker.
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"

	"github.com/stadspuls/eventpipe/internal/domain"
	"github.com/stadspuls/eventpipe/internal/logger"
	"github.com/stadspuls/eventpipe/internal/normalize"
)

// EmbeddingModel is the Gemini embedding model used for semantic dedup.
const EmbeddingModel = "text-embedding-004"

// defaultChatModel handles extraction, normalization and healing.
const defaultChatModel = "gemini-1.5-flash"

// Gemini is the Google AI client used throughout the pipeline.
type Gemini struct {
	llm     *googleai.GoogleAI
	breaker *gobreaker.CircuitBreaker
	logger  logger.Interface
}

// NewGemini connects to Google AI. Returns an error when no key is set.
func NewGemini(ctx context.Context, apiKey string, log logger.Interface) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is not configured")
	}

	llm, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(defaultChatModel),
		googleai.WithDefaultEmbeddingModel(EmbeddingModel),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Gemini{
		llm:     llm,
		breaker: newBreaker("gemini", log),
		logger:  log,
	}, nil
}

// Model returns the embedding model identifier stored on events.
func (g *Gemini) Model() string { return EmbeddingModel }

// Embed computes the embedding of a canonical event text.
func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := g.breaker.Execute(func() (any, error) {
		vectors, embErr := g.llm.CreateEmbedding(ctx, []string{text})
		if embErr != nil {
			return nil, embErr
		}
		if len(vectors) == 0 || len(vectors[0]) == 0 {
			return nil, fmt.Errorf("empty embedding response")
		}
		return vectors[0], nil
	})
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	return result.([]float32), nil
}

const extractPrompt = `You extract events from Dutch event-listing HTML.
Return ONLY a JSON array. Each element:
{"title": string, "date": string, "location": string, "description": string,
 "imageUrl": string, "detailUrl": string}
Use empty strings for unknown fields. Do not invent events.

Page URL: %s
HTML:
%s`

// ExtractCards asks the LLM for event cards. Used as the last waterfall
// strategy.
func (g *Gemini) ExtractCards(ctx context.Context, html, pageURL string) ([]domain.RawEventCard, error) {
	response, err := g.generate(ctx, fmt.Sprintf(extractPrompt, pageURL, html))
	if err != nil {
		return nil, err
	}

	var decoded []struct {
		Title       string `json:"title"`
		Date        string `json:"date"`
		Location    string `json:"location"`
		Description string `json:"description"`
		ImageURL    string `json:"imageUrl"`
		DetailURL   string `json:"detailUrl"`
	}
	if err := decodeJSON(response, &decoded); err != nil {
		return nil, err
	}

	cards := make([]domain.RawEventCard, 0, len(decoded))
	for _, d := range decoded {
		if d.Date == "" {
			continue
		}
		cards = append(cards, domain.RawEventCard{
			Title:       d.Title,
			Date:        d.Date,
			Location:    d.Location,
			Description: d.Description,
			ImageURL:    d.ImageURL,
			DetailURL:   d.DetailURL,
		})
	}
	return cards, nil
}

const normalizePrompt = `Normalize this raw event into strict JSON:
{"title": string, "description": string, "event_date": "YYYY-MM-DD",
 "event_time": "HH:MM" or "TBD", "venue_name": string}
The event must take place in %d; if the year is absent, assume %d.
Raw event: %s`

// NormalizeCard is the LLM fallback behind cheap normalization.
func (g *Gemini) NormalizeCard(ctx context.Context, card domain.RawEventCard, targetYear int) (*domain.NormalizedEvent, error) {
	raw := fmt.Sprintf("title=%q date=%q location=%q description=%q",
		card.Title, card.Date, card.Location, card.Description)

	response, err := g.generate(ctx, fmt.Sprintf(normalizePrompt, targetYear, targetYear, raw))
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		EventDate   string `json:"event_date"`
		EventTime   string `json:"event_time"`
		VenueName   string `json:"venue_name"`
	}
	if err := decodeJSON(response, &decoded); err != nil {
		return nil, err
	}
	if decoded.Title == "" || len(decoded.EventDate) != 10 {
		return nil, fmt.Errorf("normalized event failed schema check: title=%q date=%q",
			decoded.Title, decoded.EventDate)
	}
	if decoded.EventTime == "" {
		decoded.EventTime = normalize.TimeTBD
	}

	return &domain.NormalizedEvent{
		Title:       decoded.Title,
		Description: decoded.Description,
		EventDate:   decoded.EventDate,
		EventTime:   decoded.EventTime,
		VenueName:   decoded.VenueName,
	}, nil
}

// RepairSuggestion is the healer's selector diagnosis.
type RepairSuggestion struct {
	Diagnosis  string   `json:"diagnosis"`
	Selectors  []string `json:"selectors"`
	Strategy   string   `json:"fetch_strategy"`
	Confidence float64  `json:"confidence"`
}

const repairPrompt = `You repair CSS selectors for a broken event scraper.
The page below used to produce event cards with selectors %v but now yields none.
Return ONLY JSON:
{"diagnosis": string, "selectors": [string], "fetch_strategy": "static"|"headless",
 "confidence": number between 0 and 1}
Selectors must each match repeating event-card elements.

HTML sample:
%s`

// SuggestSelectors asks the LLM to diagnose a drifted source and
// propose new selectors.
func (g *Gemini) SuggestSelectors(ctx context.Context, htmlSample string, currentSelectors []string) (*RepairSuggestion, error) {
	response, err := g.generate(ctx, fmt.Sprintf(repairPrompt, currentSelectors, htmlSample))
	if err != nil {
		return nil, err
	}

	var suggestion RepairSuggestion
	if err := decodeJSON(response, &suggestion); err != nil {
		return nil, err
	}
	if len(suggestion.Selectors) == 0 {
		return nil, fmt.Errorf("repair suggestion has no selectors")
	}
	if suggestion.Confidence < 0 || suggestion.Confidence > 1 {
		return nil, fmt.Errorf("repair confidence %v out of range", suggestion.Confidence)
	}
	for _, sel := range suggestion.Selectors {
		if strings.TrimSpace(sel) == "" {
			return nil, fmt.Errorf("repair suggestion contains an empty selector")
		}
	}
	return &suggestion, nil
}

// SourceValidation is the discovery validator's verdict on a candidate.
type SourceValidation struct {
	IsValid       bool   `json:"isValid"`
	Confidence    int    `json:"confidence"`
	SuggestedName string `json:"suggestedName"`
}

const validatePrompt = `Does this page publish a public event agenda or
event listings for %s? Return ONLY JSON:
{"isValid": boolean, "confidence": integer 0-100, "suggestedName": string}

URL: %s
HTML sample:
%s`

// ValidateSource asks the LLM whether a discovered URL really is an
// event source.
func (g *Gemini) ValidateSource(ctx context.Context, municipality, url, htmlSample string) (*SourceValidation, error) {
	response, err := g.generate(ctx, fmt.Sprintf(validatePrompt, municipality, url, htmlSample))
	if err != nil {
		return nil, err
	}

	var validation SourceValidation
	if err := decodeJSON(response, &validation); err != nil {
		return nil, err
	}
	if validation.Confidence < 0 || validation.Confidence > 100 {
		return nil, fmt.Errorf("validation confidence %d out of range", validation.Confidence)
	}
	return &validation, nil
}

func (g *Gemini) generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	result, err := g.breaker.Execute(func() (any, error) {
		return llms.GenerateFromSinglePrompt(ctx, g.llm, prompt,
			llms.WithJSONMode(),
			llms.WithTemperature(0.1),
		)
	})
	if err != nil {
		return "", fmt.Errorf("gemini call failed: %w", err)
	}

	g.logger.Debug("gemini call completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_chars", len(prompt))
	return result.(string), nil
}
