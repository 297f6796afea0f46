package ai

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/stadspuls/eventpipe/internal/domain"
	"github.com/stadspuls/eventpipe/internal/logger"
)

const enrichModel = "gpt-4o-mini"

// SocialFive is the structured enrichment contract: the five questions
// a reader asks about an event, plus quality metrics.
type SocialFive struct {
	What  string `json:"what"`
	When  string `json:"when"`
	Where string `json:"where"`
	Who   string `json:"who"`
	Vibe  string `json:"vibe"`

	QualityScore float64 `json:"quality_score"` // 0..1
	Confidence   float64 `json:"confidence"`    // 0..1
}

// Enricher produces Social Five enrichments with OpenAI.
type Enricher struct {
	llm     *openai.LLM
	breaker *gobreaker.CircuitBreaker
	logger  logger.Interface
}

// NewEnricher creates the OpenAI enrichment client.
func NewEnricher(apiKey string, log logger.Interface) (*Enricher, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is not configured")
	}

	llm, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithModel(enrichModel),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}

	return &Enricher{
		llm:     llm,
		breaker: newBreaker("openai", log),
		logger:  log,
	}, nil
}

const enrichPrompt = `Summarize this event for a social events app.
Return ONLY JSON:
{"what": string, "when": string, "where": string, "who": string,
 "vibe": string, "quality_score": number 0-1, "confidence": number 0-1}
Answer in the event's language. Keep each field under 140 characters.

Event:
title: %s
date: %s %s
venue: %s
category: %s
description: %s`

// Enrich produces the Social Five for a normalized event.
func (e *Enricher) Enrich(ctx context.Context, event *domain.NormalizedEvent) (*SocialFive, error) {
	prompt := fmt.Sprintf(enrichPrompt,
		event.Title, event.EventDate, event.EventTime,
		event.VenueName, event.Category, event.Description)

	result, err := e.breaker.Execute(func() (any, error) {
		return llms.GenerateFromSinglePrompt(ctx, e.llm, prompt,
			llms.WithJSONMode(),
			llms.WithTemperature(0.3),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("enrichment call failed: %w", err)
	}

	var five SocialFive
	if err := decodeJSON(result.(string), &five); err != nil {
		return nil, err
	}
	if five.What == "" || five.When == "" {
		return nil, fmt.Errorf("enrichment failed schema check: what=%q when=%q", five.What, five.When)
	}
	if five.QualityScore < 0 || five.QualityScore > 1 {
		return nil, fmt.Errorf("enrichment quality score %v out of range", five.QualityScore)
	}
	return &five, nil
}
