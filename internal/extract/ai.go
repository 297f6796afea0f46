package extract

import (
	"context"

	"github.com/stadspuls/eventpipe/internal/domain"
)

// MaxAIPromptChars caps how much HTML is sent to the LLM.
const MaxAIPromptChars = 25000

// CardExtractor is the LLM call behind the AI strategy.
type CardExtractor interface {
	ExtractCards(ctx context.Context, html, pageURL string) ([]domain.RawEventCard, error)
}

// AIStrategy asks an LLM to extract cards. It only runs when every
// deterministic strategy came up empty.
type AIStrategy struct {
	baseStrategy
	extractor CardExtractor
}

// NewAIStrategy creates an AI strategy. A nil extractor disables it.
func NewAIStrategy(extractor CardExtractor) *AIStrategy {
	return &AIStrategy{extractor: extractor}
}

// Method identifies this strategy.
func (s *AIStrategy) Method() domain.ParsingMethod { return domain.MethodAI }

// Enabled reports whether an LLM is configured.
func (s *AIStrategy) Enabled() bool { return s.extractor != nil }

// ParseListing truncates the HTML and delegates to the LLM.
func (s *AIStrategy) ParseListing(ctx context.Context, html, pageURL string, _ Options) ([]domain.RawEventCard, error) {
	if s.extractor == nil {
		return nil, ErrNoCards
	}
	html = domain.TruncateUTF8(html, MaxAIPromptChars)

	cards, err := s.extractor.ExtractCards(ctx, html, pageURL)
	if err != nil {
		return nil, err
	}
	if len(cards) == 0 {
		return nil, ErrNoCards
	}
	return cards, nil
}
