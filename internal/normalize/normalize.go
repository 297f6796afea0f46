// Package normalize converts raw event cards into normalized events:
// ISO dates in the target year, 24h times, cleaned descriptions, Hybrid
// Life categories, and venue/coordinate fallbacks.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/stadspuls/eventpipe/internal/domain"
	"github.com/stadspuls/eventpipe/internal/logger"
)

// DescriptionLimit caps the fallback description built from raw HTML.
const DescriptionLimit = 240

// Rejection reasons surfaced to the worker for counting.
var (
	ErrMissingTitle = errors.New("card has no title")
	ErrBadDate      = errors.New("card date is unparseable")
	ErrWrongYear    = errors.New("event date outside target year")
)

// AINormalizer is the LLM fallback used when cheap normalization cannot
// produce a time or description.
type AINormalizer interface {
	NormalizeCard(ctx context.Context, card domain.RawEventCard, targetYear int) (*domain.NormalizedEvent, error)
}

// Normalizer turns raw cards into normalized events.
type Normalizer struct {
	targetYear int
	classifier *Classifier
	ai         AINormalizer
	logger     logger.Interface
}

// New creates a normalizer. ai may be nil to disable the LLM fallback.
func New(targetYear int, ai AINormalizer, log logger.Interface) *Normalizer {
	return &Normalizer{
		targetYear: targetYear,
		classifier: NewClassifier(),
		ai:         ai,
		logger:     log,
	}
}

// Normalize runs cheap normalization and falls back to the LLM when the
// card resists deterministic parsing. A nil result with a nil error
// never happens: rejection is always an error.
func (n *Normalizer) Normalize(ctx context.Context, card domain.RawEventCard, source *domain.Source) (*domain.NormalizedEvent, error) {
	event, err := n.Cheap(card, source)
	if err == nil {
		return event, nil
	}
	if errors.Is(err, ErrMissingTitle) || errors.Is(err, ErrWrongYear) || n.ai == nil {
		return nil, err
	}

	event, aiErr := n.ai.NormalizeCard(ctx, card, n.targetYear)
	if aiErr != nil {
		return nil, fmt.Errorf("ai normalization failed after %v: %w", err, aiErr)
	}
	if !InTargetYear(event.EventDate, n.targetYear) {
		return nil, ErrWrongYear
	}

	n.finish(event, card, source)
	event.Method = domain.MethodAIFallback
	return event, nil
}

// Cheap is the deterministic normalization path.
func (n *Normalizer) Cheap(card domain.RawEventCard, source *domain.Source) (*domain.NormalizedEvent, error) {
	title := strings.TrimSpace(card.Title)
	if title == "" {
		return nil, ErrMissingTitle
	}

	date, inlineTime, err := ParseDate(card.Date, n.targetYear)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDate, err)
	}
	if !InTargetYear(date, n.targetYear) {
		return nil, fmt.Errorf("%w: %s", ErrWrongYear, date)
	}

	eventTime := TimeTBD
	switch {
	case card.DetailPageTime != "":
		eventTime = ExtractTime(card.DetailPageTime)
	case inlineTime != "":
		eventTime = inlineTime
	default:
		eventTime = ExtractTime(card.Date + " " + card.Description + " " + card.RawHTML)
	}

	event := &domain.NormalizedEvent{
		Title:       title,
		Description: n.description(card),
		EventDate:   date,
		EventTime:   eventTime,
	}
	n.finish(event, card, source)
	event.Method = domain.MethodDeterministic
	return event, nil
}

// finish fills the fields shared by the cheap and AI paths: category,
// venue, coordinates, image and source.
func (n *Normalizer) finish(event *domain.NormalizedEvent, card domain.RawEventCard, source *domain.Source) {
	if event.Category == "" || !domain.ValidCategory(event.Category) {
		event.Category = n.classifier.Classify(event.Title, event.Description, card.CategoryHint)
	}

	if event.VenueName == "" {
		event.VenueName = strings.TrimSpace(card.Location)
	}
	if event.VenueName == "" {
		event.VenueName = source.Name
	}

	if source.DefaultLat != nil && source.DefaultLng != nil {
		event.Lat = *source.DefaultLat
		event.Lng = *source.DefaultLng
	} else {
		event.Lat, event.Lng = 0, 0
		n.logger.Warn("source has no default coordinates, storing POINT(0 0)",
			"source_id", source.ID, "title", event.Title)
	}

	if event.ImageURL == "" {
		event.ImageURL = card.ImageURL
	}
	event.SourceID = source.ID
}

// description normalizes whitespace, falling back to stripped raw HTML
// truncated to the description limit.
func (n *Normalizer) description(card domain.RawEventCard) string {
	desc := collapseWhitespace(card.Description)
	if desc != "" {
		return desc
	}

	return domain.TruncateUTF8(collapseWhitespace(stripTags(card.RawHTML)), DescriptionLimit)
}

var (
	tagRe        = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

func stripTags(html string) string {
	return tagRe.ReplaceAllString(html, " ")
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
