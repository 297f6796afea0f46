package extract

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/stadspuls/eventpipe/internal/domain"
)

// JSONLDStrategy reads schema.org Event objects from ld+json script
// blocks, falling back to microdata itemscope markup.
type JSONLDStrategy struct {
	baseStrategy
}

// NewJSONLDStrategy creates a JSON-LD strategy.
func NewJSONLDStrategy() *JSONLDStrategy { return &JSONLDStrategy{} }

// Method identifies this strategy.
func (s *JSONLDStrategy) Method() domain.ParsingMethod { return domain.MethodJSONLD }

// ParseListing extracts all @type Event objects, including ones nested
// in @graph arrays, then tries microdata scopes if none were found.
func (s *JSONLDStrategy) ParseListing(_ context.Context, html, pageURL string, opts Options) ([]domain.RawEventCard, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var cards []domain.RawEventCard
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		var decoded any
		if err := json.Unmarshal([]byte(sel.Text()), &decoded); err != nil {
			return
		}
		collectLDEvents(decoded, &cards)
	})

	if len(cards) == 0 {
		cards = parseMicrodata(doc)
	}
	if len(cards) == 0 {
		return nil, ErrNoCards
	}
	return cards, nil
}

func collectLDEvents(node any, cards *[]domain.RawEventCard) {
	switch v := node.(type) {
	case []any:
		for _, item := range v {
			collectLDEvents(item, cards)
		}
	case map[string]any:
		if isLDEvent(v) {
			*cards = append(*cards, ldEventCard(v))
			return
		}
		if graph, ok := v["@graph"]; ok {
			collectLDEvents(graph, cards)
		}
	}
}

func isLDEvent(obj map[string]any) bool {
	switch t := obj["@type"].(type) {
	case string:
		return strings.Contains(t, "Event")
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && strings.Contains(s, "Event") {
				return true
			}
		}
	}
	return false
}

func ldEventCard(obj map[string]any) domain.RawEventCard {
	raw, _ := json.Marshal(obj)
	return domain.RawEventCard{
		Title:       firstString(obj, []string{"name"}),
		Date:        firstString(obj, []string{"startDate"}),
		Location:    firstString(obj, []string{"location"}),
		Description: firstString(obj, []string{"description"}),
		ImageURL:    ldImage(obj),
		DetailURL:   firstString(obj, []string{"url"}),
		RawHTML:     string(raw),
	}
}

func ldImage(obj map[string]any) string {
	switch v := obj["image"].(type) {
	case string:
		return v
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	case map[string]any:
		if u, ok := v["url"].(string); ok {
			return u
		}
	}
	return ""
}

// parseMicrodata reads schema.org Event itemscopes.
func parseMicrodata(doc *goquery.Document) []domain.RawEventCard {
	var cards []domain.RawEventCard

	doc.Find(`[itemtype*="schema.org/Event"]`).Each(func(_ int, scope *goquery.Selection) {
		card := domain.RawEventCard{
			Title:       itemprop(scope, "name"),
			Date:        itempropContent(scope, "startDate"),
			Location:    itemprop(scope, "location"),
			Description: itemprop(scope, "description"),
		}
		if img, ok := scope.Find(`[itemprop="image"]`).Attr("src"); ok {
			card.ImageURL = img
		}
		if href, ok := scope.Find(`[itemprop="url"]`).Attr("href"); ok {
			card.DetailURL = href
		}
		if html, err := goquery.OuterHtml(scope); err == nil {
			card.RawHTML = html
		}
		if card.Date != "" {
			cards = append(cards, card)
		}
	})

	return cards
}

func itemprop(scope *goquery.Selection, name string) string {
	return strings.TrimSpace(scope.Find(`[itemprop="` + name + `"]`).First().Text())
}

// itempropContent prefers machine-readable attribute values over text,
// as used by <time itemprop="startDate" datetime="...">.
func itempropContent(scope *goquery.Selection, name string) string {
	sel := scope.Find(`[itemprop="` + name + `"]`).First()
	for _, attr := range []string{"datetime", "content"} {
		if v, ok := sel.Attr(attr); ok && v != "" {
			return v
		}
	}
	return strings.TrimSpace(sel.Text())
}
