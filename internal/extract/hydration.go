package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/stadspuls/eventpipe/internal/domain"
)

// HydrationStrategy pulls events out of the JSON state that SPA
// frameworks embed in the page: __NEXT_DATA__, __NUXT__,
// __INITIAL_STATE__ and plain inline JSON script blocks.
type HydrationStrategy struct {
	baseStrategy
}

// NewHydrationStrategy creates a hydration strategy.
func NewHydrationStrategy() *HydrationStrategy { return &HydrationStrategy{} }

// Method identifies this strategy.
func (s *HydrationStrategy) Method() domain.ParsingMethod { return domain.MethodHydration }

var windowStateRes = []*regexp.Regexp{
	regexp.MustCompile(`(?s)window\.__NUXT__\s*=\s*(\{.*?\})\s*(?:;|</script>)`),
	regexp.MustCompile(`(?s)window\.__INITIAL_STATE__\s*=\s*(\{.*?\})\s*(?:;|</script>)`),
}

// ParseListing decodes every embedded JSON blob and walks it for arrays
// of event-shaped objects.
func (s *HydrationStrategy) ParseListing(_ context.Context, html, pageURL string, opts Options) ([]domain.RawEventCard, error) {
	blobs := collectStateBlobs(html)
	if len(blobs) == 0 {
		return nil, ErrNoCards
	}

	var cards []domain.RawEventCard
	for _, blob := range blobs {
		var decoded any
		if err := json.Unmarshal([]byte(blob), &decoded); err != nil {
			continue
		}
		walkForEvents(decoded, &cards)
	}

	if len(cards) == 0 {
		return nil, ErrNoCards
	}
	return cards, nil
}

func collectStateBlobs(html string) []string {
	var blobs []string

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		doc.Find(`script#__NEXT_DATA__, script[type="application/json"]`).Each(func(_ int, sel *goquery.Selection) {
			if text := strings.TrimSpace(sel.Text()); text != "" {
				blobs = append(blobs, text)
			}
		})
	}

	for _, re := range windowStateRes {
		if m := re.FindStringSubmatch(html); len(m) > 1 {
			blobs = append(blobs, m[1])
		}
	}
	return blobs
}

// Keys that mark an object as event-shaped. An object qualifies when it
// has both a title-like and a date-like field.
var (
	titleKeys = []string{"title", "name", "eventName", "event_name"}
	dateKeys  = []string{"date", "startDate", "start_date", "startDateTime", "start", "eventDate", "event_date"}
)

func walkForEvents(node any, cards *[]domain.RawEventCard) {
	switch v := node.(type) {
	case []any:
		for _, item := range v {
			if obj, ok := item.(map[string]any); ok {
				if card, ok := eventCardFromObject(obj); ok {
					*cards = append(*cards, card)
					continue
				}
			}
			walkForEvents(item, cards)
		}
	case map[string]any:
		for _, value := range v {
			walkForEvents(value, cards)
		}
	}
}

func eventCardFromObject(obj map[string]any) (domain.RawEventCard, bool) {
	title := firstString(obj, titleKeys)
	date := firstString(obj, dateKeys)
	if title == "" || date == "" {
		return domain.RawEventCard{}, false
	}

	raw, _ := json.Marshal(obj)
	return domain.RawEventCard{
		Title:        title,
		Date:         date,
		Location:     firstString(obj, []string{"location", "venue", "venueName", "venue_name", "place"}),
		Description:  firstString(obj, []string{"description", "summary", "excerpt", "intro"}),
		ImageURL:     firstString(obj, []string{"image", "imageUrl", "image_url", "thumbnail"}),
		DetailURL:    firstString(obj, []string{"url", "link", "detailUrl", "detail_url", "permalink"}),
		CategoryHint: firstString(obj, []string{"category", "genre", "type"}),
		RawHTML:      string(raw),
	}, true
}

func firstString(obj map[string]any, keys []string) string {
	for _, key := range keys {
		switch v := obj[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			// Nested shapes like {"location": {"name": "..."}}.
			if name, ok := v["name"].(string); ok && name != "" {
				return name
			}
			if u, ok := v["url"].(string); ok && u != "" {
				return u
			}
		case float64:
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}
