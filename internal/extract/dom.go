package extract

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/stadspuls/eventpipe/internal/domain"
)

// Selectors tried when a source has no configured ones. Generic event
// card markup seen across Dutch agenda sites.
var fallbackSelectors = []string{
	"[class*='event-card']",
	"[class*='agenda-item']",
	"article[class*='event']",
	".event",
	"article",
}

// DOMStrategy extracts cards with per-source CSS selectors. It is the
// last rung of the waterfall and the target of AI selector healing.
type DOMStrategy struct {
	baseStrategy
}

// NewDOMStrategy creates a DOM strategy.
func NewDOMStrategy() *DOMStrategy { return &DOMStrategy{} }

// Method identifies this strategy.
func (s *DOMStrategy) Method() domain.ParsingMethod { return domain.MethodDOM }

// ParseListing applies the source's selectors in order, falling back to
// generic card selectors when none are configured.
func (s *DOMStrategy) ParseListing(_ context.Context, html, pageURL string, opts Options) ([]domain.RawEventCard, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	selectors := fallbackSelectors
	if opts.Source != nil && len(opts.Source.ExtractionConfig.Selectors) > 0 {
		selectors = opts.Source.ExtractionConfig.Selectors
	}

	for _, selector := range selectors {
		cards := cardsFromSelector(doc, selector)
		if len(cards) > 0 {
			return cards, nil
		}
	}
	return nil, ErrNoCards
}

func cardsFromSelector(doc *goquery.Document, selector string) []domain.RawEventCard {
	var cards []domain.RawEventCard

	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		card := domain.RawEventCard{
			Title:    textFrom(sel, "h1, h2, h3, h4, [class*='title']"),
			Date:     dateFrom(sel),
			Location: textFrom(sel, "[class*='location'], [class*='venue'], address"),
		}
		card.Description = textFrom(sel, "p, [class*='description'], [class*='excerpt']")

		if img, ok := sel.Find("img").First().Attr("src"); ok {
			card.ImageURL = img
		}
		if href, ok := sel.Find("a").First().Attr("href"); ok {
			card.DetailURL = href
		}
		if html, err := goquery.OuterHtml(sel); err == nil {
			card.RawHTML = html
		}

		if card.Date != "" {
			cards = append(cards, card)
		}
	})

	return cards
}

func textFrom(sel *goquery.Selection, selector string) string {
	return strings.TrimSpace(sel.Find(selector).First().Text())
}

// dateFrom prefers machine-readable <time datetime> over visible text.
func dateFrom(sel *goquery.Selection) string {
	timeEl := sel.Find("time").First()
	if dt, ok := timeEl.Attr("datetime"); ok && dt != "" {
		return dt
	}
	if text := strings.TrimSpace(timeEl.Text()); text != "" {
		return text
	}
	return textFrom(sel, "[class*='date']")
}
