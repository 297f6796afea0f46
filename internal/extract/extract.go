// Package extract turns fetched HTML into raw event cards through a
// waterfall of strategies: embedded hydration state, JSON-LD and
// microdata, feeds, configured DOM selectors, and finally an LLM.
package extract

import (
	"context"
	"errors"
	"net/url"

	"github.com/stadspuls/eventpipe/internal/domain"
	"github.com/stadspuls/eventpipe/internal/fetch"
)

// ErrNoCards is returned when a strategy parses the page successfully
// but finds no event cards.
var ErrNoCards = errors.New("no event cards extracted")

// PageFetcher retrieves one page. The worker binds it to the source's
// fetch strategy and rate limit.
type PageFetcher func(ctx context.Context, url string) (*fetch.Result, error)

// Options carries per-source parsing context into a strategy.
type Options struct {
	Source   *domain.Source
	BaseURL  string
	Language string
}

// Strategy is one rung of the extraction waterfall.
type Strategy interface {
	// Method identifies the strategy in staging rows and logs.
	Method() domain.ParsingMethod
	// DiscoverListingURLs returns the listing pages this strategy wants
	// to read, usually just the source URL.
	DiscoverListingURLs(ctx context.Context, source *domain.Source, fetcher PageFetcher) ([]string, error)
	// FetchListing retrieves one listing page.
	FetchListing(ctx context.Context, url string, fetcher PageFetcher) (*fetch.Result, error)
	// ParseListing extracts event cards from the page. The context only
	// matters for the AI strategy's LLM call.
	ParseListing(ctx context.Context, html, pageURL string, opts Options) ([]domain.RawEventCard, error)
}

// baseStrategy provides the default discovery and fetch behavior shared
// by strategies that read the source URL directly.
type baseStrategy struct{}

func (baseStrategy) DiscoverListingURLs(_ context.Context, source *domain.Source, _ PageFetcher) ([]string, error) {
	return []string{source.URL}, nil
}

func (baseStrategy) FetchListing(ctx context.Context, url string, fetcher PageFetcher) (*fetch.Result, error) {
	return fetcher(ctx, url)
}

// ResolveCardURLs rewrites relative detail and image links against the
// listing page URL. Agenda sites commonly link cards with root-relative
// hrefs, which a later detail fetch cannot use as-is.
func ResolveCardURLs(cards []domain.RawEventCard, pageURL string) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return
	}
	for i := range cards {
		cards[i].DetailURL = resolveAgainst(base, cards[i].DetailURL)
		cards[i].ImageURL = resolveAgainst(base, cards[i].ImageURL)
	}
}

func resolveAgainst(base *url.URL, ref string) string {
	if ref == "" {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil || parsed.IsAbs() {
		return ref
	}
	return base.ResolveReference(parsed).String()
}
