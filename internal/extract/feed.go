package extract

import (
	"bufio"
	"context"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/stadspuls/eventpipe/internal/domain"
	"github.com/stadspuls/eventpipe/internal/fetch"
)

// FeedStrategy reads RSS/Atom feeds and ICS calendars. For venue-tier
// sources it also guesses common feed locations off the source URL.
type FeedStrategy struct {
	parser *gofeed.Parser
}

// NewFeedStrategy creates a feed strategy.
func NewFeedStrategy() *FeedStrategy {
	return &FeedStrategy{parser: gofeed.NewParser()}
}

// Method identifies this strategy.
func (s *FeedStrategy) Method() domain.ParsingMethod { return domain.MethodFeed }

// DiscoverListingURLs returns the source URL plus guessed feed
// locations when the tier policy allows guessing.
func (s *FeedStrategy) DiscoverListingURLs(_ context.Context, source *domain.Source, _ PageFetcher) ([]string, error) {
	urls := []string{source.URL}
	if !source.Policy().FeedGuess {
		return urls, nil
	}

	base := strings.TrimRight(source.URL, "/")
	urls = append(urls, base+"/feed", base+"/events.ics", base+"/calendar.ics")
	return urls, nil
}

// FetchListing retrieves one candidate feed URL.
func (s *FeedStrategy) FetchListing(ctx context.Context, url string, fetcher PageFetcher) (*fetch.Result, error) {
	return fetcher(ctx, url)
}

// ParseListing parses the body as RSS/Atom first, then as ICS.
func (s *FeedStrategy) ParseListing(_ context.Context, body, pageURL string, opts Options) ([]domain.RawEventCard, error) {
	if cards := s.parseSyndication(body); len(cards) > 0 {
		return cards, nil
	}
	if cards := parseICS(body); len(cards) > 0 {
		return cards, nil
	}
	return nil, ErrNoCards
}

func (s *FeedStrategy) parseSyndication(body string) []domain.RawEventCard {
	feed, err := s.parser.ParseString(body)
	if err != nil || feed == nil {
		return nil
	}

	var cards []domain.RawEventCard
	for _, item := range feed.Items {
		date := ""
		if item.PublishedParsed != nil {
			date = item.PublishedParsed.Format("2006-01-02")
		} else if item.Published != "" {
			date = item.Published
		}
		if item.Title == "" || date == "" {
			continue
		}

		card := domain.RawEventCard{
			Title:       item.Title,
			Date:        date,
			Description: item.Description,
			DetailURL:   item.Link,
			RawHTML:     item.Content,
		}
		if item.Image != nil {
			card.ImageURL = item.Image.URL
		}
		if len(item.Categories) > 0 {
			card.CategoryHint = item.Categories[0]
		}
		cards = append(cards, card)
	}
	return cards
}

// parseICS is a minimal VEVENT reader: enough for SUMMARY, DTSTART,
// LOCATION, DESCRIPTION and URL with line unfolding.
func parseICS(body string) []domain.RawEventCard {
	if !strings.Contains(body, "BEGIN:VEVENT") {
		return nil
	}

	var cards []domain.RawEventCard
	var current map[string]string

	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		// Folded lines start with whitespace and continue the previous one.
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && len(lines) > 0 {
			lines[len(lines)-1] += strings.TrimLeft(line, " \t")
			continue
		}
		lines = append(lines, line)
	}

	for _, line := range lines {
		switch {
		case line == "BEGIN:VEVENT":
			current = make(map[string]string)
		case line == "END:VEVENT":
			if current != nil {
				if card, ok := icsCard(current); ok {
					cards = append(cards, card)
				}
			}
			current = nil
		case current != nil:
			key, value, found := strings.Cut(line, ":")
			if !found {
				continue
			}
			// Strip property parameters like DTSTART;VALUE=DATE.
			if i := strings.Index(key, ";"); i >= 0 {
				key = key[:i]
			}
			current[key] = icsUnescape(value)
		}
	}

	return cards
}

func icsCard(props map[string]string) (domain.RawEventCard, bool) {
	title := props["SUMMARY"]
	date := icsDate(props["DTSTART"])
	if title == "" || date == "" {
		return domain.RawEventCard{}, false
	}

	return domain.RawEventCard{
		Title:       title,
		Date:        date,
		Location:    props["LOCATION"],
		Description: props["DESCRIPTION"],
		DetailURL:   props["URL"],
	}, true
}

// icsDate converts 20260520 or 20260520T200000Z into YYYY-MM-DD, and a
// time suffix into HH:MM carried through the date string.
func icsDate(value string) string {
	if len(value) < 8 {
		return ""
	}
	date := value[:4] + "-" + value[4:6] + "-" + value[6:8]
	if len(value) >= 15 && value[8] == 'T' {
		date += " " + value[9:11] + ":" + value[11:13]
	}
	return date
}

func icsUnescape(value string) string {
	replacer := strings.NewReplacer(`\n`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)
	return replacer.Replace(value)
}
