package normalize_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadspuls/eventpipe/internal/domain"
	"github.com/stadspuls/eventpipe/internal/logger"
	"github.com/stadspuls/eventpipe/internal/normalize"
)

func testSource() *domain.Source {
	lat, lng := 52.3676, 4.9041
	return &domain.Source{
		ID:         "src-1",
		Name:       "Uitagenda Amsterdam",
		DefaultLat: &lat,
		DefaultLng: &lng,
	}
}

func TestExtractTime(t *testing.T) {
	cases := map[string]string{
		"aanvang 20:00":    "20:00",
		"aanvang 20.30":    "20:30",
		"doors 7:30 pm":    "19:30",
		"om 12 uur":        "12:00",
		"ab 20 uhr":        "20:00",
		"einde om 23:59":   "23:59",
		"start om 24:00":   "TBD",
		"12:00 am brunch":  "00:00",
		"geen tijd bekend": "TBD",
	}

	for input, want := range cases {
		assert.Equal(t, want, normalize.ExtractTime(input), "input %q", input)
	}
}

func TestParseDateShapes(t *testing.T) {
	cases := []struct {
		in       string
		wantDate string
		wantTime string
	}{
		{"2026-05-20", "2026-05-20", ""},
		{"2026-05-20T20:00", "2026-05-20", "20:00"},
		{"20-05-2026", "2026-05-20", ""},
		{"12 april 2026", "2026-04-12", ""},
		{"za 12 apr", "2026-04-12", ""},
		{"3 mei", "2026-05-03", ""},
	}

	for _, tc := range cases {
		date, timeOfDay, err := normalize.ParseDate(tc.in, 2026)
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.wantDate, date, "input %q", tc.in)
		assert.Equal(t, tc.wantTime, timeOfDay, "input %q", tc.in)
	}

	_, _, err := normalize.ParseDate("binnenkort", 2026)
	assert.Error(t, err)
}

func TestCheapNormalizeHappyPath(t *testing.T) {
	n := normalize.New(2026, nil, logger.NewNop())

	card := domain.RawEventCard{
		Title:       "Jazz in het Park",
		Date:        "2026-05-20",
		Location:    "Stadspark",
		Description: "Open   lucht\n jazz concert",
		DetailPageTime: "aanvang 20:00",
	}

	event, err := n.Normalize(context.Background(), card, testSource())
	require.NoError(t, err)

	assert.Equal(t, "Jazz in het Park", event.Title)
	assert.Equal(t, "2026-05-20", event.EventDate)
	assert.Equal(t, "20:00", event.EventTime)
	assert.Equal(t, "Open lucht jazz concert", event.Description)
	assert.Equal(t, "Stadspark", event.VenueName)
	assert.Equal(t, domain.CategoryMusic, event.Category)
	assert.InDelta(t, 52.3676, event.Lat, 0.0001)
}

func TestNormalizeRejectsBoundaryYears(t *testing.T) {
	n := normalize.New(2026, nil, logger.NewNop())

	for date, ok := range map[string]bool{
		"2026-01-01": true,
		"2026-12-31": true,
		"2025-12-31": false,
		"2027-01-01": false,
	} {
		_, err := n.Normalize(context.Background(),
			domain.RawEventCard{Title: "Test", Date: date}, testSource())
		if ok {
			assert.NoError(t, err, "date %s", date)
		} else {
			assert.ErrorIs(t, err, normalize.ErrWrongYear, "date %s", date)
		}
	}
}

func TestNormalizeRejectsMissingTitle(t *testing.T) {
	n := normalize.New(2026, nil, logger.NewNop())
	_, err := n.Normalize(context.Background(),
		domain.RawEventCard{Date: "2026-05-20"}, testSource())
	assert.ErrorIs(t, err, normalize.ErrMissingTitle)
}

func TestDescriptionFallsBackToStrippedHTML(t *testing.T) {
	n := normalize.New(2026, nil, logger.NewNop())

	long := strings.Repeat("woord ", 100)
	card := domain.RawEventCard{
		Title:   "Markt",
		Date:    "2026-06-01",
		RawHTML: "<div><p>" + long + "</p></div>",
	}

	event, err := n.Normalize(context.Background(), card, testSource())
	require.NoError(t, err)
	assert.NotContains(t, event.Description, "<")
	assert.LessOrEqual(t, len(event.Description), normalize.DescriptionLimit)
}

func TestVenueFallsBackToSourceName(t *testing.T) {
	n := normalize.New(2026, nil, logger.NewNop())
	event, err := n.Normalize(context.Background(),
		domain.RawEventCard{Title: "Inloopavond", Date: "2026-03-01"}, testSource())
	require.NoError(t, err)
	assert.Equal(t, "Uitagenda Amsterdam", event.VenueName)
}

func TestMissingCoordinatesFallBackToZero(t *testing.T) {
	n := normalize.New(2026, nil, logger.NewNop())
	source := &domain.Source{ID: "src-2", Name: "Kale bron"}

	event, err := n.Normalize(context.Background(),
		domain.RawEventCard{Title: "Event", Date: "2026-03-01"}, source)
	require.NoError(t, err)
	assert.Zero(t, event.Lat)
	assert.Zero(t, event.Lng)
}

func TestHybridLifeCategoryRules(t *testing.T) {
	c := normalize.NewClassifier()

	// Dutch parenting keywords force family even with music words.
	assert.Equal(t, domain.CategoryFamily,
		c.Classify("Kindertheater met live muziek", "voorstelling voor kinderen", ""))

	// Adult social without food prefers social.
	assert.Equal(t, domain.CategorySocial,
		c.Classify("Netwerkborrel", "borrel voor young professionals", ""))

	// Adult social with food words prefers foodie.
	assert.Equal(t, domain.CategoryFoodie,
		c.Classify("Borrel met wijnproeverij", "proeverij en hapjes", ""))

	// Plain keyword matching.
	assert.Equal(t, domain.CategoryMusic,
		c.Classify("Jazz concert", "live optreden in het park", ""))

	// Valid hint short-circuits.
	assert.Equal(t, domain.CategoryGaming,
		c.Classify("Avondje uit", "", "Gaming"))

	// Unmapped text defaults to community.
	assert.Equal(t, domain.CategoryCommunity,
		c.Classify("Iets onbekends", "zonder herkenbare woorden", ""))
}

type stubAI struct {
	event *domain.NormalizedEvent
}

func (s *stubAI) NormalizeCard(_ context.Context, _ domain.RawEventCard, _ int) (*domain.NormalizedEvent, error) {
	return s.event, nil
}

func TestAIFallbackOnUnparseableDate(t *testing.T) {
	ai := &stubAI{event: &domain.NormalizedEvent{
		Title:     "Zomerfeest",
		EventDate: "2026-07-01",
		EventTime: "TBD",
	}}
	n := normalize.New(2026, ai, logger.NewNop())

	event, err := n.Normalize(context.Background(),
		domain.RawEventCard{Title: "Zomerfeest", Date: "ergens in juli"}, testSource())
	require.NoError(t, err)
	assert.Equal(t, domain.MethodAIFallback, event.Method)
	assert.Equal(t, "2026-07-01", event.EventDate)
}

func TestAIFallbackRejectsOutOfYear(t *testing.T) {
	ai := &stubAI{event: &domain.NormalizedEvent{
		Title:     "Oud feest",
		EventDate: "2025-07-01",
	}}
	n := normalize.New(2026, ai, logger.NewNop())

	_, err := n.Normalize(context.Background(),
		domain.RawEventCard{Title: "Oud feest", Date: "ergens"}, testSource())
	assert.ErrorIs(t, err, normalize.ErrWrongYear)
}
