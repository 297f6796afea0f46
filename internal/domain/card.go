package domain

// RawEventCard is a single event candidate extracted from a listing page
// before normalization. Only the date is mandatory at extraction time;
// normalization rejects cards without a title.
type RawEventCard struct {
	Title          string `json:"title,omitempty"`
	Date           string `json:"date"`
	Location       string `json:"location,omitempty"`
	Description    string `json:"description,omitempty"`
	RawHTML        string `json:"raw_html"`
	ImageURL       string `json:"image_url,omitempty"`
	DetailURL      string `json:"detail_url,omitempty"`
	CategoryHint   string `json:"category_hint,omitempty"`
	DetailPageTime string `json:"detail_page_time,omitempty"`
}

// Completeness scores how many of the card's optional fields are filled,
// 0..1. Used for aggregator strictness and staging quality scores.
func (c *RawEventCard) Completeness() float64 {
	fields := []string{c.Title, c.Date, c.Location, c.Description, c.ImageURL, c.DetailURL}
	filled := 0
	for _, f := range fields {
		if f != "" {
			filled++
		}
	}
	return float64(filled) / float64(len(fields))
}

// NormalizedEvent is the output of normalization, ready for dedup and
// insertion.
type NormalizedEvent struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Category    Category      `json:"category"`
	VenueName   string        `json:"venue_name"`
	Lat         float64       `json:"lat"`
	Lng         float64       `json:"lng"`
	EventDate   string        `json:"event_date"` // ISO YYYY-MM-DD
	EventTime   string        `json:"event_time"` // HH:MM or "TBD"
	ImageURL    string        `json:"image_url,omitempty"`
	SourceID    string        `json:"source_id"`
	Method      ParsingMethod `json:"method"`
}

// ContentHash returns the cross-source identity hash for the event.
func (e *NormalizedEvent) ContentHash() string {
	return ContentHash(e.Title, e.EventDate)
}

// Fingerprint returns the per-source identity hash for the event.
func (e *NormalizedEvent) Fingerprint() string {
	return Fingerprint(e.Title, e.EventDate, e.SourceID)
}

// CanonicalText is the text embedded for semantic dedup.
func (e *NormalizedEvent) CanonicalText() string {
	return e.Title + " " + e.Description + " " + e.VenueName
}
