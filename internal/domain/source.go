package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// CircuitBreakerThreshold is the number of consecutive errors after which a
// source goes into a 24h cool-down before it is eligible again.
const CircuitBreakerThreshold = 3

// CircuitBreakerCooldown is the minimum time a tripped source sits out.
const CircuitBreakerCooldown = 24 * time.Hour

// Source represents a web location that publishes event listings.
type Source struct {
	ID                  string           `db:"id" json:"id"`
	Name                string           `db:"name" json:"name"`
	URL                 string           `db:"url" json:"url"`
	Tier                SourceTier       `db:"tier" json:"tier"`
	Enabled             bool             `db:"enabled" json:"enabled"`
	AutoDisabled        bool             `db:"auto_disabled" json:"auto_disabled"`
	FetchStrategy       FetchStrategy    `db:"fetch_strategy" json:"fetch_strategy"`
	ExtractionConfig    ExtractionConfig `db:"extraction_config" json:"extraction_config"`
	DefaultLat          *float64         `db:"default_lat" json:"default_lat,omitempty"`
	DefaultLng          *float64         `db:"default_lng" json:"default_lng,omitempty"`
	LocationName        string           `db:"location_name" json:"location_name"`
	Language            string           `db:"language" json:"language"`
	VolatilityScore     float64          `db:"volatility_score" json:"volatility_score"`
	ConsecutiveErrors   int              `db:"consecutive_errors" json:"consecutive_errors"`
	ConsecutiveFailures int              `db:"consecutive_failures" json:"consecutive_failures"`
	LastScrapedAt       *time.Time       `db:"last_scraped_at" json:"last_scraped_at,omitempty"`
	NextScrapeAt        *time.Time       `db:"next_scrape_at" json:"next_scrape_at,omitempty"`
	LastError           *string          `db:"last_error" json:"last_error,omitempty"`
	TotalEventsScraped  int              `db:"total_events_scraped" json:"total_events_scraped"`
	Quarantined         bool             `db:"quarantined" json:"quarantined"`
	ConfigVersion       int              `db:"config_version" json:"config_version"`
	CreatedAt           time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time        `db:"updated_at" json:"updated_at"`
}

// ExtractionConfig holds the per-source parsing configuration, stored as
// JSONB. Selectors are CSS selectors for event cards on the listing page.
type ExtractionConfig struct {
	Selectors       []string          `json:"selectors,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	RateLimitMs     int               `json:"rate_limit_ms,omitempty"`
	PreferredMethod ParsingMethod     `json:"preferred_method,omitempty"`
}

// Scan implements the sql.Scanner interface.
func (c *ExtractionConfig) Scan(value any) error {
	if value == nil {
		*c = ExtractionConfig{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return errors.New("unsupported type for ExtractionConfig")
	}

	if len(data) == 0 {
		*c = ExtractionConfig{}
		return nil
	}

	return json.Unmarshal(data, c)
}

// Value implements the driver.Valuer interface.
func (c ExtractionConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Strictness controls how partial cards are treated for a tier.
type Strictness string

const (
	StrictnessHigh   Strictness = "high"
	StrictnessMedium Strictness = "medium"
	StrictnessLow    Strictness = "low"
)

// TierPolicy is the per-tier scraping policy.
type TierPolicy struct {
	DeepScrape bool
	Strictness Strictness
	FeedGuess  bool
	RunEvery   time.Duration
}

// tierPolicies is the fixed policy table per tier.
var tierPolicies = map[SourceTier]TierPolicy{
	TierAggregator: {DeepScrape: false, Strictness: StrictnessHigh, FeedGuess: false, RunEvery: 6 * time.Hour},
	TierVenue:      {DeepScrape: true, Strictness: StrictnessMedium, FeedGuess: true, RunEvery: 24 * time.Hour},
	TierGeneral:    {DeepScrape: true, Strictness: StrictnessLow, FeedGuess: false, RunEvery: 168 * time.Hour},
}

// Policy returns the scraping policy for the source's tier. Unknown tiers
// get the general policy.
func (s *Source) Policy() TierPolicy {
	if p, ok := tierPolicies[s.Tier]; ok {
		return p
	}
	return tierPolicies[TierGeneral]
}

// CircuitOpen reports whether the source's circuit breaker is tripped and
// still cooling down as of now.
func (s *Source) CircuitOpen(now time.Time) bool {
	if s.ConsecutiveErrors < CircuitBreakerThreshold {
		return false
	}
	if s.LastScrapedAt == nil {
		return false
	}
	return now.Sub(*s.LastScrapedAt) < CircuitBreakerCooldown
}

// RateLimit returns the source's inter-request delay, defaulting to 300ms.
func (s *Source) RateLimit() time.Duration {
	if s.ExtractionConfig.RateLimitMs > 0 {
		return time.Duration(s.ExtractionConfig.RateLimitMs) * time.Millisecond
	}
	return 300 * time.Millisecond
}
