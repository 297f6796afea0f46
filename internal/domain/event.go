package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/pgvector/pgvector-go"
)

// Category is the closed set of event categories.
type Category string

const (
	CategoryActive        Category = "active"
	CategoryGaming        Category = "gaming"
	CategoryEntertainment Category = "entertainment"
	CategorySocial        Category = "social"
	CategoryFamily        Category = "family"
	CategoryOutdoors      Category = "outdoors"
	CategoryMusic         Category = "music"
	CategoryWorkshops     Category = "workshops"
	CategoryFoodie        Category = "foodie"
	CategoryCommunity     Category = "community"
)

// Categories lists every valid category.
var Categories = []Category{
	CategoryActive, CategoryGaming, CategoryEntertainment, CategorySocial,
	CategoryFamily, CategoryOutdoors, CategoryMusic, CategoryWorkshops,
	CategoryFoodie, CategoryCommunity,
}

// ValidCategory reports whether c is in the closed category set.
func ValidCategory(c Category) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Event is a persisted, normalized event row.
type Event struct {
	ID               string           `db:"id" json:"id"`
	Title            string           `db:"title" json:"title"`
	Description      string           `db:"description" json:"description"`
	Category         Category         `db:"category" json:"category"`
	EventType        EventType        `db:"event_type" json:"event_type"`
	VenueName        string           `db:"venue_name" json:"venue_name"`
	Lat              float64          `db:"lat" json:"lat"`
	Lng              float64          `db:"lng" json:"lng"`
	EventDate        time.Time        `db:"event_date" json:"event_date"`
	EventTime        string           `db:"event_time" json:"event_time"`
	ImageURL         *string          `db:"image_url" json:"image_url,omitempty"`
	SourceID         string           `db:"source_id" json:"source_id"`
	EventFingerprint string           `db:"event_fingerprint" json:"event_fingerprint"`
	ContentHash      string           `db:"content_hash" json:"content_hash"`
	Embedding        *pgvector.Vector `db:"embedding" json:"-"`
	EmbeddingModel   *string          `db:"embedding_model" json:"embedding_model,omitempty"`
	Status           string           `db:"status" json:"status"`
	SocialFive       JSONBMap         `db:"social_five" json:"social_five,omitempty"`
	QualityScore     float64          `db:"quality_score" json:"quality_score"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
}

// ContentHash computes the cross-source identity hash of an event:
// sha256(title|event_date).
func ContentHash(title, eventDate string) string {
	sum := sha256.Sum256([]byte(title + "|" + eventDate))
	return hex.EncodeToString(sum[:])
}

// Fingerprint computes the per-source identity hash of an event:
// sha256(title|event_date|source_id).
func Fingerprint(title, eventDate, sourceID string) string {
	sum := sha256.Sum256([]byte(title + "|" + eventDate + "|" + sourceID))
	return hex.EncodeToString(sum[:])
}
