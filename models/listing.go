package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// PriceDeadBand is the smallest price delta treated as a real change.
const PriceDeadBand = 0.01

// PriceChanged reports whether two prices differ by more than the dead-band.
func PriceChanged(old, new float64) bool {
	return math.Abs(old-new) > PriceDeadBand
}

// Snapshot is a listing as returned by one search pass, before any
// persistence decision.
type Snapshot struct {
	ExternalID  string    `json:"external_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency"`
	URL         string    `json:"url"`
	Location    string    `json:"location"`
	Images      []string  `json:"images"`
	PublishedAt time.Time `json:"published_at"`
	CreatedTime time.Time `json:"created_time"`
}

// Listing is one observed ad owned by a filter.
type Listing struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	ExternalID  string     `json:"external_id" db:"external_id"`
	FilterID    uuid.UUID  `json:"filter_id" db:"filter_id"`
	Title       string     `json:"title" db:"title"`
	Description string     `json:"description" db:"description"`
	Price       float64    `json:"price" db:"price"`
	Currency    string     `json:"currency" db:"currency"`
	URL         string     `json:"url" db:"url"`
	Location    string     `json:"location" db:"location"`
	Images      []string   `json:"images" db:"images"`
	PublishedAt time.Time  `json:"published_at" db:"published_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at" db:"updated_at"`
	IsActive    bool       `json:"is_active" db:"is_active"`
}

// NewListingFromSnapshot creates an active listing owned by filterID.
func NewListingFromSnapshot(filterID uuid.UUID, s Snapshot, now time.Time) Listing {
	images := make([]string, len(s.Images))
	copy(images, s.Images)

	return Listing{
		ID:          uuid.New(),
		ExternalID:  s.ExternalID,
		FilterID:    filterID,
		Title:       s.Title,
		Description: s.Description,
		Price:       s.Price,
		Currency:    s.Currency,
		URL:         s.URL,
		Location:    s.Location,
		Images:      images,
		PublishedAt: s.PublishedAt,
		CreatedAt:   now,
		IsActive:    true,
	}
}

// WithPrice returns a copy carrying the new price.
func (l Listing) WithPrice(price float64, now time.Time) Listing {
	l.Price = price
	l.UpdatedAt = &now
	return l
}

// MarkInactive returns a deactivated copy.
func (l Listing) MarkInactive(now time.Time) Listing {
	l.IsActive = false
	l.UpdatedAt = &now
	return l
}
