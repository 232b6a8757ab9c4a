package models

import (
	"time"

	"github.com/google/uuid"
)

// PriceHistory is an immutable record of one price change.
type PriceHistory struct {
	ID        uuid.UUID `json:"id" db:"id"`
	ListingID uuid.UUID `json:"listing_id" db:"listing_id"`
	OldPrice  float64   `json:"old_price" db:"old_price"`
	NewPrice  float64   `json:"new_price" db:"new_price"`
	ChangedAt time.Time `json:"changed_at" db:"changed_at"`
}

// Subscriber pairs a filter with a notification channel (a Telegram chat).
type Subscriber struct {
	FilterID  uuid.UUID `json:"filter_id" db:"filter_id"`
	ChatID    int64     `json:"chat_id" db:"chat_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
