package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"olx_monitor/models"
	"olx_monitor/storage"
)

// PriceStatistics summarizes a listing's recorded price changes.
type PriceStatistics struct {
	Min                float64 `json:"min"`
	Max                float64 `json:"max"`
	Average            float64 `json:"average"`
	ChangeCount        int     `json:"change_count"`
	TotalChange        float64 `json:"total_change"`
	TotalChangePercent float64 `json:"total_change_percent"`
	FirstPrice         float64 `json:"first_price"`
	LastPrice          float64 `json:"last_price"`
}

// HistoryService appends and summarizes price history.
type HistoryService struct {
	store storage.PriceHistoryStore
	now   func() time.Time
}

func NewHistoryService(store storage.PriceHistoryStore) *HistoryService {
	return &HistoryService{store: store, now: time.Now}
}

// Record appends a history row for old -> new. Moves inside the dead-band
// are dropped without error.
func (s *HistoryService) Record(ctx context.Context, old, new models.Listing) error {
	if !models.PriceChanged(old.Price, new.Price) {
		return nil
	}

	changedAt := s.now()
	if new.UpdatedAt != nil {
		changedAt = *new.UpdatedAt
	}

	err := s.store.SavePriceHistory(ctx, models.PriceHistory{
		ID:        uuid.New(),
		ListingID: old.ID,
		OldPrice:  old.Price,
		NewPrice:  new.Price,
		ChangedAt: changedAt,
	})
	if err != nil {
		return fmt.Errorf("record price change for %s: %w", old.ExternalID, err)
	}
	return nil
}

func (s *HistoryService) History(ctx context.Context, listingID uuid.UUID) ([]models.PriceHistory, error) {
	return s.store.FindPriceHistoryByListing(ctx, listingID)
}

func (s *HistoryService) Statistics(ctx context.Context, listingID uuid.UUID) (PriceStatistics, error) {
	history, err := s.store.FindPriceHistoryByListing(ctx, listingID)
	if err != nil {
		return PriceStatistics{}, fmt.Errorf("load price history: %w", err)
	}
	return ComputeStatistics(history), nil
}

// ComputeStatistics expects history ordered oldest first. Min, max and
// average run over every old and new price; the percentage is relative to
// the first old price and is 0 when that price is not positive.
func ComputeStatistics(history []models.PriceHistory) PriceStatistics {
	if len(history) == 0 {
		return PriceStatistics{}
	}

	stats := PriceStatistics{
		Min:         math.Inf(1),
		Max:         math.Inf(-1),
		ChangeCount: len(history),
		FirstPrice:  history[0].OldPrice,
		LastPrice:   history[len(history)-1].NewPrice,
	}

	var sum float64
	for _, h := range history {
		for _, p := range []float64{h.OldPrice, h.NewPrice} {
			stats.Min = math.Min(stats.Min, p)
			stats.Max = math.Max(stats.Max, p)
			sum += p
		}
	}
	stats.Average = sum / float64(2*len(history))

	stats.TotalChange = stats.LastPrice - stats.FirstPrice
	if stats.FirstPrice > 0 {
		stats.TotalChangePercent = math.Round(stats.TotalChange/stats.FirstPrice*100*100) / 100
	}

	return stats
}
