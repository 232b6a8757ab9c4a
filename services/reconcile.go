package services

import (
	"time"

	"github.com/google/uuid"
	"olx_monitor/models"
)

// PriceChange pairs a stored listing with its repriced successor.
type PriceChange struct {
	Old models.Listing
	New models.Listing
}

// Delta is what a fetch changed for one filter.
type Delta struct {
	Created      []models.Listing
	PriceChanged []PriceChange
	Removed      []models.Listing
}

func (d Delta) Empty() bool {
	return len(d.Created) == 0 && len(d.PriceChanged) == 0 && len(d.Removed) == 0
}

// Reconcile compares a fetch against the filter's active listings. Created
// and PriceChanged follow the fetch order, Removed follows existing. A
// repeated external id in fetched counts once, at its first position.
func Reconcile(filterID uuid.UUID, fetched []models.Snapshot, existing []models.Listing, now time.Time) Delta {
	var delta Delta

	byExternal := make(map[string]models.Listing, len(existing))
	for _, l := range existing {
		byExternal[l.ExternalID] = l
	}

	seen := make(map[string]bool, len(fetched))
	for _, snap := range fetched {
		if seen[snap.ExternalID] {
			continue
		}
		seen[snap.ExternalID] = true

		old, ok := byExternal[snap.ExternalID]
		if !ok {
			delta.Created = append(delta.Created, models.NewListingFromSnapshot(filterID, snap, now))
			continue
		}
		if models.PriceChanged(old.Price, snap.Price) {
			delta.PriceChanged = append(delta.PriceChanged, PriceChange{
				Old: old,
				New: old.WithPrice(snap.Price, now),
			})
		}
	}

	for _, l := range existing {
		if !seen[l.ExternalID] {
			delta.Removed = append(delta.Removed, l.MarkInactive(now))
		}
	}

	return delta
}
