package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"olx_monitor/models"
)

// MemoryStore keeps every repository in process. Listings are keyed by
// external id, mirroring the unique index of the Postgres schema.
type MemoryStore struct {
	mu          sync.RWMutex
	filters     map[uuid.UUID]models.Filter
	listings    map[string]models.Listing
	history     []models.PriceHistory
	subscribers map[uuid.UUID][]models.Subscriber
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		filters:     make(map[uuid.UUID]models.Filter),
		listings:    make(map[string]models.Listing),
		subscribers: make(map[uuid.UUID][]models.Subscriber),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) SaveListing(ctx context.Context, l models.Listing) (models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.listings[l.ExternalID]; ok {
		l.ID = existing.ID
		l.CreatedAt = existing.CreatedAt
		if existing.IsActive {
			l.FilterID = existing.FilterID
		}
	}
	l.Images = append([]string(nil), l.Images...)
	s.listings[l.ExternalID] = l
	return l, nil
}

func (s *MemoryStore) FindListingByExternalID(ctx context.Context, externalID string) (*models.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.listings[externalID]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (s *MemoryStore) FindActiveListingsByFilter(ctx context.Context, filterID uuid.UUID) ([]models.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Listing
	for _, l := range s.listings {
		if l.FilterID == filterID && l.IsActive {
			out = append(out, l)
		}
	}
	sortListings(out)
	return out, nil
}

func (s *MemoryStore) FindAllListings(ctx context.Context) ([]models.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Listing, 0, len(s.listings))
	for _, l := range s.listings {
		out = append(out, l)
	}
	sortListings(out)
	return out, nil
}

func (s *MemoryStore) DeleteListing(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ext, l := range s.listings {
		if l.ID == id {
			delete(s.listings, ext)
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) SaveFilter(ctx context.Context, f models.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	s.filters[f.ID] = f
	return nil
}

func (s *MemoryStore) FindFilterByID(ctx context.Context, id uuid.UUID) (*models.Filter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.filters[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (s *MemoryStore) FindActiveFilters(ctx context.Context) ([]models.Filter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Filter
	for _, f := range s.filters {
		if f.IsActive {
			out = append(out, f)
		}
	}
	sortFilters(out)
	return out, nil
}

func (s *MemoryStore) FindAllFilters(ctx context.Context) ([]models.Filter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Filter, 0, len(s.filters))
	for _, f := range s.filters {
		out = append(out, f)
	}
	sortFilters(out)
	return out, nil
}

// DeleteFilter cascades to the filter's listings, their history and its
// subscribers, like the foreign keys of the SQL schema.
func (s *MemoryStore) DeleteFilter(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.filters[id]; !ok {
		return ErrNotFound
	}
	delete(s.filters, id)
	delete(s.subscribers, id)

	removed := make(map[uuid.UUID]bool)
	for ext, l := range s.listings {
		if l.FilterID == id {
			removed[l.ID] = true
			delete(s.listings, ext)
		}
	}
	kept := s.history[:0]
	for _, h := range s.history {
		if !removed[h.ListingID] {
			kept = append(kept, h)
		}
	}
	s.history = kept
	return nil
}

func (s *MemoryStore) SavePriceHistory(ctx context.Context, h models.PriceHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, h)
	return nil
}

func (s *MemoryStore) FindPriceHistoryByListing(ctx context.Context, listingID uuid.UUID) ([]models.PriceHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.PriceHistory
	for _, h := range s.history {
		if h.ListingID == listingID {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ChangedAt.Before(out[j].ChangedAt)
	})
	return out, nil
}

func (s *MemoryStore) SaveSubscriber(ctx context.Context, sub models.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.subscribers[sub.FilterID] {
		if existing.ChatID == sub.ChatID {
			return nil
		}
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	s.subscribers[sub.FilterID] = append(s.subscribers[sub.FilterID], sub)
	return nil
}

func (s *MemoryStore) FindSubscribersByFilter(ctx context.Context, filterID uuid.UUID) ([]models.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.Subscriber(nil), s.subscribers[filterID]...), nil
}

func (s *MemoryStore) DeleteSubscriber(ctx context.Context, filterID uuid.UUID, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[filterID]
	for i, sub := range subs {
		if sub.ChatID == chatID {
			s.subscribers[filterID] = append(subs[:i:i], subs[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func sortListings(ls []models.Listing) {
	sort.Slice(ls, func(i, j int) bool {
		if !ls[i].CreatedAt.Equal(ls[j].CreatedAt) {
			return ls[i].CreatedAt.After(ls[j].CreatedAt)
		}
		return ls[i].ExternalID < ls[j].ExternalID
	})
}

func sortFilters(fs []models.Filter) {
	sort.Slice(fs, func(i, j int) bool {
		if !fs[i].CreatedAt.Equal(fs[j].CreatedAt) {
			return fs[i].CreatedAt.Before(fs[j].CreatedAt)
		}
		return fs[i].Name < fs[j].Name
	})
}
