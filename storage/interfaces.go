package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"olx_monitor/models"
)

// ErrNotFound is returned by deletes that match no row. Lookups return
// (nil, nil) instead.
var ErrNotFound = errors.New("not found")

// PersistenceError wraps a failed repository call.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// ListingStore persists listings. Save upserts by external id and returns the
// stored row, keeping the identity of a row that already existed. An active
// row keeps its owning filter; an inactive one passes to the saving filter.
type ListingStore interface {
	SaveListing(ctx context.Context, l models.Listing) (models.Listing, error)
	FindListingByExternalID(ctx context.Context, externalID string) (*models.Listing, error)
	FindActiveListingsByFilter(ctx context.Context, filterID uuid.UUID) ([]models.Listing, error)
	FindAllListings(ctx context.Context) ([]models.Listing, error)
	DeleteListing(ctx context.Context, id uuid.UUID) error
}

type FilterStore interface {
	SaveFilter(ctx context.Context, f models.Filter) error
	FindFilterByID(ctx context.Context, id uuid.UUID) (*models.Filter, error)
	FindActiveFilters(ctx context.Context) ([]models.Filter, error)
	FindAllFilters(ctx context.Context) ([]models.Filter, error)
	DeleteFilter(ctx context.Context, id uuid.UUID) error
}

// PriceHistoryStore returns history oldest first.
type PriceHistoryStore interface {
	SavePriceHistory(ctx context.Context, h models.PriceHistory) error
	FindPriceHistoryByListing(ctx context.Context, listingID uuid.UUID) ([]models.PriceHistory, error)
}

// SubscriberStore treats (filter, chat) as unique; saving a pair twice is a no-op.
type SubscriberStore interface {
	SaveSubscriber(ctx context.Context, s models.Subscriber) error
	FindSubscribersByFilter(ctx context.Context, filterID uuid.UUID) ([]models.Subscriber, error)
	DeleteSubscriber(ctx context.Context, filterID uuid.UUID, chatID int64) error
}

// Repository bundles the domain stores.
type Repository interface {
	ListingStore
	FilterStore
	PriceHistoryStore
	SubscriberStore
	Close() error
}

// OpsStore keeps operational records: runs, logs and the command queue.
type OpsStore interface {
	CreateRun(run *models.MonitorRun) (int64, error)
	UpdateRun(run *models.MonitorRun) error
	Log(runID *int64, level models.LogLevel, message, filterID string) error
	RecentLogs(limit int) ([]models.MonitorLog, error)
	EnqueueCommand(cmd models.CommandType, params *models.CommandParams) (int64, error)
	GetPendingCommands() ([]models.Command, error)
	MarkCommandProcessed(id int64) error
	Close() error
}
