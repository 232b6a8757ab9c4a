package scraper

import (
	"context"

	"olx_monitor/models"
)

// Searcher fetches the complete current result set of a filter.
type Searcher interface {
	Search(ctx context.Context, filter models.Filter) ([]models.Snapshot, error)
}
