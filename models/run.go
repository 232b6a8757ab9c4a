package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCancelled RunStatus = "cancelled"
)

// MonitorRun records one pass over the active filters.
type MonitorRun struct {
	ID              int64      `json:"id" db:"id"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	FinishedAt      *time.Time `json:"finished_at" db:"finished_at"`
	Status          RunStatus  `json:"status" db:"status"`
	FiltersTotal    int        `json:"filters_total" db:"filters_total"`
	FiltersFailed   int        `json:"filters_failed" db:"filters_failed"`
	ListingsFound   int        `json:"listings_found" db:"listings_found"`
	ListingsNew     int        `json:"listings_new" db:"listings_new"`
	PriceChanges    int        `json:"price_changes" db:"price_changes"`
	ListingsRemoved int        `json:"listings_removed" db:"listings_removed"`
}
