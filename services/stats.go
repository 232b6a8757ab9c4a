package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"olx_monitor/models"
	"olx_monitor/storage"
)

const recentListingsLimit = 10

type PriceSummary struct {
	Min    float64 `json:"min_price"`
	Max    float64 `json:"max_price"`
	Avg    float64 `json:"avg_price"`
	Median float64 `json:"median_price"`
}

type CategorySummary struct {
	Count    int     `json:"count"`
	AvgPrice float64 `json:"avg_price"`
}

// DashboardStats is an overview of everything the monitor has stored.
type DashboardStats struct {
	TotalListings   int                        `json:"total_listings"`
	ActiveListings  int                        `json:"active_listings"`
	RemovedListings int                        `json:"removed_listings"`
	ActiveFilters   int                        `json:"total_filters"`
	Prices          PriceSummary               `json:"price_stats"`
	Categories      map[string]CategorySummary `json:"category_stats"`
	Recent          []models.Listing           `json:"recent_listings"`
}

type StatsService struct {
	listings storage.ListingStore
	filters  storage.FilterStore
}

func NewStatsService(listings storage.ListingStore, filters storage.FilterStore) *StatsService {
	return &StatsService{listings: listings, filters: filters}
}

// Dashboard computes price figures over active listings only. Recent holds
// the newest listings in store order, active or not.
func (s *StatsService) Dashboard(ctx context.Context) (DashboardStats, error) {
	all, err := s.listings.FindAllListings(ctx)
	if err != nil {
		return DashboardStats{}, fmt.Errorf("load listings: %w", err)
	}
	filters, err := s.filters.FindAllFilters(ctx)
	if err != nil {
		return DashboardStats{}, fmt.Errorf("load filters: %w", err)
	}

	categoryOf := make(map[uuid.UUID]string, len(filters))
	activeFilters := 0
	for _, f := range filters {
		categoryOf[f.ID] = f.Category
		if f.IsActive {
			activeFilters++
		}
	}

	var active []models.Listing
	for _, l := range all {
		if l.IsActive {
			active = append(active, l)
		}
	}

	recent := all
	if len(recent) > recentListingsLimit {
		recent = recent[:recentListingsLimit]
	}

	return DashboardStats{
		TotalListings:   len(all),
		ActiveListings:  len(active),
		RemovedListings: len(all) - len(active),
		ActiveFilters:   activeFilters,
		Prices:          summarizePrices(active),
		Categories:      summarizeCategories(active, categoryOf),
		Recent:          recent,
	}, nil
}

func summarizePrices(listings []models.Listing) PriceSummary {
	if len(listings) == 0 {
		return PriceSummary{}
	}

	prices := make([]float64, len(listings))
	var sum float64
	for i, l := range listings {
		prices[i] = l.Price
		sum += l.Price
	}
	sort.Float64s(prices)

	n := len(prices)
	median := prices[n/2]
	if n%2 == 0 {
		median = (prices[n/2-1] + prices[n/2]) / 2
	}

	return PriceSummary{
		Min:    prices[0],
		Max:    prices[n-1],
		Avg:    sum / float64(n),
		Median: median,
	}
}

func summarizeCategories(listings []models.Listing, categoryOf map[uuid.UUID]string) map[string]CategorySummary {
	totals := make(map[string]float64)
	out := make(map[string]CategorySummary)

	for _, l := range listings {
		category, ok := categoryOf[l.FilterID]
		if !ok {
			category = "unknown"
		}
		c := out[category]
		c.Count++
		totals[category] += l.Price
		c.AvgPrice = totals[category] / float64(c.Count)
		out[category] = c
	}
	return out
}
