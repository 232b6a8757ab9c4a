package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"olx_monitor/events"
	"olx_monitor/logging"
	"olx_monitor/metrics"
	"olx_monitor/models"
	"olx_monitor/services"
	"olx_monitor/storage"
)

// EventPublisher receives every reconciled change after it is persisted.
type EventPublisher interface {
	Publish(ctx context.Context, ev events.ListingEvent) error
}

// Deps wires the orchestrator. Ops, Publisher and Metrics are optional.
type Deps struct {
	Searcher    Searcher
	Filters     storage.FilterStore
	Listings    storage.ListingStore
	Subscribers storage.SubscriberStore
	History     *services.HistoryService
	Notifier    *services.Notifier
	Ops         storage.OpsStore
	Publisher   EventPublisher
	Metrics     *metrics.Metrics
	Workers     int
}

// RunStats aggregates the outcome of one run.
type RunStats struct {
	RunID               int64 `json:"run_id,omitempty"`
	FiltersTotal        int   `json:"filters_total"`
	FiltersProcessed    int   `json:"filters_processed"`
	FiltersFailed       int   `json:"filters_failed"`
	ListingsFound       int   `json:"listings_found"`
	Created             int   `json:"created"`
	PriceChanged        int   `json:"price_changed"`
	Removed             int   `json:"removed"`
	NotificationsFailed int   `json:"notifications_failed"`
	Cancelled           bool  `json:"cancelled"`
}

// FilterResult is the outcome of the pipeline for one filter. Err is set
// when the filter failed; its checkpoint was not advanced then.
type FilterResult struct {
	FilterID            uuid.UUID
	Found               int
	Created             int
	PriceChanged        int
	Removed             int
	NotificationsFailed int
	Err                 error
}

func (s *RunStats) add(r FilterResult) {
	s.FiltersProcessed++
	if r.Err != nil {
		s.FiltersFailed++
	}
	s.ListingsFound += r.Found
	s.Created += r.Created
	s.PriceChanged += r.PriceChanged
	s.Removed += r.Removed
	s.NotificationsFailed += r.NotificationsFailed
}

type Orchestrator struct {
	deps   Deps
	paused atomic.Bool
	now    func() time.Time

	// serializes writes per external id across workers
	listingLocks sync.Map
}

func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Workers < 1 {
		deps.Workers = 1
	}
	return &Orchestrator{deps: deps, now: time.Now}
}

// RunAll processes every filter that is active when the run starts. A
// cancelled ctx lets the in-flight filters finish and starts no more.
func (o *Orchestrator) RunAll(ctx context.Context) (RunStats, error) {
	if o.paused.Load() {
		log.Println("Monitor is paused, skipping run")
		return RunStats{}, nil
	}

	filters, err := o.deps.Filters.FindActiveFilters(ctx)
	if err != nil {
		return RunStats{}, fmt.Errorf("load active filters: %w", err)
	}

	stats := RunStats{FiltersTotal: len(filters)}
	run := o.startRun(len(filters))
	if run != nil {
		stats.RunID = run.ID
	}
	runID := runIDPtr(run)

	o.log(runID, models.LogLevelInfo, fmt.Sprintf("Starting run over %d active filters", len(filters)), "")

	var mu sync.Mutex
	collect := func(r FilterResult) {
		mu.Lock()
		defer mu.Unlock()
		stats.add(r)
	}

	pipelineCtx := context.WithoutCancel(ctx)

	if o.deps.Workers == 1 {
		for _, f := range filters {
			if ctx.Err() != nil {
				stats.Cancelled = true
				break
			}
			collect(o.runFilter(pipelineCtx, runID, f))
		}
	} else {
		var g errgroup.Group
		g.SetLimit(o.deps.Workers)
		for _, f := range filters {
			if ctx.Err() != nil {
				stats.Cancelled = true
				break
			}
			g.Go(func() error {
				// g.Go blocks while the pool is full; the run may be cancelled meanwhile
				if ctx.Err() != nil {
					mu.Lock()
					stats.Cancelled = true
					mu.Unlock()
					return nil
				}
				collect(o.runFilter(pipelineCtx, runID, f))
				return nil
			})
		}
		g.Wait()
	}

	if stats.Cancelled {
		o.log(runID, models.LogLevelWarn,
			fmt.Sprintf("Run cancelled after %d of %d filters", stats.FiltersProcessed, stats.FiltersTotal), "")
	}
	o.log(runID, models.LogLevelInfo,
		fmt.Sprintf("Completed: %d filters (%d failed), %d found, %d new, %d price changes, %d removed",
			stats.FiltersProcessed, stats.FiltersFailed, stats.ListingsFound,
			stats.Created, stats.PriceChanged, stats.Removed), "")

	o.finishRun(run, stats)
	return stats, nil
}

// RunFilter runs the pipeline for a single filter, active or not.
func (o *Orchestrator) RunFilter(ctx context.Context, id uuid.UUID) (FilterResult, error) {
	f, err := o.deps.Filters.FindFilterByID(ctx, id)
	if err != nil {
		return FilterResult{}, fmt.Errorf("load filter %s: %w", id, err)
	}
	if f == nil {
		return FilterResult{}, fmt.Errorf("unknown filter: %s", id)
	}

	run := o.startRun(1)
	result := o.runFilter(context.WithoutCancel(ctx), runIDPtr(run), *f)

	var stats RunStats
	stats.FiltersTotal = 1
	stats.add(result)
	o.finishRun(run, stats)

	return result, nil
}

func (o *Orchestrator) runFilter(ctx context.Context, runID *int64, f models.Filter) (result FilterResult) {
	result.FilterID = f.ID
	filterID := f.ID.String()

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("panic: %v", r)
		}
		switch {
		case result.Err == nil:
			o.deps.Metrics.FilterOutcome("ok")
		case errors.As(result.Err, new(*SearchError)):
			o.deps.Metrics.FilterOutcome("search_error")
		default:
			o.deps.Metrics.FilterOutcome("failed")
			o.log(runID, models.LogLevelError, fmt.Sprintf("filter %s (%s): %v", filterID, f.Name, result.Err), filterID)
		}
		o.deps.Metrics.ListingEvent(string(services.EventCreated), result.Created)
		o.deps.Metrics.ListingEvent(string(services.EventPriceChanged), result.PriceChanged)
		o.deps.Metrics.ListingEvent(string(services.EventRemoved), result.Removed)
	}()

	started := time.Now()
	snapshots, err := o.deps.Searcher.Search(ctx, f)
	o.deps.Metrics.ObserveSearch(time.Since(started))
	if err != nil {
		o.log(runID, models.LogLevelError, fmt.Sprintf("filter %s (%s): %v", filterID, f.Name, err), filterID)
		result.Err = err
		return result
	}
	result.Found = len(snapshots)

	existing, err := o.deps.Listings.FindActiveListingsByFilter(ctx, f.ID)
	if err != nil {
		result.Err = fmt.Errorf("load listings: %w", err)
		return result
	}
	subscribers, err := o.deps.Subscribers.FindSubscribersByFilter(ctx, f.ID)
	if err != nil {
		result.Err = fmt.Errorf("load subscribers: %w", err)
		return result
	}

	now := o.now()
	delta := services.Reconcile(f.ID, snapshots, existing, now)

	// each change is saved and announced before the next one is touched
	announce := func(ev services.Event) {
		if o.deps.Notifier != nil {
			result.NotificationsFailed += o.deps.Notifier.Notify(ctx, ev, subscribers)
		}
		o.publish(ctx, runID, f, ev, now)
	}

	for _, l := range delta.Created {
		saved, claimed, err := o.claimListing(ctx, l)
		if err != nil {
			result.Err = err
			return result
		}
		if !claimed {
			logging.Debugf("Orchestrator: listing %s already tracked by filter %s, skipping for %s", l.ExternalID, saved.FilterID, filterID)
			continue
		}
		result.Created++
		announce(services.Event{Kind: services.EventCreated, Listing: saved})
	}

	for _, pc := range delta.PriceChanged {
		saved, err := o.savePriceChange(ctx, pc)
		if err != nil {
			result.Err = err
			return result
		}
		result.PriceChanged++
		prev := pc.Old
		announce(services.Event{Kind: services.EventPriceChanged, Listing: saved, Previous: &prev})
	}

	for _, l := range delta.Removed {
		saved, err := o.saveListing(ctx, l)
		if err != nil {
			result.Err = err
			return result
		}
		result.Removed++
		announce(services.Event{Kind: services.EventRemoved, Listing: saved})
	}

	if err := o.checkpoint(ctx, f.ID, now); err != nil {
		result.Err = err
		return result
	}

	o.log(runID, models.LogLevelInfo,
		fmt.Sprintf("filter %s (%s): %d found, %d new, %d price changes, %d removed",
			filterID, f.Name, result.Found, result.Created, result.PriceChanged, result.Removed), filterID)
	return result
}

// claimListing saves a newly seen listing unless another filter already
// holds an active row for the same ad. The owner's row is returned then.
func (o *Orchestrator) claimListing(ctx context.Context, l models.Listing) (models.Listing, bool, error) {
	unlock := o.lockListing(l.ExternalID)
	defer unlock()

	current, err := o.deps.Listings.FindListingByExternalID(ctx, l.ExternalID)
	if err != nil {
		return l, false, fmt.Errorf("load listing %s: %w", l.ExternalID, err)
	}
	if current != nil && current.IsActive && current.FilterID != l.FilterID {
		return *current, false, nil
	}

	saved, err := o.deps.Listings.SaveListing(ctx, l)
	if err != nil {
		return l, false, fmt.Errorf("save listing %s: %w", l.ExternalID, err)
	}
	return saved, true, nil
}

// savePriceChange stores the new price, then its history row. A failed
// history write leaves the new price stored without its row.
func (o *Orchestrator) savePriceChange(ctx context.Context, pc services.PriceChange) (models.Listing, error) {
	unlock := o.lockListing(pc.New.ExternalID)
	defer unlock()

	saved, err := o.deps.Listings.SaveListing(ctx, pc.New)
	if err != nil {
		return pc.New, fmt.Errorf("save listing %s: %w", pc.New.ExternalID, err)
	}
	if o.deps.History != nil {
		if err := o.deps.History.Record(ctx, pc.Old, saved); err != nil {
			return saved, err
		}
	}
	return saved, nil
}

func (o *Orchestrator) saveListing(ctx context.Context, l models.Listing) (models.Listing, error) {
	unlock := o.lockListing(l.ExternalID)
	defer unlock()

	saved, err := o.deps.Listings.SaveListing(ctx, l)
	if err != nil {
		return l, fmt.Errorf("save listing %s: %w", l.ExternalID, err)
	}
	return saved, nil
}

func (o *Orchestrator) lockListing(externalID string) func() {
	v, _ := o.listingLocks.LoadOrStore(externalID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// checkpoint reloads the filter so edits made during the run are kept.
func (o *Orchestrator) checkpoint(ctx context.Context, id uuid.UUID, at time.Time) error {
	current, err := o.deps.Filters.FindFilterByID(ctx, id)
	if err != nil {
		return fmt.Errorf("reload filter: %w", err)
	}
	if current == nil {
		return nil
	}
	if err := o.deps.Filters.SaveFilter(ctx, current.WithLastChecked(at)); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, runID *int64, f models.Filter, ev services.Event, at time.Time) {
	if o.deps.Publisher == nil {
		return
	}

	msg := events.ListingEvent{
		Kind:       string(ev.Kind),
		FilterID:   f.ID.String(),
		ListingID:  ev.Listing.ID.String(),
		ExternalID: ev.Listing.ExternalID,
		Title:      ev.Listing.Title,
		URL:        ev.Listing.URL,
		Price:      ev.Listing.Price,
		Currency:   ev.Listing.Currency,
		OccurredAt: at,
	}
	if ev.Previous != nil {
		prev := ev.Previous.Price
		msg.PreviousPrice = &prev
	}

	if err := o.deps.Publisher.Publish(ctx, msg); err != nil {
		o.log(runID, models.LogLevelWarn, fmt.Sprintf("publish %s for %s: %v", ev.Kind, ev.Listing.ExternalID, err), f.ID.String())
	}
}

func (o *Orchestrator) startRun(filters int) *models.MonitorRun {
	if o.deps.Ops == nil {
		return nil
	}

	run := &models.MonitorRun{
		StartedAt:    time.Now(),
		Status:       models.RunStatusRunning,
		FiltersTotal: filters,
	}
	id, err := o.deps.Ops.CreateRun(run)
	if err != nil {
		log.Printf("Warning: failed to create run record: %v", err)
		return nil
	}
	run.ID = id
	return run
}

func (o *Orchestrator) finishRun(run *models.MonitorRun, stats RunStats) {
	finished := time.Now()
	o.deps.Metrics.RunFinished(finished)

	if run == nil {
		return
	}

	run.FinishedAt = &finished
	run.Status = models.RunStatusCompleted
	if stats.Cancelled {
		run.Status = models.RunStatusCancelled
	}
	run.FiltersTotal = stats.FiltersTotal
	run.FiltersFailed = stats.FiltersFailed
	run.ListingsFound = stats.ListingsFound
	run.ListingsNew = stats.Created
	run.PriceChanges = stats.PriceChanged
	run.ListingsRemoved = stats.Removed

	if err := o.deps.Ops.UpdateRun(run); err != nil {
		log.Printf("Warning: failed to update run %d: %v", run.ID, err)
	}
}

func (o *Orchestrator) HandleCommand(ctx context.Context, cmd *models.Command) error {
	params, err := storage.ParseCommandParams(cmd)
	if err != nil {
		return err
	}

	switch cmd.Command {
	case models.CmdRunNow:
		_, err := o.RunAll(ctx)
		return err
	case models.CmdRunFilter:
		if params.FilterID == "" {
			_, err := o.RunAll(ctx)
			return err
		}
		id, err := uuid.Parse(params.FilterID)
		if err != nil {
			return fmt.Errorf("bad filter id %q: %w", params.FilterID, err)
		}
		_, err = o.RunFilter(ctx, id)
		return err
	case models.CmdPause:
		o.paused.Store(true)
		log.Println("Monitor paused")
	case models.CmdResume:
		o.paused.Store(false)
		log.Println("Monitor resumed")
	default:
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}

	return nil
}

func (o *Orchestrator) IsPaused() bool {
	return o.paused.Load()
}

func (o *Orchestrator) MarshalStatus() ([]byte, error) {
	return json.Marshal(map[string]any{
		"paused":  o.paused.Load(),
		"workers": o.deps.Workers,
	})
}

func (o *Orchestrator) log(runID *int64, level models.LogLevel, message, filterID string) {
	log.Printf("[%s] %s", level, message)
	if o.deps.Ops != nil {
		o.deps.Ops.Log(runID, level, message, filterID)
	}
}

func runIDPtr(run *models.MonitorRun) *int64 {
	if run == nil {
		return nil
	}
	return &run.ID
}
