package scraper

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"olx_monitor/events"
	"olx_monitor/models"
	"olx_monitor/services"
	"olx_monitor/storage"
)

var orchNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type fakeSearcher struct {
	mu      sync.Mutex
	results map[uuid.UUID][]models.Snapshot
	errs    map[uuid.UUID]error
	calls   []uuid.UUID
	onCall  func(models.Filter)
}

func newFakeSearcher() *fakeSearcher {
	return &fakeSearcher{
		results: make(map[uuid.UUID][]models.Snapshot),
		errs:    make(map[uuid.UUID]error),
	}
}

func (s *fakeSearcher) set(id uuid.UUID, snaps ...models.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[id] = snaps
}

func (s *fakeSearcher) Search(ctx context.Context, f models.Filter) ([]models.Snapshot, error) {
	s.mu.Lock()
	s.calls = append(s.calls, f.ID)
	snaps, err, hook := s.results[f.ID], s.errs[f.ID], s.onCall
	s.mu.Unlock()

	if hook != nil {
		hook(f)
	}
	return snaps, err
}

func (s *fakeSearcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type sentMessage struct {
	chatID int64
	text   string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (r *recordingSender) record(chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{chatID, text})
	return nil
}

func (r *recordingSender) SendMessage(ctx context.Context, chatID int64, text string) error {
	return r.record(chatID, text)
}

func (r *recordingSender) SendPhoto(ctx context.Context, chatID int64, url, caption string) error {
	return r.record(chatID, caption)
}

func (r *recordingSender) SendMediaGroup(ctx context.Context, chatID int64, urls []string, caption string) error {
	return r.record(chatID, caption)
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.ListingEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, ev events.ListingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type orchFixture struct {
	store    *storage.MemoryStore
	searcher *fakeSearcher
	sender   *recordingSender
	orch     *Orchestrator
}

func newOrchFixture(t *testing.T, mutate func(*Deps)) *orchFixture {
	t.Helper()
	store := storage.NewMemoryStore()
	searcher := newFakeSearcher()
	sender := &recordingSender{}

	deps := Deps{
		Searcher:    searcher,
		Filters:     store,
		Listings:    store,
		Subscribers: store,
		History:     services.NewHistoryService(store),
		Notifier:    services.NewNotifier(sender, nil, nil),
	}
	if mutate != nil {
		mutate(&deps)
	}

	o := NewOrchestrator(deps)
	o.now = func() time.Time { return orchNow }
	return &orchFixture{store: store, searcher: searcher, sender: sender, orch: o}
}

func (fx *orchFixture) addFilter(t *testing.T, name string, active bool, order int, chats ...int64) models.Filter {
	t.Helper()
	ctx := context.Background()
	f := models.Filter{
		ID:        uuid.New(),
		Name:      name,
		IsActive:  active,
		CreatedAt: orchNow.Add(time.Duration(order) * time.Minute),
	}
	require.NoError(t, fx.store.SaveFilter(ctx, f))
	for _, chat := range chats {
		require.NoError(t, fx.store.SaveSubscriber(ctx, models.Subscriber{FilterID: f.ID, ChatID: chat}))
	}
	return f
}

func (fx *orchFixture) reload(t *testing.T, id uuid.UUID) models.Filter {
	t.Helper()
	f, err := fx.store.FindFilterByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, f)
	return *f
}

func offer(id string, price float64) models.Snapshot {
	return models.Snapshot{ExternalID: id, Title: "Квартира " + id, Price: price, Currency: "UAH", URL: "https://www.olx.ua/d/" + id}
}

func TestRunAll_NewListings(t *testing.T) {
	fx := newOrchFixture(t, nil)
	f := fx.addFilter(t, "flats", true, 0, 1001, 1002)
	fx.searcher.set(f.ID, offer("1", 100), offer("2", 200))

	stats, err := fx.orch.RunAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.FiltersProcessed)
	assert.Equal(t, 2, stats.ListingsFound)
	assert.Equal(t, 2, stats.Created)
	assert.Zero(t, stats.FiltersFailed)
	assert.Equal(t, 4, fx.sender.count())

	listings, err := fx.store.FindActiveListingsByFilter(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Len(t, listings, 2)

	got := fx.reload(t, f.ID)
	require.NotNil(t, got.LastChecked)
	assert.Equal(t, orchNow, *got.LastChecked)
}

func TestRunAll_RerunIsIdempotent(t *testing.T) {
	fx := newOrchFixture(t, nil)
	f := fx.addFilter(t, "flats", true, 0, 1001)
	fx.searcher.set(f.ID, offer("1", 100), offer("2", 200))

	_, err := fx.orch.RunAll(context.Background())
	require.NoError(t, err)
	sent := fx.sender.count()

	stats, err := fx.orch.RunAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Created)
	assert.Zero(t, stats.PriceChanged)
	assert.Zero(t, stats.Removed)
	assert.Equal(t, sent, fx.sender.count())

	all, err := fx.store.FindAllListings(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRunAll_PriceChangeAndRemoval(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	fx := newOrchFixture(t, func(d *Deps) { d.Publisher = pub })
	f := fx.addFilter(t, "flats", true, 0, 1001)

	fx.searcher.set(f.ID, offer("1", 100), offer("2", 200))
	_, err := fx.orch.RunAll(ctx)
	require.NoError(t, err)

	fx.searcher.set(f.ID, offer("1", 150))
	stats, err := fx.orch.RunAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PriceChanged)
	assert.Equal(t, 1, stats.Removed)

	repriced, err := fx.store.FindListingByExternalID(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, repriced)
	assert.Equal(t, 150.0, repriced.Price)

	history, err := fx.store.FindPriceHistoryByListing(ctx, repriced.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 100.0, history[0].OldPrice)
	assert.Equal(t, 150.0, history[0].NewPrice)

	gone, err := fx.store.FindListingByExternalID(ctx, "2")
	require.NoError(t, err)
	require.NotNil(t, gone)
	assert.False(t, gone.IsActive)

	require.Len(t, pub.events, 4)
	assert.Equal(t, "price_changed", pub.events[2].Kind)
	require.NotNil(t, pub.events[2].PreviousPrice)
	assert.Equal(t, 100.0, *pub.events[2].PreviousPrice)
	assert.Equal(t, "removed", pub.events[3].Kind)
}

func TestRunAll_SearchFailureIsIsolated(t *testing.T) {
	fx := newOrchFixture(t, nil)
	broken := fx.addFilter(t, "broken", true, 0)
	healthy := fx.addFilter(t, "healthy", true, 1)

	fx.searcher.errs[broken.ID] = &SearchError{Op: "status", Filter: "broken", Err: errors.New("status 503")}
	fx.searcher.set(healthy.ID, offer("9", 10))

	stats, err := fx.orch.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FiltersProcessed)
	assert.Equal(t, 1, stats.FiltersFailed)
	assert.Equal(t, 1, stats.Created)

	assert.Nil(t, fx.reload(t, broken.ID).LastChecked)
	assert.NotNil(t, fx.reload(t, healthy.ID).LastChecked)
}

func TestRunAll_SkipsInactiveFilters(t *testing.T) {
	fx := newOrchFixture(t, nil)
	fx.addFilter(t, "off", false, 0)
	on := fx.addFilter(t, "on", true, 1)

	stats, err := fx.orch.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FiltersTotal)
	assert.Equal(t, []uuid.UUID{on.ID}, fx.searcher.calls)
}

func TestRunAll_CancelFinishesInFlightFilter(t *testing.T) {
	fx := newOrchFixture(t, nil)
	first := fx.addFilter(t, "first", true, 0)
	second := fx.addFilter(t, "second", true, 1)
	fx.searcher.set(first.ID, offer("1", 100))
	fx.searcher.set(second.ID, offer("2", 100))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.searcher.onCall = func(models.Filter) { cancel() }

	stats, err := fx.orch.RunAll(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Cancelled)
	assert.Equal(t, 1, stats.FiltersProcessed)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 1, fx.searcher.callCount())

	assert.NotNil(t, fx.reload(t, first.ID).LastChecked)
	assert.Nil(t, fx.reload(t, second.ID).LastChecked)
}

func TestRunAll_ParallelWorkers(t *testing.T) {
	fx := newOrchFixture(t, func(d *Deps) { d.Workers = 3 })
	for i := 0; i < 5; i++ {
		f := fx.addFilter(t, "f", true, i, int64(i+1))
		fx.searcher.set(f.ID, offer(f.ID.String(), float64(100+i)))
	}

	stats, err := fx.orch.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.FiltersProcessed)
	assert.Equal(t, 5, stats.Created)
	assert.Equal(t, 5, fx.sender.count())
}

func TestRunAll_CancelWhileWorkersBusyStartsNoMore(t *testing.T) {
	fx := newOrchFixture(t, func(d *Deps) { d.Workers = 2 })
	var filters []models.Filter
	for i := 0; i < 4; i++ {
		f := fx.addFilter(t, "f", true, i)
		fx.searcher.set(f.ID, offer(f.ID.String(), 100))
		filters = append(filters, f)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// both workers are busy when the run is cancelled
	var started atomic.Int32
	var busy sync.WaitGroup
	busy.Add(2)
	fx.searcher.onCall = func(models.Filter) {
		if started.Add(1) > 2 {
			return
		}
		busy.Done()
		busy.Wait()
		cancel()
		time.Sleep(20 * time.Millisecond)
	}

	stats, err := fx.orch.RunAll(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Cancelled)
	assert.Equal(t, 2, fx.searcher.callCount())
	assert.Equal(t, 2, stats.FiltersProcessed)

	for _, f := range filters[2:] {
		assert.Nil(t, fx.reload(t, f.ID).LastChecked)
	}
}

func TestRunAll_RecordsRun(t *testing.T) {
	ops, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "ops.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ops.Close() })

	fx := newOrchFixture(t, func(d *Deps) { d.Ops = ops })
	f := fx.addFilter(t, "flats", true, 0)
	fx.searcher.set(f.ID, offer("1", 100))

	stats, err := fx.orch.RunAll(context.Background())
	require.NoError(t, err)
	require.NotZero(t, stats.RunID)

	run, err := ops.GetRun(stats.RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.ListingsNew)
	assert.NotNil(t, run.FinishedAt)

	logs, err := ops.RecentLogs(10)
	require.NoError(t, err)
	assert.NotEmpty(t, logs)
}

func TestRunFilter(t *testing.T) {
	fx := newOrchFixture(t, nil)
	off := fx.addFilter(t, "off", false, 0)
	fx.searcher.set(off.ID, offer("1", 100))

	res, err := fx.orch.RunFilter(context.Background(), off.ID)
	require.NoError(t, err)
	assert.NoError(t, res.Err)
	assert.Equal(t, 1, res.Created)
	assert.NotNil(t, fx.reload(t, off.ID).LastChecked)

	_, err = fx.orch.RunFilter(context.Background(), uuid.New())
	assert.ErrorContains(t, err, "unknown filter")
}

func TestHandleCommand_PauseResume(t *testing.T) {
	ctx := context.Background()
	fx := newOrchFixture(t, nil)
	f := fx.addFilter(t, "flats", true, 0)
	fx.searcher.set(f.ID, offer("1", 100))

	require.NoError(t, fx.orch.HandleCommand(ctx, &models.Command{Command: models.CmdPause}))
	assert.True(t, fx.orch.IsPaused())

	require.NoError(t, fx.orch.HandleCommand(ctx, &models.Command{Command: models.CmdRunNow}))
	assert.Zero(t, fx.searcher.callCount())

	require.NoError(t, fx.orch.HandleCommand(ctx, &models.Command{Command: models.CmdResume}))
	require.NoError(t, fx.orch.HandleCommand(ctx, &models.Command{
		Command: models.CmdRunFilter,
		Params:  []byte(`{"filter_id":"` + f.ID.String() + `"}`),
	}))
	assert.Equal(t, 1, fx.searcher.callCount())

	assert.Error(t, fx.orch.HandleCommand(ctx, &models.Command{Command: "reboot"}))
}

func TestRunAll_OverlappingFiltersShareListing(t *testing.T) {
	ctx := context.Background()
	fx := newOrchFixture(t, nil)
	a := fx.addFilter(t, "kyiv", true, 0, 1001)
	b := fx.addFilter(t, "kyiv cheap", true, 1, 2002)
	fx.searcher.set(a.ID, offer("7", 500))
	fx.searcher.set(b.ID, offer("7", 500))

	stats, err := fx.orch.RunAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)
	sent := fx.sender.count()
	assert.Equal(t, 1, sent)

	for i := 0; i < 2; i++ {
		stats, err = fx.orch.RunAll(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.Created)
		assert.Zero(t, stats.FiltersFailed)
		assert.Equal(t, sent, fx.sender.count())
	}

	owned, err := fx.store.FindListingByExternalID(ctx, "7")
	require.NoError(t, err)
	require.NotNil(t, owned)
	assert.Equal(t, a.ID, owned.FilterID)

	fx.searcher.set(a.ID, offer("7", 400))
	fx.searcher.set(b.ID, offer("7", 400))
	stats, err = fx.orch.RunAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PriceChanged)
	assert.Zero(t, stats.Created)
	assert.Equal(t, sent+1, fx.sender.count())

	history, err := fx.store.FindPriceHistoryByListing(ctx, owned.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 500.0, history[0].OldPrice)
	assert.Equal(t, 400.0, history[0].NewPrice)
}

// flakyListings fails or panics on SaveListing for chosen listings.
type flakyListings struct {
	*storage.MemoryStore
	onSave func(l models.Listing) error
}

func (s *flakyListings) SaveListing(ctx context.Context, l models.Listing) (models.Listing, error) {
	if s.onSave != nil {
		if err := s.onSave(l); err != nil {
			return l, err
		}
	}
	return s.MemoryStore.SaveListing(ctx, l)
}

func TestRunAll_SaveFailureAndPanicAreIsolated(t *testing.T) {
	listings := &flakyListings{}
	fx := newOrchFixture(t, func(d *Deps) { d.Listings = listings })
	listings.MemoryStore = fx.store

	failing := fx.addFilter(t, "failing", true, 0, 1001)
	healthy := fx.addFilter(t, "healthy", true, 1, 2002)
	panicking := fx.addFilter(t, "panicking", true, 2, 3003)
	fx.searcher.set(failing.ID, offer("1", 100))
	fx.searcher.set(healthy.ID, offer("2", 200))
	fx.searcher.set(panicking.ID, offer("3", 300))

	listings.onSave = func(l models.Listing) error {
		switch l.FilterID {
		case failing.ID:
			return errors.New("connection reset")
		case panicking.ID:
			panic("nil row")
		}
		return nil
	}

	stats, err := fx.orch.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.FiltersProcessed)
	assert.Equal(t, 2, stats.FiltersFailed)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 1, fx.sender.count())

	saved, err := fx.store.FindActiveListingsByFilter(context.Background(), healthy.ID)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "2", saved[0].ExternalID)

	assert.NotNil(t, fx.reload(t, healthy.ID).LastChecked)
	assert.Nil(t, fx.reload(t, failing.ID).LastChecked)
	assert.Nil(t, fx.reload(t, panicking.ID).LastChecked)
}

func TestRunAll_SaveFailureKeepsEarlierAnnouncements(t *testing.T) {
	ctx := context.Background()
	listings := &flakyListings{}
	fx := newOrchFixture(t, func(d *Deps) { d.Listings = listings })
	listings.MemoryStore = fx.store

	f := fx.addFilter(t, "flats", true, 0, 1001)
	fx.searcher.set(f.ID, offer("1", 100), offer("2", 200))
	listings.onSave = func(l models.Listing) error {
		if l.ExternalID == "2" {
			return errors.New("disk full")
		}
		return nil
	}

	stats, err := fx.orch.RunAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FiltersFailed)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 1, fx.sender.count())
	assert.Nil(t, fx.reload(t, f.ID).LastChecked)

	listings.onSave = nil
	stats, err = fx.orch.RunAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.FiltersFailed)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 2, fx.sender.count())
	assert.NotNil(t, fx.reload(t, f.ID).LastChecked)
}
