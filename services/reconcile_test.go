package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"olx_monitor/models"
)

var testNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func snap(ext string, price float64) models.Snapshot {
	return models.Snapshot{ExternalID: ext, Title: "listing " + ext, Price: price, Currency: "UAH"}
}

func stored(filterID uuid.UUID, ext string, price float64) models.Listing {
	return models.NewListingFromSnapshot(filterID, snap(ext, price), testNow.Add(-24*time.Hour))
}

func TestReconcile_NewListing(t *testing.T) {
	filterID := uuid.New()

	d := Reconcile(filterID, []models.Snapshot{snap("7", 500)}, nil, testNow)

	require.Len(t, d.Created, 1)
	assert.Equal(t, "7", d.Created[0].ExternalID)
	assert.Equal(t, 500.0, d.Created[0].Price)
	assert.True(t, d.Created[0].IsActive)
	assert.Equal(t, filterID, d.Created[0].FilterID)
	assert.NotEqual(t, uuid.Nil, d.Created[0].ID)
	assert.Empty(t, d.PriceChanged)
	assert.Empty(t, d.Removed)
}

func TestReconcile_Removal(t *testing.T) {
	filterID := uuid.New()
	existing := stored(filterID, "7", 500)

	d := Reconcile(filterID, nil, []models.Listing{existing}, testNow)

	require.Len(t, d.Removed, 1)
	assert.Equal(t, "7", d.Removed[0].ExternalID)
	assert.False(t, d.Removed[0].IsActive)
	assert.Equal(t, existing.ID, d.Removed[0].ID)
	assert.Equal(t, testNow, *d.Removed[0].UpdatedAt)
	assert.Empty(t, d.Created)
}

func TestReconcile_PriceChange(t *testing.T) {
	filterID := uuid.New()
	existing := stored(filterID, "7", 100)

	d := Reconcile(filterID, []models.Snapshot{snap("7", 120)}, []models.Listing{existing}, testNow)

	require.Len(t, d.PriceChanged, 1)
	pc := d.PriceChanged[0]
	assert.Equal(t, 100.0, pc.Old.Price)
	assert.Equal(t, 120.0, pc.New.Price)
	assert.Equal(t, existing.ID, pc.New.ID)
	assert.Equal(t, testNow, *pc.New.UpdatedAt)
	assert.Empty(t, d.Created)
	assert.Empty(t, d.Removed)
}

func TestReconcile_DeadBand(t *testing.T) {
	filterID := uuid.New()
	existing := stored(filterID, "7", 100)

	for _, price := range []float64{100, 100.005, 99.995} {
		d := Reconcile(filterID, []models.Snapshot{snap("7", price)}, []models.Listing{existing}, testNow)
		assert.True(t, d.Empty(), "price %v", price)
	}
}

func TestReconcile_OrderingAndPartition(t *testing.T) {
	filterID := uuid.New()
	existing := []models.Listing{
		stored(filterID, "a", 10),
		stored(filterID, "b", 20),
		stored(filterID, "c", 30),
		stored(filterID, "d", 40),
	}
	fetched := []models.Snapshot{
		snap("z", 1),
		snap("d", 45),
		snap("b", 20),
		snap("y", 2),
		snap("a", 15),
	}

	d := Reconcile(filterID, fetched, existing, testNow)

	var created, changed, removed []string
	for _, l := range d.Created {
		created = append(created, l.ExternalID)
	}
	for _, pc := range d.PriceChanged {
		changed = append(changed, pc.New.ExternalID)
	}
	for _, l := range d.Removed {
		removed = append(removed, l.ExternalID)
	}

	assert.Equal(t, []string{"z", "y"}, created)
	assert.Equal(t, []string{"d", "a"}, changed)
	assert.Equal(t, []string{"c"}, removed)
}

func TestReconcile_DuplicateFetchedIDsCountOnce(t *testing.T) {
	filterID := uuid.New()

	d := Reconcile(filterID, []models.Snapshot{snap("1", 10), snap("1", 99)}, nil, testNow)

	require.Len(t, d.Created, 1)
	assert.Equal(t, 10.0, d.Created[0].Price)
}

func TestReconcile_IdempotentRerun(t *testing.T) {
	filterID := uuid.New()
	existing := []models.Listing{stored(filterID, "a", 10), stored(filterID, "b", 20)}
	fetched := []models.Snapshot{snap("a", 11), snap("c", 30)}

	first := Reconcile(filterID, fetched, existing, testNow)
	require.False(t, first.Empty())

	// apply the delta the way the orchestrator persists it
	byExt := map[string]models.Listing{}
	for _, l := range existing {
		byExt[l.ExternalID] = l
	}
	for _, l := range first.Created {
		byExt[l.ExternalID] = l
	}
	for _, pc := range first.PriceChanged {
		byExt[pc.New.ExternalID] = pc.New
	}
	for _, l := range first.Removed {
		byExt[l.ExternalID] = l
	}
	var active []models.Listing
	for _, l := range byExt {
		if l.IsActive {
			active = append(active, l)
		}
	}

	second := Reconcile(filterID, fetched, active, testNow.Add(time.Hour))
	assert.True(t, second.Empty())
}
