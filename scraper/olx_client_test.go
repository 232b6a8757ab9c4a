package scraper

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"olx_monitor/models"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err, "fixture %s", name)
	return data
}

func testFilter() models.Filter {
	return models.Filter{
		Name:        "Kyiv rent",
		Category:    "нерухомість",
		Subcategory: "квартири",
		Type:        "довгострокова оренда",
		Criteria:    models.Criteria{Price: "10000,20000"},
		IsActive:    true,
	}
}

func newTestClient(url string, maxPages int) *OLXClient {
	return NewOLXClient(url, &http.Client{Timeout: 5 * time.Second}, NewEncoder(NewStaticCatalog(nil)), maxPages)
}

func fixtureServer(t *testing.T, status int, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// pageBody renders a successful page holding n listings starting at id start.
func pageBody(start, n int) []byte {
	items := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, map[string]any{
			"id":                start + i,
			"title":             fmt.Sprintf("listing %d", start+i),
			"url":               fmt.Sprintf("https://www.olx.ua/d/%d.html", start+i),
			"location":          map[string]any{"city": map[string]any{"name": "Львів"}, "region": map[string]any{"name": "Львівська область"}},
			"created_time":      "2024-02-01T12:00:00+02:00",
			"last_refresh_time": "2024-02-02T12:00:00+02:00",
			"params": []map[string]any{
				{"key": "price", "value": map[string]any{"__typename": "PriceParam", "value": 1000 + i, "currency": "UAH"}},
			},
		})
	}
	body, _ := json.Marshal(map[string]any{
		"data": map[string]any{
			"clientCompatibleListings": map[string]any{
				"__typename": "ListingSuccess",
				"data":       items,
			},
		},
	})
	return body
}

func paramValue(params []SearchParam, key string) (string, bool) {
	for _, p := range params {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

func TestSearch_NormalizesListings(t *testing.T) {
	srv := fixtureServer(t, http.StatusOK, loadFixture(t, "olx_page.json"))

	snaps, err := newTestClient(srv.URL, 0).Search(t.Context(), testFilter())
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	first := snaps[0]
	assert.Equal(t, "881234567", first.ExternalID)
	assert.Equal(t, "2-кімнатна квартира, Печерськ", first.Title)
	assert.Equal(t, 15000.0, first.Price)
	assert.Equal(t, "UAH", first.Currency)
	assert.Equal(t, "Київ, Київська область", first.Location)
	assert.Equal(t, []string{
		"https://ireland.apollo.olxcdn.com/v1/files/a1/image;s=800x600",
		"https://ireland.apollo.olxcdn.com/v1/files/a2/image;s=800x600",
	}, first.Images)
	assert.Contains(t, first.Description, "Світла квартира.")
	assert.Contains(t, first.Description, "Поруч метро & парк.")
	assert.NotContains(t, first.Description, "<br")

	kyiv := time.FixedZone("", 2*60*60)
	assert.True(t, time.Date(2024, 1, 15, 10, 30, 0, 0, kyiv).Equal(first.PublishedAt))
	assert.True(t, time.Date(2024, 1, 10, 9, 0, 0, 0, kyiv).Equal(first.CreatedTime))

	second := snaps[1]
	assert.Equal(t, "881234568", second.ExternalID)
	assert.Equal(t, 400.5, second.Price)
	assert.Equal(t, "UAH", second.Currency)
	assert.Empty(t, second.Images)
	assert.True(t, second.PublishedAt.Equal(second.CreatedTime))
}

func TestSearch_SendsGraphQLRequest(t *testing.T) {
	var got graphQLRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write(pageBody(1, 0))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 0).Search(t.Context(), testFilter())
	require.NoError(t, err)

	assert.Contains(t, got.Query, "clientCompatibleListings")
	cat, _ := paramValue(got.Variables.SearchParameters, "category_id")
	assert.Equal(t, "1760", cat)
	from, _ := paramValue(got.Variables.SearchParameters, "filter_float_price:from")
	assert.Equal(t, "10000", from)
}

func TestSearch_PaginatesUntilShortPage(t *testing.T) {
	var mu sync.Mutex
	var offsets []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		offset, _ := paramValue(req.Variables.SearchParameters, "offset")

		mu.Lock()
		offsets = append(offsets, offset)
		mu.Unlock()

		switch offset {
		case "0":
			w.Write(pageBody(1, PageSize))
		case "40":
			w.Write(pageBody(1+PageSize, PageSize))
		default:
			w.Write(pageBody(1+2*PageSize, 3))
		}
	}))
	defer srv.Close()

	snaps, err := newTestClient(srv.URL, 0).Search(t.Context(), testFilter())
	require.NoError(t, err)

	assert.Len(t, snaps, 2*PageSize+3)
	assert.Equal(t, []string{"0", "40", "80"}, offsets)
	assert.Equal(t, "1", snaps[0].ExternalID)
	assert.Equal(t, "83", snaps[len(snaps)-1].ExternalID)
}

func TestSearch_EmptyFirstPage(t *testing.T) {
	srv := fixtureServer(t, http.StatusOK, pageBody(1, 0))

	snaps, err := newTestClient(srv.URL, 0).Search(t.Context(), testFilter())
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestSearch_PageLimitExceeded(t *testing.T) {
	srv := fixtureServer(t, http.StatusOK, pageBody(1, PageSize))

	_, err := newTestClient(srv.URL, 2).Search(t.Context(), testFilter())

	var searchErr *SearchError
	require.True(t, errors.As(err, &searchErr))
	assert.Equal(t, "pagination", searchErr.Op)
}

func TestSearch_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   []byte
		op     string
	}{
		{"server error", http.StatusInternalServerError, []byte("oops"), "status"},
		{"graphql errors", http.StatusOK, loadFixture(t, "olx_graphql_errors.json"), "protocol"},
		{"listing error", http.StatusOK, loadFixture(t, "olx_listing_error.json"), "protocol"},
		{"malformed body", http.StatusOK, []byte("{not json"), "decode"},
		{"missing payload", http.StatusOK, []byte(`{"data":{}}`), "protocol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fixtureServer(t, tt.status, tt.body)

			snaps, err := newTestClient(srv.URL, 0).Search(t.Context(), testFilter())
			assert.Nil(t, snaps)

			var searchErr *SearchError
			require.True(t, errors.As(err, &searchErr), "got %v", err)
			assert.Equal(t, tt.op, searchErr.Op)
			assert.Equal(t, "Kyiv rent", searchErr.Filter)
		})
	}
}

func TestSearch_ListingErrorDetail(t *testing.T) {
	srv := fixtureServer(t, http.StatusOK, loadFixture(t, "olx_listing_error.json"))

	_, err := newTestClient(srv.URL, 0).Search(t.Context(), testFilter())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid category")
}

func TestSearch_SecondPageFailureDiscardsFirst(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Write(pageBody(1, PageSize))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	snaps, err := newTestClient(srv.URL, 0).Search(t.Context(), testFilter())
	assert.Nil(t, snaps)

	var searchErr *SearchError
	require.True(t, errors.As(err, &searchErr))
	assert.Equal(t, "status", searchErr.Op)
}

func TestSearch_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url, 0).Search(t.Context(), testFilter())

	var searchErr *SearchError
	require.True(t, errors.As(err, &searchErr))
	assert.Equal(t, "transport", searchErr.Op)
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "plain", plainText("  plain "))
	assert.Equal(t, "bold text", plainText("<b>bold</b> text"))
	assert.Equal(t, "", plainText(""))
}
