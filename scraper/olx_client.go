package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"olx_monitor/logging"
	"olx_monitor/models"
)

const searchQuery = `
query ListingSearchQuery($searchParameters: [SearchParameter!]) {
	clientCompatibleListings(searchParameters: $searchParameters) {
		__typename
		... on ListingSuccess {
			__typename
			data {
				id
				title
				description
				url
				location { city { name } region { name } }
				photos { link }
				created_time
				last_refresh_time
				params {
					key
					value {
						__typename
						... on PriceParam { value currency }
					}
				}
			}
			metadata { total_elements }
		}
		... on ListingError {
			__typename
			error { code detail status title }
		}
	}
}`

const (
	photoWidth  = "800"
	photoHeight = "600"
)

// OLXClient queries the OLX GraphQL search endpoint.
type OLXClient struct {
	endpoint string
	client   *http.Client
	encoder  *Encoder
	maxPages int
}

func NewOLXClient(endpoint string, client *http.Client, encoder *Encoder, maxPages int) *OLXClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxPages <= 0 {
		maxPages = 100
	}
	return &OLXClient{
		endpoint: endpoint,
		client:   client,
		encoder:  encoder,
		maxPages: maxPages,
	}
}

// Search walks the result pages until one comes back shorter than PageSize.
// Any failure abandons the whole search; no partial result is returned.
func (c *OLXClient) Search(ctx context.Context, filter models.Filter) ([]models.Snapshot, error) {
	var all []models.Snapshot

	for page, offset := 0, 0; ; page, offset = page+1, offset+PageSize {
		if page >= c.maxPages {
			return nil, &SearchError{Op: "pagination", Filter: filter.Name,
				Err: fmt.Errorf("more than %d pages", c.maxPages)}
		}

		logging.Debugf("OLX: fetching offset %d for %s", offset, filter.Name)

		snapshots, err := c.fetchPage(ctx, filter, offset)
		if err != nil {
			return nil, err
		}

		all = append(all, snapshots...)

		if len(snapshots) < PageSize {
			logging.Debugf("OLX: short page (%d), %d listings total for %s", len(snapshots), len(all), filter.Name)
			break
		}
	}

	return all, nil
}

func (c *OLXClient) fetchPage(ctx context.Context, filter models.Filter, offset int) ([]models.Snapshot, error) {
	body, err := json.Marshal(graphQLRequest{
		Query: searchQuery,
		Variables: graphQLVariables{
			SearchParameters: c.encoder.Encode(filter, offset),
		},
	})
	if err != nil {
		return nil, &SearchError{Op: "encode", Filter: filter.Name, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &SearchError{Op: "transport", Filter: filter.Name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; OLX Monitor)")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &SearchError{Op: "transport", Filter: filter.Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &SearchError{Op: "status", Filter: filter.Name,
			Err: fmt.Errorf("OLX API error %d: %s", resp.StatusCode, string(respBody))}
	}

	var result olxSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &SearchError{Op: "decode", Filter: filter.Name, Err: err}
	}

	if len(result.Errors) > 0 {
		return nil, &SearchError{Op: "protocol", Filter: filter.Name,
			Err: fmt.Errorf("GraphQL errors: %s", result.Errors[0].Message)}
	}

	listings := result.Data.ClientCompatibleListings
	if listings == nil {
		return nil, &SearchError{Op: "protocol", Filter: filter.Name, Err: errors.New("empty response")}
	}
	if listings.Typename == "ListingError" {
		detail := "unknown error"
		if listings.Error != nil && listings.Error.Detail != "" {
			detail = listings.Error.Detail
		}
		return nil, &SearchError{Op: "protocol", Filter: filter.Name, Err: fmt.Errorf("listing error: %s", detail)}
	}

	snapshots := make([]models.Snapshot, 0, len(listings.Data))
	for _, raw := range listings.Data {
		snap, err := normalize(raw)
		if err != nil {
			return nil, &SearchError{Op: "decode", Filter: filter.Name, Err: err}
		}
		snapshots = append(snapshots, snap)
	}

	return snapshots, nil
}

func normalize(raw olxListing) (models.Snapshot, error) {
	if raw.ID == "" {
		return models.Snapshot{}, errors.New("listing without id")
	}

	created, err := parseTime(raw.CreatedTime)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("listing %s created_time: %w", raw.ID, err)
	}
	published := created
	if raw.LastRefreshTime != "" {
		if published, err = parseTime(raw.LastRefreshTime); err != nil {
			return models.Snapshot{}, fmt.Errorf("listing %s last_refresh_time: %w", raw.ID, err)
		}
	}

	price, currency := extractPrice(raw.Params)

	return models.Snapshot{
		ExternalID:  string(raw.ID),
		Title:       raw.Title,
		Description: plainText(raw.Description),
		Price:       price,
		Currency:    currency,
		URL:         raw.URL,
		Location:    raw.Location.City.Name + ", " + raw.Location.Region.Name,
		Images:      extractPhotos(raw.Photos),
		PublishedAt: published,
		CreatedTime: created,
	}, nil
}

// extractPrice takes the first "price" parameter carrying a PriceParam.
func extractPrice(params []olxParam) (float64, string) {
	for _, p := range params {
		if p.Key != "price" || p.Value.Typename != "PriceParam" {
			continue
		}
		currency := p.Value.Currency
		if currency == "" {
			currency = DefaultCurrency
		}
		return float64(p.Value.Value), currency
	}
	return 0, DefaultCurrency
}

func extractPhotos(photos []olxPhoto) []string {
	urls := make([]string, 0, len(photos))
	replacer := strings.NewReplacer("{width}", photoWidth, "{height}", photoHeight)
	for _, p := range photos {
		urls = append(urls, replacer.Replace(p.Link))
	}
	return urls
}

// plainText flattens the HTML fragments OLX uses for descriptions.
func plainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	doc.Find("br").ReplaceWithHtml("\n")
	return strings.TrimSpace(doc.Text())
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

type graphQLRequest struct {
	Query     string           `json:"query"`
	Variables graphQLVariables `json:"variables"`
}

type graphQLVariables struct {
	SearchParameters []SearchParam `json:"searchParameters"`
}

type olxSearchResponse struct {
	Data struct {
		ClientCompatibleListings *olxListingsResult `json:"clientCompatibleListings"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type olxListingsResult struct {
	Typename string       `json:"__typename"`
	Data     []olxListing `json:"data"`
	Metadata struct {
		TotalElements int `json:"total_elements"`
	} `json:"metadata"`
	Error *struct {
		Code   int    `json:"code"`
		Detail string `json:"detail"`
		Status int    `json:"status"`
		Title  string `json:"title"`
	} `json:"error"`
}

type olxListing struct {
	ID          looseString `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	URL         string      `json:"url"`
	Location    struct {
		City struct {
			Name string `json:"name"`
		} `json:"city"`
		Region struct {
			Name string `json:"name"`
		} `json:"region"`
	} `json:"location"`
	Photos          []olxPhoto `json:"photos"`
	CreatedTime     string     `json:"created_time"`
	LastRefreshTime string     `json:"last_refresh_time"`
	Params          []olxParam `json:"params"`
}

type olxPhoto struct {
	Link string `json:"link"`
}

type olxParam struct {
	Key   string `json:"key"`
	Value struct {
		Typename string     `json:"__typename"`
		Value    looseFloat `json:"value"`
		Currency string     `json:"currency"`
	} `json:"value"`
}

// looseString accepts a JSON string or number.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	*s = looseString(strings.Trim(string(b), `"`))
	return nil
}

// looseFloat accepts a JSON number or numeric string; anything else is 0.
type looseFloat float64

func (f *looseFloat) UnmarshalJSON(b []byte) error {
	v, err := strconv.ParseFloat(strings.Trim(string(b), `"`), 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = looseFloat(v)
	return nil
}
