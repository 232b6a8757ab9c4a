package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"olx_monitor/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS filters (
	id UUID PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	category TEXT NOT NULL,
	subcategory TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT '',
	criteria JSONB NOT NULL DEFAULT '{}',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	last_checked TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS listings (
	id UUID PRIMARY KEY,
	external_id TEXT NOT NULL UNIQUE,
	filter_id UUID NOT NULL REFERENCES filters(id) ON DELETE CASCADE,
	title TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	price NUMERIC(12,2) NOT NULL DEFAULT 0,
	currency VARCHAR(3) NOT NULL DEFAULT 'UAH',
	url TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	images TEXT[] NOT NULL DEFAULT '{}',
	published_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ,
	is_active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS price_history (
	id UUID PRIMARY KEY,
	listing_id UUID NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
	old_price NUMERIC(12,2) NOT NULL,
	new_price NUMERIC(12,2) NOT NULL,
	changed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS subscribers (
	filter_id UUID NOT NULL REFERENCES filters(id) ON DELETE CASCADE,
	chat_id BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (filter_id, chat_id)
);

CREATE INDEX IF NOT EXISTS idx_listings_filter_active ON listings(filter_id, is_active);
CREATE INDEX IF NOT EXISTS idx_price_history_listing ON price_history(listing_id, changed_at);
CREATE INDEX IF NOT EXISTS idx_filters_active ON filters(is_active);
`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// =============================================================================
// Listings
// =============================================================================

const listingColumns = `id, external_id, filter_id, title, description, price, currency,
	url, location, images, published_at, created_at, updated_at, is_active`

func (s *PostgresStore) SaveListing(ctx context.Context, l models.Listing) (models.Listing, error) {
	query := `
		INSERT INTO listings (` + listingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (external_id) DO UPDATE SET
			filter_id = CASE WHEN listings.is_active THEN listings.filter_id ELSE EXCLUDED.filter_id END,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			url = EXCLUDED.url,
			location = EXCLUDED.location,
			images = EXCLUDED.images,
			published_at = EXCLUDED.published_at,
			updated_at = EXCLUDED.updated_at,
			is_active = EXCLUDED.is_active
		RETURNING id, created_at, filter_id`

	images := l.Images
	if images == nil {
		images = []string{}
	}

	err := s.pool.QueryRow(ctx, query,
		l.ID, l.ExternalID, l.FilterID, l.Title, l.Description, l.Price, l.Currency,
		l.URL, l.Location, images, nullTime(l.PublishedAt), l.CreatedAt, l.UpdatedAt, l.IsActive,
	).Scan(&l.ID, &l.CreatedAt, &l.FilterID)
	if err != nil {
		return l, wrap("save listing", err)
	}
	return l, nil
}

func (s *PostgresStore) FindListingByExternalID(ctx context.Context, externalID string) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE external_id = $1`

	l, err := scanListing(s.pool.QueryRow(ctx, query, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("find listing", err)
	}
	return l, nil
}

func (s *PostgresStore) FindActiveListingsByFilter(ctx context.Context, filterID uuid.UUID) ([]models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings
		WHERE filter_id = $1 AND is_active = TRUE
		ORDER BY created_at DESC`
	return s.queryListings(ctx, "find active listings", query, filterID)
}

func (s *PostgresStore) FindAllListings(ctx context.Context) ([]models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings ORDER BY created_at DESC`
	return s.queryListings(ctx, "find listings", query)
}

func (s *PostgresStore) DeleteListing(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM listings WHERE id = $1`, id)
	if err != nil {
		return wrap("delete listing", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) queryListings(ctx context.Context, op, query string, args ...any) ([]models.Listing, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		listings = append(listings, *l)
	}
	return listings, wrap(op, rows.Err())
}

func scanListing(row pgx.Row) (*models.Listing, error) {
	var l models.Listing
	var published *time.Time
	err := row.Scan(
		&l.ID, &l.ExternalID, &l.FilterID, &l.Title, &l.Description, &l.Price, &l.Currency,
		&l.URL, &l.Location, &l.Images, &published, &l.CreatedAt, &l.UpdatedAt, &l.IsActive,
	)
	if err != nil {
		return nil, err
	}
	if published != nil {
		l.PublishedAt = *published
	}
	return &l, nil
}

// =============================================================================
// Filters
// =============================================================================

const filterColumns = `id, name, category, subcategory, type, criteria, is_active, last_checked, created_at`

func (s *PostgresStore) SaveFilter(ctx context.Context, f models.Filter) error {
	criteria, err := json.Marshal(f.Criteria)
	if err != nil {
		return wrap("save filter", err)
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO filters (` + filterColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			subcategory = EXCLUDED.subcategory,
			type = EXCLUDED.type,
			criteria = EXCLUDED.criteria,
			is_active = EXCLUDED.is_active,
			last_checked = EXCLUDED.last_checked`

	_, err = s.pool.Exec(ctx, query,
		f.ID, f.Name, f.Category, f.Subcategory, f.Type, criteria, f.IsActive, f.LastChecked, f.CreatedAt)
	return wrap("save filter", err)
}

func (s *PostgresStore) FindFilterByID(ctx context.Context, id uuid.UUID) (*models.Filter, error) {
	query := `SELECT ` + filterColumns + ` FROM filters WHERE id = $1`

	f, err := scanFilter(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("find filter", err)
	}
	return f, nil
}

func (s *PostgresStore) FindActiveFilters(ctx context.Context) ([]models.Filter, error) {
	query := `SELECT ` + filterColumns + ` FROM filters WHERE is_active = TRUE ORDER BY created_at`
	return s.queryFilters(ctx, "find active filters", query)
}

func (s *PostgresStore) FindAllFilters(ctx context.Context) ([]models.Filter, error) {
	query := `SELECT ` + filterColumns + ` FROM filters ORDER BY created_at`
	return s.queryFilters(ctx, "find filters", query)
}

func (s *PostgresStore) DeleteFilter(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM filters WHERE id = $1`, id)
	if err != nil {
		return wrap("delete filter", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) queryFilters(ctx context.Context, op, query string) ([]models.Filter, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	var filters []models.Filter
	for rows.Next() {
		f, err := scanFilter(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		filters = append(filters, *f)
	}
	return filters, wrap(op, rows.Err())
}

func scanFilter(row pgx.Row) (*models.Filter, error) {
	var f models.Filter
	var criteria []byte
	err := row.Scan(&f.ID, &f.Name, &f.Category, &f.Subcategory, &f.Type, &criteria,
		&f.IsActive, &f.LastChecked, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(criteria) > 0 {
		if err := json.Unmarshal(criteria, &f.Criteria); err != nil {
			return nil, fmt.Errorf("filter %s criteria: %w", f.ID, err)
		}
	}
	return &f, nil
}

// =============================================================================
// Price history
// =============================================================================

func (s *PostgresStore) SavePriceHistory(ctx context.Context, h models.PriceHistory) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO price_history (id, listing_id, old_price, new_price, changed_at)
		VALUES ($1, $2, $3, $4, $5)`,
		h.ID, h.ListingID, h.OldPrice, h.NewPrice, h.ChangedAt)
	return wrap("save price history", err)
}

func (s *PostgresStore) FindPriceHistoryByListing(ctx context.Context, listingID uuid.UUID) ([]models.PriceHistory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, listing_id, old_price, new_price, changed_at
		FROM price_history WHERE listing_id = $1
		ORDER BY changed_at`, listingID)
	if err != nil {
		return nil, wrap("find price history", err)
	}
	defer rows.Close()

	var history []models.PriceHistory
	for rows.Next() {
		var h models.PriceHistory
		if err := rows.Scan(&h.ID, &h.ListingID, &h.OldPrice, &h.NewPrice, &h.ChangedAt); err != nil {
			return nil, wrap("find price history", err)
		}
		history = append(history, h)
	}
	return history, wrap("find price history", rows.Err())
}

// =============================================================================
// Subscribers
// =============================================================================

func (s *PostgresStore) SaveSubscriber(ctx context.Context, sub models.Subscriber) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscribers (filter_id, chat_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (filter_id, chat_id) DO NOTHING`,
		sub.FilterID, sub.ChatID, sub.CreatedAt)
	return wrap("save subscriber", err)
}

func (s *PostgresStore) FindSubscribersByFilter(ctx context.Context, filterID uuid.UUID) ([]models.Subscriber, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT filter_id, chat_id, created_at
		FROM subscribers WHERE filter_id = $1
		ORDER BY created_at`, filterID)
	if err != nil {
		return nil, wrap("find subscribers", err)
	}
	defer rows.Close()

	var subs []models.Subscriber
	for rows.Next() {
		var sub models.Subscriber
		if err := rows.Scan(&sub.FilterID, &sub.ChatID, &sub.CreatedAt); err != nil {
			return nil, wrap("find subscribers", err)
		}
		subs = append(subs, sub)
	}
	return subs, wrap("find subscribers", rows.Err())
}

func (s *PostgresStore) DeleteSubscriber(ctx context.Context, filterID uuid.UUID, chatID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM subscribers WHERE filter_id = $1 AND chat_id = $2`, filterID, chatID)
	if err != nil {
		return wrap("delete subscriber", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
