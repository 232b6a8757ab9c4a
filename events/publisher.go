package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// ListingEvent is the wire form of a reconciled listing change.
type ListingEvent struct {
	Kind          string    `json:"kind"`
	FilterID      string    `json:"filter_id"`
	ListingID     string    `json:"listing_id"`
	ExternalID    string    `json:"external_id"`
	Title         string    `json:"title"`
	URL           string    `json:"url"`
	Price         float64   `json:"price"`
	PreviousPrice *float64  `json:"previous_price,omitempty"`
	Currency      string    `json:"currency"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type conn interface {
	Publish(subject string, data []byte) error
	Close()
}

// Publisher fans listing events out to NATS subjects named
// "<prefix>.<kind>".
type Publisher struct {
	conn   conn
	prefix string
}

func NewPublisher(url, prefix string) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("olx-monitor"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newPublisher(nc, prefix), nil
}

func newPublisher(c conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = "olx.listing"
	}
	return &Publisher{conn: c, prefix: prefix}
}

func (p *Publisher) Subject(kind string) string {
	return p.prefix + "." + kind
}

func (p *Publisher) Publish(ctx context.Context, ev ListingEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.Subject(ev.Kind), data)
}

func (p *Publisher) Close() {
	p.conn.Close()
}
