package services

import (
	"context"
	"fmt"
	"html"
	"log"
	"math"
	"strconv"
	"strings"

	"olx_monitor/metrics"
	"olx_monitor/models"
)

type EventKind string

const (
	EventCreated      EventKind = "created"
	EventPriceChanged EventKind = "price_changed"
	EventRemoved      EventKind = "removed"
)

// Event is one reconciled change. Previous is set for price changes only.
type Event struct {
	Kind     EventKind
	Listing  models.Listing
	Previous *models.Listing
}

// Sender is the delivery channel, implemented by telegram.Client.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendPhoto(ctx context.Context, chatID int64, photoURL, caption string) error
	SendMediaGroup(ctx context.Context, chatID int64, photoURLs []string, caption string) error
}

type Notifier struct {
	sender   Sender
	throttle Throttle
	metrics  *metrics.Metrics
}

func NewNotifier(sender Sender, throttle Throttle, m *metrics.Metrics) *Notifier {
	return &Notifier{sender: sender, throttle: throttle, metrics: m}
}

// Notify delivers ev to every subscriber and returns how many deliveries
// failed. A failure is logged and never stops the remaining subscribers.
func (n *Notifier) Notify(ctx context.Context, ev Event, subscribers []models.Subscriber) int {
	if len(subscribers) == 0 {
		return 0
	}

	text, err := FormatMessage(ev)
	if err != nil {
		log.Printf("Notifier: %v", err)
		return len(subscribers)
	}

	images := ev.Listing.Images
	if ev.Previous != nil {
		images = ev.Previous.Images
	}

	failed := 0
	for _, sub := range subscribers {
		if err := n.dispatch(ctx, sub.ChatID, text, images); err != nil {
			failed++
			log.Printf("Notifier: %s for listing %s to chat %d failed: %v", ev.Kind, ev.Listing.ExternalID, sub.ChatID, err)
		}
	}
	return failed
}

func (n *Notifier) dispatch(ctx context.Context, chatID int64, text string, images []string) error {
	if len(images) == 0 {
		err := n.sender.SendMessage(ctx, chatID, text)
		n.metrics.Notification("sendMessage", err)
		return err
	}

	if n.throttle != nil {
		if err := n.throttle.Wait(ctx, chatID); err != nil {
			return err
		}
	}

	if len(images) == 1 {
		err := n.sender.SendPhoto(ctx, chatID, images[0], text)
		n.metrics.Notification("sendPhoto", err)
		return err
	}

	err := n.sender.SendMediaGroup(ctx, chatID, images, text)
	n.metrics.Notification("sendMediaGroup", err)
	return err
}

// FormatMessage renders the HTML message for an event.
func FormatMessage(ev Event) (string, error) {
	l := ev.Listing
	var b strings.Builder

	switch ev.Kind {
	case EventCreated:
		b.WriteString("🆕 Нове оголошення!\n\n")
		fmt.Fprintf(&b, "📋 %s\n", esc(l.Title))
		fmt.Fprintf(&b, "💰 %s %s\n", FormatPrice(l.Price), esc(l.Currency))
		fmt.Fprintf(&b, "📍 %s\n", esc(l.Location))
		fmt.Fprintf(&b, "🔗 %s", esc(l.URL))

	case EventPriceChanged:
		if ev.Previous == nil {
			return "", fmt.Errorf("price change for %s without previous listing", l.ExternalID)
		}
		diff := l.Price - ev.Previous.Price
		emoji, sign := "📉", ""
		if diff > 0 {
			emoji, sign = "📈", "+"
		}
		fmt.Fprintf(&b, "%s Зміна ціни!\n\n", emoji)
		fmt.Fprintf(&b, "📋 %s\n", esc(l.Title))
		fmt.Fprintf(&b, "💰 Було: %s %s\n", FormatPrice(ev.Previous.Price), esc(ev.Previous.Currency))
		fmt.Fprintf(&b, "💰 Стало: %s %s\n", FormatPrice(l.Price), esc(l.Currency))
		fmt.Fprintf(&b, "📊 Різниця: %s%s %s\n", sign, FormatPrice(diff), esc(l.Currency))
		fmt.Fprintf(&b, "🔗 %s", esc(l.URL))

	case EventRemoved:
		b.WriteString("❌ Оголошення видалено\n\n")
		fmt.Fprintf(&b, "📋 %s\n", esc(l.Title))
		fmt.Fprintf(&b, "💰 %s %s\n", FormatPrice(l.Price), esc(l.Currency))
		fmt.Fprintf(&b, "📍 %s", esc(l.Location))

	default:
		return "", fmt.Errorf("unknown event kind %q", ev.Kind)
	}

	return b.String(), nil
}

// FormatPrice renders at most two decimals without trailing zeros.
func FormatPrice(v float64) string {
	v = math.Round(v*100) / 100
	if v == 0 {
		v = 0 // drop negative zero
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func esc(s string) string {
	return html.EscapeString(s)
}
