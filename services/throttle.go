package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Clock abstracts time so throttling can be tested without real delays.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// Throttle spaces out dispatches to a single chat.
type Throttle interface {
	Wait(ctx context.Context, chatID int64) error
}

// ChannelThrottle keeps one limiter per chat, allowing one dispatch per
// interval. Chats never wait on each other.
type ChannelThrottle struct {
	mu       sync.Mutex
	interval time.Duration
	clock    Clock
	limiters map[int64]*rate.Limiter
}

func NewChannelThrottle(interval time.Duration, clock Clock) *ChannelThrottle {
	if clock == nil {
		clock = RealClock
	}
	return &ChannelThrottle{
		interval: interval,
		clock:    clock,
		limiters: make(map[int64]*rate.Limiter),
	}
}

func (t *ChannelThrottle) Wait(ctx context.Context, chatID int64) error {
	if t.interval <= 0 {
		return nil
	}

	now := t.clock.Now()
	r := t.limiter(chatID).ReserveN(now, 1)
	if !r.OK() {
		return fmt.Errorf("throttle: reservation refused for chat %d", chatID)
	}

	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	if err := t.clock.Sleep(ctx, delay); err != nil {
		r.CancelAt(t.clock.Now())
		return err
	}
	return nil
}

func (t *ChannelThrottle) limiter(chatID int64) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	lim, ok := t.limiters[chatID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(t.interval), 1)
		t.limiters[chatID] = lim
	}
	return lim
}
