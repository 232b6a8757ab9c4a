package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testNow}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}

func TestChannelThrottle_SpacesSameChat(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	th := NewChannelThrottle(2*time.Second, clock)

	require.NoError(t, th.Wait(ctx, 1))
	require.NoError(t, th.Wait(ctx, 1))
	require.NoError(t, th.Wait(ctx, 1))

	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clock.Slept())
}

func TestChannelThrottle_ChatsAreIndependent(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	th := NewChannelThrottle(2*time.Second, clock)

	require.NoError(t, th.Wait(ctx, 1))
	require.NoError(t, th.Wait(ctx, 2))
	require.NoError(t, th.Wait(ctx, 3))

	assert.Empty(t, clock.Slept())
}

func TestChannelThrottle_ElapsedTimeCounts(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	th := NewChannelThrottle(2*time.Second, clock)

	require.NoError(t, th.Wait(ctx, 1))
	clock.Advance(1500 * time.Millisecond)
	require.NoError(t, th.Wait(ctx, 1))

	assert.Equal(t, []time.Duration{500 * time.Millisecond}, clock.Slept())
}

func TestChannelThrottle_ZeroIntervalNeverWaits(t *testing.T) {
	clock := newFakeClock()
	th := NewChannelThrottle(0, clock)

	for i := 0; i < 5; i++ {
		require.NoError(t, th.Wait(context.Background(), 1))
	}
	assert.Empty(t, clock.Slept())
}

func TestChannelThrottle_CancelledWait(t *testing.T) {
	clock := newFakeClock()
	th := NewChannelThrottle(time.Second, clock)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, th.Wait(ctx, 1))
	cancel()
	assert.ErrorIs(t, th.Wait(ctx, 1), context.Canceled)
}
