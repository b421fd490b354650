package sim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backpack-mm/market"
	"backpack-mm/order"
)

type feedRecorder struct {
	mu    sync.Mutex
	feeds []market.FeedEvent
}

func (r *feedRecorder) OnFeed(ev market.FeedEvent) {
	r.mu.Lock()
	r.feeds = append(r.feeds, ev)
	r.mu.Unlock()
}

func (r *feedRecorder) OnOrderEvent(order.Event) {}

func (r *feedRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.feeds)
}

func TestFeederStepFeedsEngineAndMatches(t *testing.T) {
	ex, events := newTestExchange()
	_, err := ex.Submit(context.Background(), limit("b1", order.SideBuy, 99.5, 0.1))
	require.NoError(t, err)

	walk := NewRandomWalk(90, 1)
	walk.VolBps = 0
	walk.TradeProb = 1
	rec := &feedRecorder{}
	f := &Feeder{Walk: walk, Exchange: ex, Handler: rec, Interval: time.Millisecond}

	f.Step(time.Unix(10, 0))
	require.Len(t, rec.feeds, 2)
	assert.Equal(t, market.FeedBookTop, rec.feeds[0].Kind)
	assert.Equal(t, market.FeedTrade, rec.feeds[1].Kind)
	// 卖盘跌到 90 附近，99.5 的买单被穿价成交
	assert.Contains(t, events.kinds(), order.EventFill)
	assert.Empty(t, ex.Resting())
}

func TestFeederRunUntilCancelled(t *testing.T) {
	ex, _ := newTestExchange()
	rec := &feedRecorder{}
	f := &Feeder{Walk: NewRandomWalk(100, 3), Exchange: ex, Handler: rec, Interval: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	require.Eventually(t, func() bool { return rec.count() >= 3 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Error(t, (&Feeder{}).Run(context.Background()))
}
