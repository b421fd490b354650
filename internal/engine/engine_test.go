package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backpack-mm/gateway"
	"backpack-mm/hedge"
	"backpack-mm/infrastructure/logger"
	"backpack-mm/infrastructure/monitor"
	"backpack-mm/inventory"
	"backpack-mm/market"
	"backpack-mm/order"
	"backpack-mm/posttrade"
	"backpack-mm/risk"
	"backpack-mm/sim"
	"backpack-mm/strategy"
)

const testSymbol = "ETH_USDC_PERP"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	e     *Engine
	ex    *sim.Exchange
	clock *testClock
	inv   *inventory.Tracker
}

func testConfig() Config {
	return Config{
		Symbol:             testSymbol,
		TickInterval:       5 * time.Millisecond,
		BaseOrderSizeUSD:   100,
		MaxDataAge:         3 * time.Second,
		AckTimeout:         3 * time.Second,
		UnknownRecovery:    10 * time.Second,
		RequestTimeout:     time.Second,
		HedgeAggressiveBps: 10,
		InboxSize:          256,
	}
}

func newHarness(t *testing.T, mutate func(*Config, *Components)) *harness {
	t.Helper()
	bounds := risk.Bounds{RiskThreshold: 0.5, QMax: 1.0}
	cons := order.SymbolConstraints{TickSize: 0.01, StepSize: 0.001, MinQty: 0.001}

	gen, err := strategy.NewGenerator(strategy.GeneratorConfig{
		HalfSpreadBps: 10,
		MinEdgeBps:    2,
		MaxSkewBps:    8,
		SizeSkew:      0.5,
		RiskThreshold: bounds.RiskThreshold,
		Constraints:   cons,
	})
	require.NoError(t, err)
	hedger, err := hedge.NewTrigger(hedge.Config{Bounds: bounds, StepSize: cons.StepSize, MinQty: cons.MinQty})
	require.NoError(t, err)

	clock := &testClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	ex := sim.NewExchange(nil)
	ex.Now = clock.Now
	inv := inventory.NewTracker(testSymbol, bounds)

	cfg := testConfig()
	comps := Components{
		Market:      market.NewTracker(testSymbol, market.FairMid),
		Inventory:   inv,
		Generator:   gen,
		Reconciler:  order.Reconciler{PriceToleranceBps: 1, SizeTolerancePct: 0.2},
		Hedger:      hedger,
		Client:      ex,
		Constraints: cons,
		Monitor:     monitor.New(monitor.DefaultConfig()),
		Logger:      logger.NewNop(),
		Clock:       clock,
	}
	if mutate != nil {
		mutate(&cfg, &comps)
	}
	e, err := New(cfg, comps)
	require.NoError(t, err)
	ex.SetSink(e.Deliver)
	return &harness{e: e, ex: ex, clock: clock, inv: inv}
}

// startDispatcher 只启动 dispatcher，tick 由测试手动驱动。
func (h *harness) startDispatcher(t *testing.T) {
	go h.e.runDispatcher()
	t.Cleanup(h.e.closeQuit)
}

// book 喂一条盘口并同步给模拟交易所撮合。
func (h *harness) book(bid, ask float64) {
	h.e.OnFeed(market.FeedEvent{
		Kind: market.FeedBookTop, BidPrice: bid, BidSize: 1, AskPrice: ask, AskSize: 1, Ts: h.clock.Now(),
	})
	h.ex.OnSnapshot(h.e.market.Snapshot())
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	h.e.onTick(h.clock.Now())
	require.Eventually(t, func() bool { return !h.e.busy.Load() }, time.Second, time.Millisecond)
}

func restingBySide(ex *sim.Exchange) map[order.Side]gateway.OrderRequest {
	out := make(map[order.Side]gateway.OrderRequest)
	for _, r := range ex.Resting() {
		out[r.Side] = r
	}
	return out
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Symbol = ""
	_, err := New(cfg, Components{})
	assert.Error(t, err)

	_, err = New(testConfig(), Components{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market tracker")
}

func TestNoMarketDataSendsNothing(t *testing.T) {
	h := newHarness(t, nil)
	h.startDispatcher(t)

	for i := 0; i < 3; i++ {
		h.tick(t)
	}
	submits, cancels := h.ex.Requests()
	assert.Zero(t, submits)
	assert.Zero(t, cancels)
	stats := h.e.GetStatistics()
	assert.Equal(t, int64(3), stats.TotalTicks)
	assert.Equal(t, int64(3), stats.SkippedTicks)
	assert.Zero(t, h.e.Book().Len())
}

func TestFlatInventoryQuotesBothSides(t *testing.T) {
	h := newHarness(t, nil)
	h.startDispatcher(t)
	h.book(599.9, 600.1)

	h.tick(t)
	resting := restingBySide(h.ex)
	require.Len(t, resting, 2)
	bid, ask := resting[order.SideBuy], resting[order.SideSell]
	assert.InDelta(t, 599.40, bid.Price, 1e-9)
	assert.InDelta(t, 600.60, ask.Price, 1e-9)
	assert.InDelta(t, 0.166, bid.Qty, 1e-9)
	assert.InDelta(t, 0.166, ask.Qty, 1e-9)
	assert.True(t, bid.PostOnly)
	assert.Equal(t, gateway.TimeInForceGTC, ask.TimeInForce)

	// 回报处理后目标未变，不应再发请求
	h.tick(t)
	h.tick(t)
	submits, cancels := h.ex.Requests()
	assert.Equal(t, 2, submits)
	assert.Zero(t, cancels)
	assert.Equal(t, 2, h.e.Book().CountStatus(order.StatusOpen))
}

func TestLongInventorySkewsQuotes(t *testing.T) {
	h := newHarness(t, nil)
	h.startDispatcher(t)
	require.NoError(t, h.inv.ApplyFill(order.SideBuy, 600, 0.6))
	h.book(599.9, 600.1)

	h.tick(t)
	resting := restingBySide(h.ex)
	require.Len(t, resting, 2)
	bid, ask := resting[order.SideBuy], resting[order.SideSell]
	assert.Less(t, bid.Price, 600.0)
	assert.Greater(t, ask.Price, 600.0)
	assert.Less(t, ask.Price-600, 600-bid.Price, "long inventory makes the ask more competitive")
	assert.Less(t, bid.Qty, ask.Qty, "long inventory shrinks the bid")
	assert.Zero(t, h.e.GetStatistics().TotalHedges)
}

func TestBreachFiresSingleHedge(t *testing.T) {
	h := newHarness(t, nil)
	h.startDispatcher(t)
	require.NoError(t, h.inv.ApplyFill(order.SideBuy, 600, 1.0))
	h.book(599.9, 600.1)

	h.tick(t)
	assert.Equal(t, int64(1), h.e.GetStatistics().TotalHedges)
	resting := restingBySide(h.ex)
	_, hasBid := resting[order.SideBuy]
	assert.False(t, hasBid, "no bid while breached long")
	assert.Contains(t, resting, order.SideSell)

	// 对冲成交在下个 tick 计入库存
	h.tick(t)
	assert.InDelta(t, 0.5, h.inv.Exposure(), 1e-9)
	assert.Equal(t, risk.LevelElevated, h.inv.RiskLevel())

	h.tick(t)
	assert.Equal(t, int64(1), h.e.GetStatistics().TotalHedges)
	assert.Equal(t, 1, h.e.hedger.Fired())
	assert.Contains(t, restingBySide(h.ex), order.SideBuy, "bid returns once back under Q_max")
}

func TestAggressiveHedgeUsesIOCLimit(t *testing.T) {
	h := newHarness(t, nil)
	snap := market.Snapshot{BidPrice: 599.9, BidSize: 1, AskPrice: 600.1, AskSize: 1}

	r, ok := h.e.hedgeRequest(hedge.Request{Side: order.SideSell, Qty: 0.5, Urgency: hedge.UrgencyAggressive}, snap)
	require.True(t, ok)
	assert.Equal(t, gateway.OrderTypeLimit, r.Type)
	assert.Equal(t, gateway.TimeInForceIOC, r.TimeInForce)
	assert.InDelta(t, 599.3, r.Price, 1e-9)

	r, ok = h.e.hedgeRequest(hedge.Request{Side: order.SideBuy, Qty: 0.5, Urgency: hedge.UrgencyAggressive}, snap)
	require.True(t, ok)
	assert.InDelta(t, 600.71, r.Price, 1e-9)

	_, ok = h.e.hedgeRequest(hedge.Request{Side: order.SideBuy, Qty: 0.5, Urgency: hedge.UrgencyAggressive}, market.Snapshot{})
	assert.False(t, ok)

	r, ok = h.e.hedgeRequest(hedge.Request{Side: order.SideBuy, Qty: 0.5, Urgency: hedge.UrgencyMarket}, market.Snapshot{})
	require.True(t, ok)
	assert.Equal(t, gateway.OrderTypeMarket, r.Type)
}

func TestFillUpdatesInventory(t *testing.T) {
	h := newHarness(t, nil)
	h.startDispatcher(t)
	h.book(599.9, 600.1)
	h.tick(t)
	require.Len(t, h.ex.Resting(), 2)

	// 卖盘下穿买单，买单全部成交
	h.book(598.9, 599.3)
	h.tick(t)
	assert.InDelta(t, 0.166, h.inv.Exposure(), 1e-9)
	assert.Equal(t, int64(1), h.e.GetStatistics().TotalFills)
	// 库存变化后两侧按新的偏斜重新报价
	assert.Len(t, h.ex.Resting(), 2)
}

func TestMarkoutTracksMakerFills(t *testing.T) {
	analyzer := posttrade.NewAnalyzer(time.Second, 5*time.Second)
	h := newHarness(t, func(_ *Config, c *Components) { c.Markout = analyzer })
	h.startDispatcher(t)
	h.book(599.9, 600.1)
	h.tick(t)

	h.book(598.9, 599.3)
	h.tick(t)
	assert.Equal(t, 1, analyzer.Stats().TotalFills)

	// 5s 后价格仍低于买入价，短窗口 markout 为负
	h.clock.Advance(5 * time.Second)
	h.book(598.9, 599.3)
	h.tick(t)
	stats := analyzer.Stats()
	require.Equal(t, 1, stats.AnalyzedFills)
	assert.Less(t, stats.AvgMarkoutShortBps, 0.0)
	assert.InDelta(t, 1.0, stats.AdverseSelectionRate, 1e-9)
}

func TestRejectedOrdersAreRemoved(t *testing.T) {
	var reject sync.Mutex
	rejecting := true
	h := newHarness(t, nil)
	h.ex.Fault = func(gateway.OrderRequest) error {
		reject.Lock()
		defer reject.Unlock()
		if rejecting {
			return &gateway.RejectError{Status: 400, Code: "INVALID_ORDER", Message: "insufficient margin"}
		}
		return nil
	}
	h.startDispatcher(t)
	h.book(599.9, 600.1)

	h.tick(t)
	assert.Equal(t, 2, h.e.Book().Len())
	h.clock.Advance(time.Second)
	h.book(599.9, 600.1)
	h.tick(t)
	assert.GreaterOrEqual(t, h.e.GetStatistics().TotalErrors, int64(2))

	reject.Lock()
	rejecting = false
	reject.Unlock()
	h.tick(t)
	h.tick(t)
	assert.Len(t, h.ex.Resting(), 2)
}

func TestTimeoutRecoversWithCancelAll(t *testing.T) {
	var mu sync.Mutex
	failing := true
	h := newHarness(t, nil)
	h.ex.Fault = func(gateway.OrderRequest) error {
		mu.Lock()
		defer mu.Unlock()
		if failing {
			return context.DeadlineExceeded
		}
		return nil
	}
	h.startDispatcher(t)
	h.book(599.9, 600.1)

	h.tick(t)
	h.tick(t)
	assert.Equal(t, 2, h.e.Book().CountStatus(order.StatusUnknown))
	submits, _ := h.ex.Requests()
	assert.Zero(t, submits, "unknown orders block new placements")

	mu.Lock()
	failing = false
	mu.Unlock()

	h.clock.Advance(11 * time.Second)
	h.tick(t)
	_, cancels := h.ex.Requests()
	assert.Equal(t, 1, cancels)

	h.book(599.9, 600.1)
	h.tick(t)
	assert.Zero(t, h.e.Book().CountStatus(order.StatusUnknown))
	h.tick(t)
	assert.Len(t, h.ex.Resting(), 2)
}

func TestRateLimitedCancelKeepsOrderTracked(t *testing.T) {
	var mu sync.Mutex
	limited := true
	h := newHarness(t, nil)
	h.ex.CancelFault = func(string) error {
		mu.Lock()
		defer mu.Unlock()
		if limited {
			return &gateway.RejectError{Status: 429, Code: "TOO_MANY_REQUESTS", Message: "rate limit exceeded"}
		}
		return nil
	}
	h.startDispatcher(t)
	h.book(599.9, 600.1)
	h.tick(t)
	require.Len(t, h.ex.Resting(), 2)

	// 公允价上移需要替换两侧报价，撤单被限流
	h.book(600.2, 600.4)
	h.tick(t)
	h.tick(t)
	assert.Equal(t, 2, h.e.Book().CountStatus(order.StatusUnknown))
	assert.Len(t, h.ex.Resting(), h.e.Book().Len(), "every resting order stays tracked")

	submits, _ := h.ex.Requests()
	h.tick(t)
	after, _ := h.ex.Requests()
	assert.Equal(t, submits, after, "unknown orders block new placements")

	mu.Lock()
	limited = false
	mu.Unlock()

	h.clock.Advance(11 * time.Second)
	h.book(600.2, 600.4)
	h.tick(t)
	assert.Empty(t, h.ex.Resting(), "recovery cancels everything")
	h.tick(t)
	h.tick(t)
	assert.Zero(t, h.e.Book().CountStatus(order.StatusUnknown))
	assert.Len(t, h.ex.Resting(), 2)
	assert.Equal(t, 2, h.e.Book().Len())
}

func TestCancelTimeoutBlocksSideUntilRecovery(t *testing.T) {
	var mu sync.Mutex
	failing := true
	h := newHarness(t, nil)
	h.ex.CancelFault = func(string) error {
		mu.Lock()
		defer mu.Unlock()
		if failing {
			return context.DeadlineExceeded
		}
		return nil
	}
	h.startDispatcher(t)
	h.book(599.9, 600.1)
	h.tick(t)

	h.book(600.2, 600.4)
	h.tick(t)
	h.tick(t)
	require.Equal(t, 2, h.e.Book().CountStatus(order.StatusUnknown))
	for _, o := range h.e.Book().List() {
		if o.Status == order.StatusUnknown {
			assert.False(t, o.CancelRequested)
			assert.NotEmpty(t, o.ExchangeID)
		}
	}
	submits, _ := h.ex.Requests()
	require.Equal(t, 4, submits)

	mu.Lock()
	failing = false
	mu.Unlock()

	// 再次移价：新报价被撤掉，但 Unknown 订单仍占着两侧，不补单
	h.book(600.5, 600.7)
	h.tick(t)
	h.tick(t)
	submits, _ = h.ex.Requests()
	assert.Equal(t, 4, submits)
	assert.Equal(t, 2, h.e.Book().Len())
	assert.Equal(t, 2, h.e.Book().CountStatus(order.StatusUnknown))
	assert.Len(t, h.ex.Resting(), 2)

	h.clock.Advance(11 * time.Second)
	h.book(600.5, 600.7)
	h.tick(t)
	assert.Empty(t, h.ex.Resting())
	h.tick(t)
	h.tick(t)
	assert.Zero(t, h.e.Book().CountStatus(order.StatusUnknown))
	assert.Len(t, h.ex.Resting(), 2)
}

func TestPendingExpiresToUnknown(t *testing.T) {
	h := newHarness(t, nil)
	h.book(599.9, 600.1)
	// 不启动 dispatcher，订单停留在 Pending
	h.e.onTick(h.clock.Now())
	require.Equal(t, 2, h.e.Book().CountStatus(order.StatusPending))

	h.clock.Advance(4 * time.Second)
	h.e.busy.Store(false)
	h.e.onTick(h.clock.Now())
	assert.Equal(t, 2, h.e.Book().CountStatus(order.StatusUnknown))
}

func TestStaleDataSkipsTick(t *testing.T) {
	h := newHarness(t, nil)
	h.startDispatcher(t)
	h.book(599.9, 600.1)
	h.tick(t)

	h.clock.Advance(5 * time.Second)
	h.tick(t)
	stats := h.e.GetStatistics()
	assert.Equal(t, int64(1), stats.SkippedTicks)
	submits, cancels := h.ex.Requests()
	assert.Equal(t, 2, submits)
	assert.Zero(t, cancels)
}

func TestCircuitBreakerCancelsQuotes(t *testing.T) {
	h := newHarness(t, func(_ *Config, c *Components) {
		c.Breaker = risk.NewCircuitBreaker(0.01, 0.05, time.Minute)
	})
	h.startDispatcher(t)
	h.book(599.9, 600.1)
	h.tick(t)
	require.Len(t, h.ex.Resting(), 2)

	h.clock.Advance(time.Second)
	h.e.OnFeed(market.FeedEvent{Kind: market.FeedBookTop, BidPrice: 620, BidSize: 1, AskPrice: 620.2, AskSize: 1, Ts: h.clock.Now()})
	h.tick(t)
	assert.Empty(t, h.ex.Resting())

	h.tick(t)
	assert.Zero(t, h.e.Book().Len())
	submits, _ := h.ex.Requests()
	assert.Equal(t, 2, submits, "no new quotes while halted")
}

func TestFatalErrorHalts(t *testing.T) {
	h := newHarness(t, nil)
	h.ex.Fault = func(gateway.OrderRequest) error {
		return fmt.Errorf("%w: invalid api key", gateway.ErrFatal)
	}
	h.startDispatcher(t)
	h.book(599.9, 600.1)

	h.tick(t)
	h.tick(t)
	assert.True(t, errors.Is(h.e.Err(), gateway.ErrFatal))
	assert.Equal(t, StateHalted, h.e.GetState())
	assert.Zero(t, h.e.Book().Len())
	_, cancels := h.ex.Requests()
	assert.Equal(t, 1, cancels, "halt cancels everything")
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, func(cfg *Config, c *Components) {
		cfg.CancelAllOnStart = true
		cfg.CancelAllOnExit = true
		c.Clock = risk.NowUTC
	})
	h.ex.Now = time.Now
	require.NoError(t, h.e.Start(context.Background()))
	assert.Equal(t, StateRunning, h.e.GetState())
	assert.Error(t, h.e.Start(context.Background()))

	h.e.OnFeed(market.FeedEvent{Kind: market.FeedBookTop, BidPrice: 599.9, BidSize: 1, AskPrice: 600.1, AskSize: 1, Ts: time.Now()})
	h.ex.OnSnapshot(h.e.market.Snapshot())
	require.Eventually(t, func() bool { return len(h.ex.Resting()) == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.e.Stop())
	assert.Empty(t, h.ex.Resting())
	assert.Equal(t, StateStopped, h.e.GetState())
	assert.NoError(t, h.e.Err())
	assert.NoError(t, h.e.Stop())

	select {
	case <-h.e.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestFatalSurfacesThroughDone(t *testing.T) {
	h := newHarness(t, func(_ *Config, c *Components) { c.Clock = risk.NowUTC })
	h.ex.Now = time.Now
	h.ex.Fault = func(gateway.OrderRequest) error { return gateway.ErrFatal }
	require.NoError(t, h.e.Start(context.Background()))
	h.e.OnFeed(market.FeedEvent{Kind: market.FeedBookTop, BidPrice: 599.9, BidSize: 1, AskPrice: 600.1, AskSize: 1, Ts: time.Now()})

	select {
	case <-h.e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not halt")
	}
	assert.ErrorIs(t, h.e.Err(), gateway.ErrFatal)
	require.NoError(t, h.e.Stop())
}

func TestOnOrderDoneReleasesIDs(t *testing.T) {
	var mu sync.Mutex
	var done []string
	h := newHarness(t, func(_ *Config, c *Components) {
		c.OnOrderDone = func(id string) {
			mu.Lock()
			done = append(done, id)
			mu.Unlock()
		}
	})
	h.startDispatcher(t)
	h.book(599.9, 600.1)
	h.tick(t)

	// 价格移动超出容忍度后旧单撤销
	h.book(600.1, 600.3)
	h.tick(t)
	h.tick(t)
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, done, 2)
}
