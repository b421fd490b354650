package sim

import (
	"context"
	"errors"
	"time"

	"backpack-mm/gateway"
	"backpack-mm/market"
)

// Feeder 按固定间隔推进随机游走，把行情同时交给引擎与模拟撮合。
type Feeder struct {
	Walk     *RandomWalk
	Exchange *Exchange
	Handler  gateway.StreamHandler
	Interval time.Duration
	Now      func() time.Time
}

// Run 阻塞直到 ctx 取消。
func (f *Feeder) Run(ctx context.Context) error {
	if f.Walk == nil || f.Exchange == nil || f.Handler == nil {
		return errors.New("feeder requires walk, exchange and handler")
	}
	if f.Interval <= 0 {
		return errors.New("feeder interval must be > 0")
	}
	now := f.Now
	if now == nil {
		now = time.Now
	}
	ticker := time.NewTicker(f.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f.Step(now())
		}
	}
}

// Step 推进一步：先更新引擎行情，再让模拟交易所撮合穿价挂单。
func (f *Feeder) Step(now time.Time) {
	top, trade := f.Walk.Next(now)
	f.Handler.OnFeed(top)
	f.Exchange.OnSnapshot(market.Snapshot{
		BidPrice:  top.BidPrice,
		BidSize:   top.BidSize,
		AskPrice:  top.AskPrice,
		AskSize:   top.AskSize,
		Timestamp: top.Ts,
	})
	if trade != nil {
		f.Handler.OnFeed(*trade)
		f.Exchange.OnTrade(trade.TradePrice, trade.TradeQty)
	}
}
