package market

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNoMarketData 从未收到过可用于定价的行情。
	ErrNoMarketData = errors.New("no market data")
	// ErrCrossedBook 更新后 bid > ask，丢弃该更新。
	ErrCrossedBook = errors.New("crossed book")
)

// FeedKind 归一化后的行情事件类型。
type FeedKind int

const (
	// FeedBookTop 顶档快照（Backpack bookTicker）。
	FeedBookTop FeedKind = iota
	// FeedDepth 深度增量；Reset 为 true 时为全量快照。
	FeedDepth
	// FeedTrade 逐笔成交。
	FeedTrade
)

// FeedEvent 由行情解码器产出。
type FeedEvent struct {
	Kind FeedKind

	BidPrice float64
	BidSize  float64
	AskPrice float64
	AskSize  float64

	Bids  map[float64]float64
	Asks  map[float64]float64
	Reset bool

	TradePrice float64
	TradeQty   float64

	Ts time.Time
}

// FairMode 公允价计算方式。
type FairMode string

const (
	FairMid        FairMode = "mid"
	FairMicroprice FairMode = "microprice"
)

// Tracker 维护单一标的的最新快照和公允价。
type Tracker struct {
	mu     sync.RWMutex
	symbol string
	mode   FairMode
	book   *OrderBook
	snap   Snapshot
	seen   bool
}

func NewTracker(symbol string, mode FairMode) *Tracker {
	if mode == "" {
		mode = FairMid
	}
	return &Tracker{
		symbol: symbol,
		mode:   mode,
		book:   NewOrderBook(),
	}
}

func (t *Tracker) Symbol() string { return t.symbol }

// Update 应用一条行情事件并返回新快照。交叉报价被拒绝，保留旧快照。
func (t *Tracker) Update(ev FeedEvent) (Snapshot, error) {
	t.mu.Lock()
	next := t.snap
	book := t.book
	switch ev.Kind {
	case FeedBookTop:
		next.BidPrice, next.BidSize = ev.BidPrice, ev.BidSize
		next.AskPrice, next.AskSize = ev.AskPrice, ev.AskSize
	case FeedDepth:
		// 在副本上应用，交叉时整本簿保持不变
		book = t.book.Clone()
		if ev.Reset {
			book.Reset(ev.Bids, ev.Asks)
		} else {
			book.ApplyDelta(ev.Bids, ev.Asks)
		}
		bid, ask := book.BestLevels()
		next.BidPrice, next.BidSize = bid.Price, bid.Qty
		next.AskPrice, next.AskSize = ask.Price, ask.Qty
	case FeedTrade:
		if ev.TradePrice <= 0 {
			t.mu.Unlock()
			return t.Snapshot(), fmt.Errorf("trade price must be > 0, got %v", ev.TradePrice)
		}
		next.LastTrade = ev.TradePrice
	default:
		t.mu.Unlock()
		return t.Snapshot(), fmt.Errorf("unknown feed kind %d", ev.Kind)
	}
	if next.Crossed() {
		prev := t.snap
		t.mu.Unlock()
		return prev, fmt.Errorf("%w: bid %.8f > ask %.8f", ErrCrossedBook, next.BidPrice, next.AskPrice)
	}
	next.Timestamp = ev.Ts
	if next.Timestamp.IsZero() {
		next.Timestamp = time.Now()
	}
	t.snap = next
	t.book = book
	t.seen = true
	t.mu.Unlock()
	return next, nil
}

// Snapshot 返回当前快照（拷贝）。
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

// FairPrice 两侧齐全取 mid（或 microprice），单边缺失退回最新成交价。
func (t *Tracker) FairPrice() (float64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return fairPrice(t.snap, t.seen, t.mode)
}

// FairPriceOf 对给定快照计算公允价，供控制循环在同一快照上决策。
func (t *Tracker) FairPriceOf(s Snapshot) (float64, error) {
	return fairPrice(s, !s.Timestamp.IsZero(), t.mode)
}

// Age 距离上次更新的时长；从未收到数据返回 -1。
func (t *Tracker) Age(now time.Time) time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.seen {
		return -1
	}
	return now.Sub(t.snap.Timestamp)
}

func fairPrice(s Snapshot, seen bool, mode FairMode) (float64, error) {
	if !seen {
		return 0, ErrNoMarketData
	}
	if s.HasBid() && s.HasAsk() {
		if mode == FairMicroprice {
			return s.Microprice(), nil
		}
		return s.Mid(), nil
	}
	if s.LastTrade > 0 {
		return s.LastTrade, nil
	}
	return 0, ErrNoMarketData
}
