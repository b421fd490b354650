package market

import (
	"sort"
	"sync"
)

// Level 一档价格与数量。
type Level struct {
	Price float64
	Qty   float64
}

// OrderBook 维护简单的价格->数量映射。
type OrderBook struct {
	mu   sync.RWMutex
	bids map[float64]float64 // price -> qty
	asks map[float64]float64
}

func NewOrderBook() *OrderBook {
	return &OrderBook{
		bids: make(map[float64]float64),
		asks: make(map[float64]float64),
	}
}

// Clone 深拷贝，用于先试算更新再提交。
func (ob *OrderBook) Clone() *OrderBook {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	c := &OrderBook{
		bids: make(map[float64]float64, len(ob.bids)),
		asks: make(map[float64]float64, len(ob.asks)),
	}
	for p, q := range ob.bids {
		c.bids[p] = q
	}
	for p, q := range ob.asks {
		c.asks[p] = q
	}
	return c
}

// Reset 用全量快照替换整本簿。
func (ob *OrderBook) Reset(bids, asks map[float64]float64) {
	ob.mu.Lock()
	ob.bids = make(map[float64]float64, len(bids))
	ob.asks = make(map[float64]float64, len(asks))
	ob.mu.Unlock()
	ob.ApplyDelta(bids, asks)
}

// ApplyDelta 应用增量更新，qty 为 0 表示删除该档。
func (ob *OrderBook) ApplyDelta(bidDelta map[float64]float64, askDelta map[float64]float64) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	for p, q := range bidDelta {
		if q <= 0 {
			delete(ob.bids, p)
		} else {
			ob.bids[p] = q
		}
	}
	for p, q := range askDelta {
		if q <= 0 {
			delete(ob.asks, p)
		} else {
			ob.asks[p] = q
		}
	}
}

// Best 返回最好买/卖价；若不存在则为 0。
func (ob *OrderBook) Best() (bestBid float64, bestAsk float64) {
	bid, ask := ob.BestLevels()
	return bid.Price, ask.Price
}

// BestLevels 返回最优买/卖档（含数量）；不存在的一侧为零值。
func (ob *OrderBook) BestLevels() (bid Level, ask Level) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	for p, q := range ob.bids {
		if p > bid.Price {
			bid = Level{Price: p, Qty: q}
		}
	}
	for p, q := range ob.asks {
		if ask.Price == 0 || p < ask.Price {
			ask = Level{Price: p, Qty: q}
		}
	}
	return bid, ask
}

// TopLevels 返回买卖各前 n 档，按优先级排序。
func (ob *OrderBook) TopLevels(n int) (bids []Level, asks []Level) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	bids = levels(ob.bids, func(a, b float64) bool { return a > b }, n)
	asks = levels(ob.asks, func(a, b float64) bool { return a < b }, n)
	return bids, asks
}

// Mid 返回中间价；若缺失任一侧返回 0。
func (ob *OrderBook) Mid() float64 {
	bid, ask := ob.Best()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

func levels(side map[float64]float64, better func(a, b float64) bool, n int) []Level {
	res := make([]Level, 0, len(side))
	for p, q := range side {
		res = append(res, Level{Price: p, Qty: q})
	}
	sort.Slice(res, func(i, j int) bool { return better(res[i].Price, res[j].Price) })
	if n > 0 && len(res) > n {
		res = res[:n]
	}
	return res
}
