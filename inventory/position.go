package inventory

import (
	"fmt"
	"math"
	"sync"

	"github.com/shopspring/decimal"

	"backpack-mm/order"
	"backpack-mm/risk"
)

// Fill 一笔确认成交（报价单或对冲单）。
type Fill struct {
	Side  order.Side
	Price float64
	Qty   float64
	Fee   float64
	Maker bool
}

// Position 仓位快照。
type Position struct {
	Symbol      string
	Qty         float64 // 正为多头
	AvgEntry    float64
	RealizedPnL float64
	Fees        float64
	BuyVolume   float64
	SellVolume  float64
	MakerVolume float64 // 名义金额
	TakerVolume float64
	Fills       int
}

// Tracker 维护净仓位，只由成交驱动。
type Tracker struct {
	mu     sync.RWMutex
	bounds risk.Bounds
	pos    Position

	// 数量按十进制累加，避免 0.1 累加十次得不到 1.0
	qty     decimal.Decimal
	buyVol  decimal.Decimal
	sellVol decimal.Decimal
}

func NewTracker(symbol string, bounds risk.Bounds) *Tracker {
	return &Tracker{bounds: bounds, pos: Position{Symbol: symbol}}
}

// ApplyFill 按方向更新仓位：加仓重算加权均价，减仓/反手记已实现盈亏。
func (t *Tracker) ApplyFill(side order.Side, price, qty float64) error {
	return t.Apply(Fill{Side: side, Price: price, Qty: qty})
}

// Apply 同 ApplyFill，额外记录手续费与 maker/taker 成交额。
func (t *Tracker) Apply(f Fill) error {
	if f.Qty <= 0 || math.IsNaN(f.Qty) || math.IsInf(f.Qty, 0) {
		return fmt.Errorf("fill qty must be > 0, got %v", f.Qty)
	}
	if f.Price <= 0 || math.IsNaN(f.Price) {
		return fmt.Errorf("fill price must be > 0, got %v", f.Price)
	}
	if f.Side != order.SideBuy && f.Side != order.SideSell {
		return fmt.Errorf("unknown fill side %q", f.Side)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p := &t.pos
	q := decimal.NewFromFloat(f.Qty)
	delta := q
	if f.Side == order.SideSell {
		delta = q.Neg()
	}
	next := t.qty.Add(delta)
	if t.qty.IsZero() || t.qty.Sign() == delta.Sign() {
		// 简化：加权平均成本
		abs := t.qty.Abs().InexactFloat64()
		p.AvgEntry = (p.AvgEntry*abs + f.Price*f.Qty) / (abs + f.Qty)
	} else {
		closed := decimal.Min(q, t.qty.Abs()).InexactFloat64()
		dir := float64(t.qty.Sign())
		p.RealizedPnL += (f.Price - p.AvgEntry) * closed * dir
		switch {
		case next.IsZero():
			p.AvgEntry = 0
		case next.Sign() != t.qty.Sign():
			// 反手：剩余部分以成交价开新仓
			p.AvgEntry = f.Price
		}
	}
	t.qty = next
	p.Qty = next.InexactFloat64()

	notional := f.Price * f.Qty
	if f.Side == order.SideBuy {
		t.buyVol = t.buyVol.Add(q)
		p.BuyVolume = t.buyVol.InexactFloat64()
	} else {
		t.sellVol = t.sellVol.Add(q)
		p.SellVolume = t.sellVol.InexactFloat64()
	}
	if f.Maker {
		p.MakerVolume += notional
	} else {
		p.TakerVolume += notional
	}
	p.Fees += f.Fee
	p.RealizedPnL -= f.Fee
	p.Fills++
	return nil
}

// Exposure 当前带符号仓位。
func (t *Tracker) Exposure() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pos.Qty
}

func (t *Tracker) AvgEntry() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pos.AvgEntry
}

func (t *Tracker) RealizedPnL() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pos.RealizedPnL
}

// Position 返回仓位快照（拷贝）。
func (t *Tracker) Position() Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pos
}

// RiskLevel 当前仓位对应的风险等级。
func (t *Tracker) RiskLevel() risk.Level {
	return t.bounds.Classify(t.Exposure())
}

func (t *Tracker) Bounds() risk.Bounds { return t.bounds }
