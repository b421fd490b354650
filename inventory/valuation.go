package inventory

import "math"

// Valuation 基于当前 mark 价计算未实现盈亏。
func (t *Tracker) Valuation(mark float64) (net float64, pnl float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	net = t.pos.Qty
	if net == 0 {
		return 0, 0
	}
	pnl = (mark - t.pos.AvgEntry) * net
	return
}

// Notional 当前仓位按 mark 价计的名义敞口（绝对值）。
func (t *Tracker) Notional(mark float64) float64 {
	return math.Abs(t.Exposure()) * mark
}
