package market

import "time"

// Snapshot represents a market snapshot. 值类型，每次行情更新整体替换。
type Snapshot struct {
	BidPrice  float64
	BidSize   float64
	AskPrice  float64
	AskSize   float64
	LastTrade float64
	Timestamp time.Time
}

func (s Snapshot) HasBid() bool { return s.BidPrice > 0 }
func (s Snapshot) HasAsk() bool { return s.AskPrice > 0 }

// Mid 返回中间价；若缺失任一侧返回 0。
func (s Snapshot) Mid() float64 {
	if !s.HasBid() || !s.HasAsk() {
		return 0
	}
	return (s.BidPrice + s.AskPrice) / 2
}

// Spread 买卖价差；单边缺失返回 0。
func (s Snapshot) Spread() float64 {
	if !s.HasBid() || !s.HasAsk() {
		return 0
	}
	return s.AskPrice - s.BidPrice
}

// Microprice 按顶档挂单量加权的中间价，买盘越厚越靠近卖价。
// 缺少挂单量时退化为 Mid。
func (s Snapshot) Microprice() float64 {
	mid := s.Mid()
	if mid == 0 || s.BidSize <= 0 || s.AskSize <= 0 {
		return mid
	}
	return mid + CalculateImbalance(s.BidSize, s.AskSize)*s.Spread()/2
}

// Crossed bid > ask 的非法快照。
func (s Snapshot) Crossed() bool {
	return s.HasBid() && s.HasAsk() && s.BidPrice > s.AskPrice
}
