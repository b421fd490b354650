package order

import "time"

// Side 订单方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite 返回反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign 买为 +1，卖为 -1。
func (s Side) Sign() float64 {
	if s == SideBuy {
		return 1
	}
	return -1
}

// Status represents order lifecycle.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusOpen     Status = "OPEN"
	StatusPartial  Status = "PARTIALLY_FILLED"
	StatusFilled   Status = "FILLED"
	StatusCanceled Status = "CANCELED"
	StatusRejected Status = "REJECTED"
	// StatusUnknown 提交或撤单超时未收到回报，保守地视为仍可能在交易所挂着。
	StatusUnknown Status = "UNKNOWN"
)

// Quote 单边目标报价。
type Quote struct {
	Side  Side
	Price float64
	Size  float64
}

// QuoteTarget 本 tick 期望的买卖报价，nil 表示该侧不报价。
type QuoteTarget struct {
	Bid *Quote
	Ask *Quote
}

// For 返回指定方向的目标报价。
func (t QuoteTarget) For(side Side) *Quote {
	if side == SideBuy {
		return t.Bid
	}
	return t.Ask
}

// Empty 两侧都不报价。
func (t QuoteTarget) Empty() bool {
	return t.Bid == nil && t.Ask == nil
}

// LiveOrder 本地维护的活跃订单视图，以客户端分配的 CorrelationID 为键。
type LiveOrder struct {
	CorrelationID   string
	ExchangeID      string
	Side            Side
	Price           float64
	Size            float64
	Remaining       float64
	Status          Status
	CancelRequested bool
	// Hedge 对冲单不参与报价对账。
	Hedge       bool
	SubmittedAt time.Time
	UpdatedAt   time.Time
}

// Filled 已成交数量。
func (o LiveOrder) Filled() float64 {
	return o.Size - o.Remaining
}
