package order

import (
	"fmt"
	"time"
)

// EventKind 交易所回报类型。
type EventKind string

const (
	EventAck          EventKind = "ACK"
	EventFill         EventKind = "FILL"
	EventReject       EventKind = "REJECT"
	EventCancelAck EventKind = "CANCEL_ACK"
	// EventCancelReject 撤单被拒且订单在交易所已不存在。
	EventCancelReject EventKind = "CANCEL_REJECT"
	// EventTimeout 请求在超时时间内没有得到确定回报。
	EventTimeout EventKind = "TIMEOUT"
	// EventCancelAll 全撤成功，所有报价单视为已撤。
	EventCancelAll EventKind = "CANCEL_ALL"
	// EventFatal 鉴权失败或连接彻底丢失，必须停止报价。
	EventFatal EventKind = "FATAL"
)

// Event 网络侧回报，按到达顺序投递给控制循环。
type Event struct {
	Kind          EventKind
	CorrelationID string
	ExchangeID    string
	Side          Side
	// Fill: 本次成交价格与数量（增量）。
	Price float64
	Qty   float64
	Fee   float64
	Maker bool
	Hedge bool

	Reason string
	Err    error
	At     time.Time
}

func (e Event) String() string {
	switch e.Kind {
	case EventFill:
		return fmt.Sprintf("%s %s %s %.8f@%.8f", e.Kind, e.CorrelationID, e.Side, e.Qty, e.Price)
	case EventReject, EventCancelReject, EventTimeout, EventFatal:
		return fmt.Sprintf("%s %s: %s", e.Kind, e.CorrelationID, e.Reason)
	default:
		return fmt.Sprintf("%s %s", e.Kind, e.CorrelationID)
	}
}
