package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"backpack-mm/market"
	"backpack-mm/order"
)

// StreamMessage 对应 Backpack 订阅流的包装。
type StreamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type streamHeader struct {
	Event string `json:"e"`
}

type bookTickerData struct {
	Symbol  string `json:"s"`
	Ask     string `json:"a"`
	AskQty  string `json:"A"`
	Bid     string `json:"b"`
	BidQty  string `json:"B"`
	EngineT int64  `json:"T"`
}

type tradeData struct {
	Symbol  string `json:"s"`
	Price   string `json:"p"`
	Qty     string `json:"q"`
	EngineT int64  `json:"T"`
}

type depthData struct {
	Symbol  string      `json:"s"`
	Asks    [][2]string `json:"a"`
	Bids    [][2]string `json:"b"`
	EngineT int64       `json:"T"`
}

type orderUpdateData struct {
	Event     string      `json:"e"`
	EventTime int64       `json:"E"`
	Symbol    string      `json:"s"`
	ClientID  json.Number `json:"c"`
	Side      string      `json:"S"`
	OrderID   string      `json:"i"`
	Status    string      `json:"X"`
	FillQty   string      `json:"l"`
	FillPrice string      `json:"L"`
	Maker     bool        `json:"m"`
	Fee       string      `json:"n"`
}

// Parsed 一条流消息解析后的结果，二者至多一个非空。
type Parsed struct {
	Feed  *market.FeedEvent
	Order *order.Event
}

// ParseStreamMessage 解析行情（bookTicker/trade/depth）与私有订单流（account.orderUpdate）。
// ids 用于把 clientId 反查回 CorrelationID，可为 nil。
func ParseStreamMessage(raw []byte, ids *ClientIDs) (Parsed, error) {
	var msg StreamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Parsed{}, err
	}
	if len(msg.Data) == 0 {
		// 订阅确认等控制消息
		return Parsed{}, nil
	}
	var hdr streamHeader
	if err := json.Unmarshal(msg.Data, &hdr); err != nil {
		return Parsed{}, err
	}

	switch hdr.Event {
	case "bookTicker":
		var d bookTickerData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return Parsed{}, err
		}
		ev := market.FeedEvent{Kind: market.FeedBookTop, Ts: microTime(d.EngineT)}
		var err error
		if ev.BidPrice, err = parseDecimal(d.Bid); err != nil {
			return Parsed{}, fmt.Errorf("bookTicker bid: %w", err)
		}
		if ev.BidSize, err = parseDecimal(d.BidQty); err != nil {
			return Parsed{}, fmt.Errorf("bookTicker bid qty: %w", err)
		}
		if ev.AskPrice, err = parseDecimal(d.Ask); err != nil {
			return Parsed{}, fmt.Errorf("bookTicker ask: %w", err)
		}
		if ev.AskSize, err = parseDecimal(d.AskQty); err != nil {
			return Parsed{}, fmt.Errorf("bookTicker ask qty: %w", err)
		}
		return Parsed{Feed: &ev}, nil

	case "trade":
		var d tradeData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return Parsed{}, err
		}
		ev := market.FeedEvent{Kind: market.FeedTrade, Ts: microTime(d.EngineT)}
		var err error
		if ev.TradePrice, err = parseDecimal(d.Price); err != nil {
			return Parsed{}, fmt.Errorf("trade price: %w", err)
		}
		if ev.TradeQty, err = parseDecimal(d.Qty); err != nil {
			return Parsed{}, fmt.Errorf("trade qty: %w", err)
		}
		return Parsed{Feed: &ev}, nil

	case "depth":
		var d depthData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return Parsed{}, err
		}
		bids, err := parseLevels(d.Bids)
		if err != nil {
			return Parsed{}, fmt.Errorf("depth bids: %w", err)
		}
		asks, err := parseLevels(d.Asks)
		if err != nil {
			return Parsed{}, fmt.Errorf("depth asks: %w", err)
		}
		ev := market.FeedEvent{Kind: market.FeedDepth, Bids: bids, Asks: asks, Ts: microTime(d.EngineT)}
		return Parsed{Feed: &ev}, nil

	case "orderAccepted", "orderCancelled", "orderExpired", "orderFill":
		var d orderUpdateData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return Parsed{}, err
		}
		ev, err := orderEvent(d, ids)
		if err != nil {
			return Parsed{}, err
		}
		return Parsed{Order: &ev}, nil

	default:
		return Parsed{}, nil
	}
}

func orderEvent(d orderUpdateData, ids *ClientIDs) (order.Event, error) {
	ev := order.Event{ExchangeID: d.OrderID, At: microTime(d.EventTime), Side: order.SideSell}
	if d.Side == "Bid" {
		ev.Side = order.SideBuy
	}
	if d.ClientID != "" && ids != nil {
		if n, err := strconv.ParseUint(d.ClientID.String(), 10, 32); err == nil {
			if cid, ok := ids.Lookup(uint32(n)); ok {
				ev.CorrelationID = cid
			}
		}
	}
	switch d.Event {
	case "orderAccepted":
		ev.Kind = order.EventAck
	case "orderCancelled":
		ev.Kind = order.EventCancelAck
	case "orderExpired":
		// post-only 会穿价等情况被交易所直接过期
		ev.Kind = order.EventCancelAck
		ev.Reason = "expired"
	case "orderFill":
		ev.Kind = order.EventFill
		var err error
		if ev.Qty, err = parseDecimal(d.FillQty); err != nil {
			return ev, fmt.Errorf("fill qty: %w", err)
		}
		if ev.Price, err = parseDecimal(d.FillPrice); err != nil {
			return ev, fmt.Errorf("fill price: %w", err)
		}
		if ev.Fee, err = parseDecimal(d.Fee); err != nil {
			return ev, fmt.Errorf("fill fee: %w", err)
		}
		ev.Maker = d.Maker
	}
	return ev, nil
}

func microTime(us int64) time.Time {
	if us <= 0 {
		return time.Now()
	}
	return time.UnixMicro(us)
}
