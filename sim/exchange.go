package sim

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"backpack-mm/gateway"
	"backpack-mm/market"
	"backpack-mm/order"
)

// EventSink 接收模拟交易所产生的回报，通常是 engine.Deliver。
type EventSink func(order.Event)

type restingOrder struct {
	req       gateway.OrderRequest
	id        string
	remaining float64
	seq       int64
}

// Exchange 内存撮合的纸面交易所，实现 gateway.Client。
// 限价单按对手价穿越撮合为 maker，市价单按盘口即时成交为 taker。
type Exchange struct {
	mu      sync.Mutex
	sink    EventSink
	snap    market.Snapshot
	resting map[string]*restingOrder
	seq     int64

	MakerFeeBps float64
	TakerFeeBps float64
	// Latency 每个请求的模拟往返时延。
	Latency time.Duration
	// Fault 非空时在下单前调用，返回的 error 原样交给调用方，用于故障注入。
	Fault func(req gateway.OrderRequest) error
	// CancelFault 同 Fault，作用于单笔撤单；返回错误时订单保持挂单。
	CancelFault func(exchangeID string) error
	Now         func() time.Time

	submits int
	cancels int
}

func NewExchange(sink EventSink) *Exchange {
	return &Exchange{
		sink:        sink,
		resting:     make(map[string]*restingOrder),
		MakerFeeBps: 2,
		TakerFeeBps: 5,
		Now:         time.Now,
	}
}

// SetSink 替换回报接收者。
func (e *Exchange) SetSink(sink EventSink) {
	e.mu.Lock()
	e.sink = sink
	e.mu.Unlock()
}

func (e *Exchange) Submit(ctx context.Context, req gateway.OrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", &gateway.RejectError{Status: 400, Code: "INVALID_ORDER", Message: err.Error()}
	}
	if err := e.wait(ctx); err != nil {
		return "", err
	}
	if e.Fault != nil {
		if err := e.Fault(req); err != nil {
			return "", err
		}
	}

	e.mu.Lock()
	e.submits++
	if req.Type == gateway.OrderTypeMarket {
		touch := e.snap.AskPrice
		if req.Side == order.SideSell {
			touch = e.snap.BidPrice
		}
		if touch <= 0 {
			e.mu.Unlock()
			return "", &gateway.RejectError{Status: 400, Code: "INVALID_ORDER", Message: "no liquidity"}
		}
		e.seq++
		id := strconv.FormatInt(e.seq, 10)
		now := e.Now()
		evs := []order.Event{
			{Kind: order.EventAck, CorrelationID: req.ClientID, ExchangeID: id, Side: req.Side, At: now},
			{Kind: order.EventFill, CorrelationID: req.ClientID, ExchangeID: id, Side: req.Side,
				Price: touch, Qty: req.Qty, Fee: touch * req.Qty * e.TakerFeeBps / 1e4, At: now},
		}
		sink := e.sink
		e.mu.Unlock()
		emit(sink, evs)
		return id, nil
	}

	if req.PostOnly && e.crosses(req.Side, req.Price) {
		e.mu.Unlock()
		return "", &gateway.RejectError{Status: 400, Code: "INVALID_ORDER", Message: "post-only order would immediately match"}
	}
	e.seq++
	o := &restingOrder{req: req, id: strconv.FormatInt(e.seq, 10), remaining: req.Qty, seq: e.seq}
	e.resting[o.id] = o
	evs := []order.Event{{Kind: order.EventAck, CorrelationID: req.ClientID, ExchangeID: o.id, Side: req.Side, At: e.Now()}}
	sink := e.sink
	e.mu.Unlock()
	emit(sink, evs)
	return o.id, nil
}

func (e *Exchange) Cancel(ctx context.Context, symbol, exchangeID string) error {
	if err := e.wait(ctx); err != nil {
		return err
	}
	if e.CancelFault != nil {
		if err := e.CancelFault(exchangeID); err != nil {
			return err
		}
	}
	e.mu.Lock()
	e.cancels++
	o, ok := e.resting[exchangeID]
	if !ok {
		e.mu.Unlock()
		return &gateway.RejectError{Status: 400, Code: "RESOURCE_NOT_FOUND", Message: fmt.Sprintf("order %s not found", exchangeID)}
	}
	delete(e.resting, exchangeID)
	evs := []order.Event{{Kind: order.EventCancelAck, CorrelationID: o.req.ClientID, ExchangeID: o.id, Side: o.req.Side, At: e.Now()}}
	sink := e.sink
	e.mu.Unlock()
	emit(sink, evs)
	return nil
}

func (e *Exchange) CancelAll(ctx context.Context, symbol string) error {
	if err := e.wait(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	e.cancels++
	var evs []order.Event
	now := e.Now()
	for _, o := range e.sortedResting() {
		if symbol != "" && o.req.Symbol != symbol {
			continue
		}
		delete(e.resting, o.id)
		evs = append(evs, order.Event{Kind: order.EventCancelAck, CorrelationID: o.req.ClientID, ExchangeID: o.id, Side: o.req.Side, At: now})
	}
	sink := e.sink
	e.mu.Unlock()
	emit(sink, evs)
	return nil
}

// OnSnapshot 更新盘口并撮合被穿越的挂单，成交价为挂单价。
func (e *Exchange) OnSnapshot(s market.Snapshot) {
	e.mu.Lock()
	e.snap = s
	var evs []order.Event
	for _, o := range e.sortedResting() {
		if !e.crosses(o.req.Side, o.req.Price) {
			continue
		}
		evs = append(evs, e.fill(o, o.remaining))
	}
	sink := e.sink
	e.mu.Unlock()
	emit(sink, evs)
}

// OnTrade 成交打到挂单价位时按成交量部分撮合，先到先得。
func (e *Exchange) OnTrade(price, qty float64) {
	e.mu.Lock()
	var evs []order.Event
	left := qty
	for _, o := range e.sortedResting() {
		if left <= 0 {
			break
		}
		hit := (o.req.Side == order.SideBuy && price <= o.req.Price) ||
			(o.req.Side == order.SideSell && price >= o.req.Price)
		if !hit {
			continue
		}
		q := math.Min(left, o.remaining)
		left -= q
		evs = append(evs, e.fill(o, q))
	}
	sink := e.sink
	e.mu.Unlock()
	emit(sink, evs)
}

// Resting 当前挂单（按提交顺序）。
func (e *Exchange) Resting() []gateway.OrderRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]gateway.OrderRequest, 0, len(e.resting))
	for _, o := range e.sortedResting() {
		r := o.req
		r.Qty = o.remaining
		out = append(out, r)
	}
	return out
}

// Requests 返回累计的下单与撤单请求数。
func (e *Exchange) Requests() (submits, cancels int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submits, e.cancels
}

func (e *Exchange) fill(o *restingOrder, qty float64) order.Event {
	o.remaining -= qty
	if o.remaining <= 1e-12 {
		delete(e.resting, o.id)
	}
	return order.Event{
		Kind:          order.EventFill,
		CorrelationID: o.req.ClientID,
		ExchangeID:    o.id,
		Side:          o.req.Side,
		Price:         o.req.Price,
		Qty:           qty,
		Fee:           o.req.Price * qty * e.MakerFeeBps / 1e4,
		Maker:         true,
		At:            e.Now(),
	}
}

func (e *Exchange) crosses(side order.Side, price float64) bool {
	if side == order.SideBuy {
		return e.snap.HasAsk() && price >= e.snap.AskPrice
	}
	return e.snap.HasBid() && price <= e.snap.BidPrice
}

func (e *Exchange) sortedResting() []*restingOrder {
	out := make([]*restingOrder, 0, len(e.resting))
	for _, o := range e.resting {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (e *Exchange) wait(ctx context.Context) error {
	if e.Latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(e.Latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func emit(sink EventSink, evs []order.Event) {
	if sink == nil {
		return
	}
	for _, ev := range evs {
		sink(ev)
	}
}
