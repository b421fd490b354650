package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"backpack-mm/gateway"
	"backpack-mm/inventory"
	"backpack-mm/order"
)

type cancelReq struct {
	correlationID string
	exchangeID    string
	side          order.Side
}

// batch 一个 tick 产生的全部交易所请求。执行顺序：全撤、对冲、撤单、下单。
type batch struct {
	cancelAll bool
	hedge     *gateway.OrderRequest
	cancels   []cancelReq
	places    []gateway.OrderRequest
}

func (b batch) empty() bool {
	return !b.cancelAll && b.hedge == nil && len(b.cancels) == 0 && len(b.places) == 0
}

// submit 交给 dispatcher；同一时间至多一批在途。
func (e *Engine) submit(b batch) {
	e.busy.Store(true)
	e.dispatch <- b
}

func (e *Engine) runDispatcher() {
	defer close(e.dispatchDone)
	for {
		select {
		case <-e.quit:
			return
		case b := <-e.dispatch:
			e.execute(b)
			e.busy.Store(false)
		}
	}
}

func (e *Engine) execute(b batch) {
	if b.cancelAll {
		err := e.call("cancelAll", func(ctx context.Context) error {
			return e.client.CancelAll(ctx, e.config.Symbol)
		})
		switch {
		case err == nil:
			e.Deliver(order.Event{Kind: order.EventCancelAll, At: e.clock.Now()})
		case errors.Is(err, gateway.ErrFatal):
			e.Deliver(order.Event{Kind: order.EventFatal, Reason: err.Error(), Err: err, At: e.clock.Now()})
			return
		default:
			e.logger.Warn("cancel all recovery failed", zap.Error(err))
		}
	}

	if b.hedge != nil {
		if !e.place(*b.hedge, true) {
			return
		}
	}
	for _, c := range b.cancels {
		if !e.cancel(c) {
			return
		}
	}
	for _, p := range b.places {
		if !e.place(p, false) {
			return
		}
	}
}

// place 返回 false 表示遇到致命错误，剩余请求放弃。
func (e *Engine) place(req gateway.OrderRequest, hedge bool) bool {
	var exchangeID string
	err := e.call("orderExecute", func(ctx context.Context) error {
		var err error
		exchangeID, err = e.client.Submit(ctx, req)
		return err
	})
	now := e.clock.Now()
	if err == nil {
		if e.monitor != nil {
			e.monitor.RecordOrderPlaced(string(req.Side))
			if hedge {
				e.monitor.RecordHedge("submitted")
			}
		}
		e.statsMu.Lock()
		e.stats.TotalOrders++
		e.statsMu.Unlock()
		e.Deliver(order.Event{Kind: order.EventAck, CorrelationID: req.ClientID, ExchangeID: exchangeID, Side: req.Side, Hedge: hedge, At: now})
		return true
	}
	ev := order.Event{CorrelationID: req.ClientID, Side: req.Side, Hedge: hedge, Reason: err.Error(), Err: err, At: now}
	switch {
	case errors.Is(err, gateway.ErrFatal):
		ev.Kind = order.EventFatal
		e.Deliver(ev)
		return false
	case gateway.IsReject(err):
		ev.Kind = order.EventReject
	default:
		// 超时或网络错误：订单是否存在不确定
		ev.Kind = order.EventTimeout
	}
	e.logger.Warn("submit failed",
		zap.String("client_id", req.ClientID),
		zap.String("side", string(req.Side)),
		zap.Float64("price", req.Price),
		zap.Float64("qty", req.Qty),
		zap.Bool("hedge", hedge),
		zap.Error(err))
	e.Deliver(ev)
	return true
}

func (e *Engine) cancel(c cancelReq) bool {
	err := e.call("orderCancel", func(ctx context.Context) error {
		return e.client.Cancel(ctx, e.config.Symbol, c.exchangeID)
	})
	ev := order.Event{CorrelationID: c.correlationID, ExchangeID: c.exchangeID, Side: c.side, At: e.clock.Now()}
	switch {
	case err == nil:
		ev.Kind = order.EventCancelAck
	case errors.Is(err, gateway.ErrFatal):
		ev.Kind, ev.Reason, ev.Err = order.EventFatal, err.Error(), err
		e.Deliver(ev)
		return false
	case gateway.IsOrderGone(err):
		ev.Kind, ev.Reason, ev.Err = order.EventCancelReject, err.Error(), err
	default:
		// 超时、限流等：订单可能仍挂着，转 Unknown 等待全撤恢复
		ev.Kind, ev.Reason, ev.Err = order.EventTimeout, err.Error(), err
	}
	if err != nil {
		e.logger.Warn("cancel failed", zap.String("client_id", c.correlationID), zap.Error(err))
	}
	e.Deliver(ev)
	return true
}

// call 带超时执行一次交易所请求并记录延迟。
func (e *Engine) call(action string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.config.RequestTimeout)
	defer cancel()
	start := time.Now()
	err := fn(ctx)
	if e.monitor != nil {
		e.monitor.RecordRESTLatency(action, time.Since(start).Seconds())
		if action == "orderExecute" {
			e.monitor.RecordOrderLatency(time.Since(start).Seconds())
		}
		if err != nil {
			e.monitor.RecordRESTError(action)
		}
	}
	return err
}

func fillOf(ev order.Event) inventory.Fill {
	return inventory.Fill{Side: ev.Side, Price: ev.Price, Qty: ev.Qty, Fee: ev.Fee, Maker: ev.Maker}
}
