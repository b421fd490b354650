package engine

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"backpack-mm/gateway"
	"backpack-mm/hedge"
	"backpack-mm/internal/journal"
	"backpack-mm/market"
	"backpack-mm/order"
	"backpack-mm/risk"
)

// 跳过报价的原因，对应 ticks_skipped_total{reason}
const (
	skipNoMarketData   = "no_market_data"
	skipStale          = "stale"
	skipDispatcherBusy = "dispatcher_busy"
)

// onTick 一个决策周期。只在决策协程调用。
func (e *Engine) onTick(now time.Time) {
	start := time.Now()
	e.statsMu.Lock()
	e.stats.TotalTicks++
	e.stats.LastTickTime = now
	e.statsMu.Unlock()
	defer func() {
		if e.monitor != nil {
			e.monitor.RecordTick(time.Since(start).Seconds())
		}
	}()

	// 1. 按到达顺序处理回报
	e.drainInbox()
	if e.halted {
		return
	}

	// 2. 超时与恢复
	for _, o := range e.book.ExpirePending(now, e.config.AckTimeout) {
		e.logger.LogOrder("ack_timeout", o.CorrelationID, map[string]interface{}{
			"side": string(o.Side), "price": o.Price, "size": o.Size,
		})
		if e.monitor != nil {
			e.monitor.RecordOrderUnknown()
		}
	}

	// 3. 上一批请求尚未完成
	if e.busy.Load() {
		e.skip(skipDispatcherBusy)
		return
	}

	// 全撤恢复失败时间隔 UnknownRecovery 后重试
	if now.Sub(e.recoveryAt) >= e.config.UnknownRecovery && e.book.OldestUnknown(now) >= e.config.UnknownRecovery {
		e.logger.LogRisk("unknown_recovery", map[string]interface{}{
			"unknown": e.book.CountStatus(order.StatusUnknown),
		})
		_ = e.alerts.Warn("unknown_recovery", "orders stuck in unknown state, cancelling all", nil)
		e.recoveryAt = now
		e.submit(batch{cancelAll: true})
		return
	}

	// 4. 行情
	snap := e.market.Snapshot()
	fair, err := e.market.FairPriceOf(snap)
	if err != nil {
		e.logger.Debug("skip tick", zap.String("reason", skipNoMarketData), zap.Error(err))
		e.skip(skipNoMarketData)
		return
	}
	if age := e.market.Age(now); age > e.config.MaxDataAge {
		e.logger.Debug("skip tick", zap.String("reason", skipStale), zap.Duration("age", age))
		e.skip(skipStale)
		return
	}

	pos := e.inventory.Exposure()
	level := e.inventory.RiskLevel()
	e.observe(now, fair, pos, level)

	// 5. 价格熔断
	halted := false
	if e.breaker != nil {
		if tripped, reason := e.breaker.OnTick(risk.Tick{Price: fair, Ts: now}); tripped {
			e.logger.LogRisk("circuit_tripped", map[string]interface{}{"reason": reason, "fair": fair})
			_ = e.alerts.Warn("circuit", "price shock circuit breaker tripped", map[string]interface{}{"reason": reason})
			if e.monitor != nil {
				e.monitor.RecordCircuitTrip()
			}
		}
		halted = e.breaker.Halted(now)
	}
	if halted != e.wasHalted {
		e.logger.Info("quoting halt state changed", zap.Bool("halted", halted))
		e.wasHalted = halted
	}

	// 6. 报价、对账、对冲
	var target order.QuoteTarget
	if !halted {
		target = e.generator.Generate(fair, pos, level, e.config.BaseOrderSizeUSD)
		e.statsMu.Lock()
		e.stats.TotalQuotes++
		e.statsMu.Unlock()
		if e.monitor != nil {
			e.monitor.RecordQuoteGenerated()
		}
	}
	if e.monitor != nil {
		var bid, ask float64
		if target.Bid != nil {
			bid = target.Bid.Price
		}
		if target.Ask != nil {
			ask = target.Ask.Price
		}
		e.monitor.UpdateQuotes(bid, ask)
	}

	actions := e.reconciler.Reconcile(target, e.book.List())
	req := e.hedger.Check(level, pos, now)

	// 7. 登记到 Book 后交给 dispatcher
	b := e.buildBatch(actions, req, snap, now)
	if !b.empty() {
		e.submit(b)
	}
}

func (e *Engine) skip(reason string) {
	e.statsMu.Lock()
	e.stats.SkippedTicks++
	e.statsMu.Unlock()
	if e.monitor != nil {
		e.monitor.RecordTickSkipped(reason)
	}
}

func (e *Engine) observe(now time.Time, fair, pos float64, level risk.Level) {
	if e.markout != nil {
		e.markout.Observe(fair, now)
	}
	if e.monitor == nil {
		return
	}
	_, unrealized := e.inventory.Valuation(fair)
	e.monitor.UpdateFairPrice(fair)
	e.monitor.UpdatePosition(pos, e.inventory.RealizedPnL(), unrealized, int(level))
	if e.markout != nil {
		st := e.markout.Stats()
		e.monitor.UpdateMarkout(st.AdverseSelectionRate, st.AvgMarkoutShortBps, st.AvgMarkoutLongBps)
	}
}

func (e *Engine) drainInbox() {
	// 只处理本 tick 开始时已到达的回报
	n := len(e.inbox)
	for i := 0; i < n; i++ {
		e.applyEvent(<-e.inbox)
		if e.halted {
			return
		}
	}
}

func (e *Engine) buildBatch(actions []order.Action, req *hedge.Request, snap market.Snapshot, now time.Time) batch {
	var b batch
	if req != nil {
		if hr, ok := e.hedgeRequest(*req, snap); ok {
			lo := order.LiveOrder{
				CorrelationID: hr.ClientID,
				Side:          hr.Side,
				Price:         hr.Price,
				Size:          hr.Qty,
				Hedge:         true,
				SubmittedAt:   now,
			}
			if err := e.book.Add(lo); err != nil {
				e.logger.Error("register hedge failed", zap.Error(err))
			} else {
				b.hedge = &hr
				e.logger.LogRisk("hedge_fired", map[string]interface{}{
					"side": string(req.Side), "qty": req.Qty, "urgency": string(req.Urgency),
					"reason": req.Reason, "position": e.inventory.Exposure(),
				})
				_ = e.alerts.Warn("hedge", "inventory breached, hedging", map[string]interface{}{
					"side": string(req.Side), "qty": req.Qty,
				})
				e.journal.Record(journal.Record{
					Kind: journal.KindHedge, Symbol: e.config.Symbol, CorrelationID: hr.ClientID,
					Side: string(req.Side), Price: hr.Price, Qty: req.Qty, Hedge: true,
					Position: e.inventory.Exposure(), RealizedPnL: e.inventory.RealizedPnL(),
					Reason: req.Reason, At: now,
				})
				e.statsMu.Lock()
				e.stats.TotalHedges++
				e.statsMu.Unlock()
			}
		}
	}

	for _, a := range actions {
		switch a.Kind {
		case order.ActionCancel:
			o, ok := e.book.Get(a.OrderID)
			if !ok {
				continue
			}
			if err := e.book.RequestCancel(a.OrderID, now); err != nil {
				e.logger.Debug("cancel not requested", zap.Error(err))
				continue
			}
			b.cancels = append(b.cancels, cancelReq{correlationID: o.CorrelationID, exchangeID: o.ExchangeID, side: o.Side})
		case order.ActionPlace:
			q := a.Quote
			id := uuid.NewString()
			if err := e.book.Add(order.LiveOrder{
				CorrelationID: id,
				Side:          q.Side,
				Price:         q.Price,
				Size:          q.Size,
				SubmittedAt:   now,
			}); err != nil {
				e.logger.Error("register order failed", zap.Error(err))
				continue
			}
			b.places = append(b.places, gateway.OrderRequest{
				Symbol:      e.config.Symbol,
				ClientID:    id,
				Side:        q.Side,
				Type:        gateway.OrderTypeLimit,
				Price:       q.Price,
				Qty:         q.Size,
				PostOnly:    true,
				TimeInForce: gateway.TimeInForceGTC,
			})
		}
	}
	return b
}

// hedgeRequest 把对冲意图转换为下单请求。aggressive 时用越过对手价的 IOC 限价单。
func (e *Engine) hedgeRequest(req hedge.Request, snap market.Snapshot) (gateway.OrderRequest, bool) {
	r := gateway.OrderRequest{
		Symbol:     e.config.Symbol,
		ClientID:   uuid.NewString(),
		Side:       req.Side,
		Type:       gateway.OrderTypeMarket,
		Qty:        req.Qty,
		ReduceOnly: e.config.HedgeReduceOnly,
	}
	if req.Urgency != hedge.UrgencyAggressive {
		return r, true
	}
	offset := e.config.HedgeAggressiveBps / 1e4
	if req.Side == order.SideBuy {
		if !snap.HasAsk() {
			e.logger.Warn("aggressive hedge skipped: no ask")
			return r, false
		}
		r.Price = e.cons.CeilPrice(snap.AskPrice * (1 + offset))
	} else {
		if !snap.HasBid() {
			e.logger.Warn("aggressive hedge skipped: no bid")
			return r, false
		}
		r.Price = e.cons.FloorPrice(snap.BidPrice * (1 - offset))
	}
	r.Type = gateway.OrderTypeLimit
	r.TimeInForce = gateway.TimeInForceIOC
	return r, true
}

// applyEvent 处理一条回报。成交总是先计入库存，即使订单已不在 Book 中。
func (e *Engine) applyEvent(ev order.Event) {
	switch ev.Kind {
	case order.EventFatal:
		err := ev.Err
		if err == nil {
			err = errors.New(ev.Reason)
		}
		e.fail(err)
		return
	case order.EventCancelAll:
		e.recoveryAt = time.Time{}
		cleared := e.book.Clear()
		for _, o := range cleared {
			e.orderDone(o)
		}
		e.logger.LogOrder("cancel_all_ack", "", map[string]interface{}{"cleared": len(cleared)})
		return
	case order.EventFill:
		e.applyFill(ev)
		return
	}

	o, err := e.book.Apply(ev)
	if err != nil {
		if errors.Is(err, order.ErrUnknownOrder) {
			e.logger.Debug("event for unknown order", zap.String("event", ev.String()))
		} else {
			e.logger.Warn("event rejected by order book", zap.String("event", ev.String()), zap.Error(err))
		}
		return
	}

	switch ev.Kind {
	case order.EventReject:
		e.recordError()
		if e.monitor != nil {
			e.monitor.RecordOrderRejected()
		}
		e.logger.LogOrder("rejected", o.CorrelationID, map[string]interface{}{
			"side": string(o.Side), "price": o.Price, "size": o.Size, "reason": ev.Reason, "hedge": o.Hedge,
		})
		if o.Hedge {
			// 不自动重发，除非配置了 retryInterval
			if e.monitor != nil {
				e.monitor.RecordHedge("rejected")
			}
			_ = e.alerts.Warn("hedge_rejected", "hedge order rejected", map[string]interface{}{"reason": ev.Reason})
		}
	case order.EventCancelAck, order.EventCancelReject:
		e.statsMu.Lock()
		e.stats.TotalCancels++
		e.statsMu.Unlock()
		if e.monitor != nil {
			e.monitor.RecordOrderCanceled()
		}
		e.logger.LogOrder("canceled", o.CorrelationID, map[string]interface{}{
			"side": string(o.Side), "remaining": o.Remaining, "reason": ev.Reason,
		})
	case order.EventTimeout:
		if e.monitor != nil {
			e.monitor.RecordOrderUnknown()
		}
		e.logger.LogOrder("timeout", o.CorrelationID, map[string]interface{}{"reason": ev.Reason})
	}
	if o.Status == order.StatusRejected || o.Status == order.StatusCanceled {
		e.orderDone(o)
	}
}

func (e *Engine) applyFill(ev order.Event) {
	if err := e.inventory.Apply(fillOf(ev)); err != nil {
		e.logger.Error("apply fill to inventory failed", zap.String("event", ev.String()), zap.Error(err))
		e.recordError()
		return
	}
	hedgeFill := ev.Hedge
	o, err := e.book.Apply(ev)
	switch {
	case err == nil:
		hedgeFill = hedgeFill || o.Hedge
		if o.Status == order.StatusFilled {
			e.orderDone(o)
		}
	case errors.Is(err, order.ErrUnknownOrder):
		e.logger.Debug("late fill for order no longer tracked", zap.String("event", ev.String()))
	default:
		e.logger.Warn("fill rejected by order book", zap.String("event", ev.String()), zap.Error(err))
	}

	if e.markout != nil && !hedgeFill {
		e.markout.OnFill(ev.CorrelationID, ev.Side, ev.Price, ev.At)
	}
	p := e.inventory.Position()
	e.statsMu.Lock()
	e.stats.TotalFills++
	e.statsMu.Unlock()
	if e.monitor != nil {
		e.monitor.RecordFill(ev.Qty, ev.Maker)
		if hedgeFill {
			e.monitor.RecordHedge("filled")
		}
	}
	e.logger.LogTrade("fill", map[string]interface{}{
		"order_id": ev.CorrelationID, "side": string(ev.Side), "price": ev.Price, "qty": ev.Qty,
		"maker": ev.Maker, "hedge": hedgeFill, "position": p.Qty, "realized_pnl": p.RealizedPnL,
	})
	e.journal.Record(journal.Record{
		Kind: journal.KindFill, Symbol: e.config.Symbol, CorrelationID: ev.CorrelationID,
		ExchangeID: ev.ExchangeID, Side: string(ev.Side), Price: ev.Price, Qty: ev.Qty, Fee: ev.Fee,
		Maker: ev.Maker, Hedge: hedgeFill, Position: p.Qty, RealizedPnL: p.RealizedPnL, At: ev.At,
	})
}
