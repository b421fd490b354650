package order

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrUnknownOrder 回报无法匹配到本地订单（已到终态或从未登记）。
	ErrUnknownOrder = errors.New("unknown order")
	// ErrDuplicateOrder 相同 CorrelationID 重复登记。
	ErrDuplicateOrder = errors.New("duplicate correlation id")
)

const qtyEpsilon = 1e-12

// Book 记录活跃订单和状态，终态订单立即移出。
type Book struct {
	mu         sync.RWMutex
	sm         *StateMachine
	orders     map[string]*LiveOrder
	byExchange map[string]string
}

func NewBook() *Book {
	return &Book{
		sm:         NewStateMachine(),
		orders:     make(map[string]*LiveOrder),
		byExchange: make(map[string]string),
	}
}

// Add 登记一个刚提交的订单，状态为 Pending。
func (b *Book) Add(o LiveOrder) error {
	if o.CorrelationID == "" {
		return fmt.Errorf("correlation id required")
	}
	if o.Size <= 0 {
		return fmt.Errorf("order %s size must be > 0", o.CorrelationID)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.orders[o.CorrelationID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateOrder, o.CorrelationID)
	}
	o.Status = StatusPending
	o.Remaining = o.Size
	o.CancelRequested = false
	o.UpdatedAt = o.SubmittedAt
	b.orders[o.CorrelationID] = &o
	if o.ExchangeID != "" {
		b.byExchange[o.ExchangeID] = o.CorrelationID
	}
	return nil
}

// RequestCancel 标记撤单已发出，等待 CancelAck。
func (b *Book) RequestCancel(id string, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOrder, id)
	}
	if !b.sm.CanCancel(o.Status) {
		return fmt.Errorf("order %s in status %s cannot be canceled", id, o.Status)
	}
	o.CancelRequested = true
	o.UpdatedAt = now
	return nil
}

// Apply 按到达顺序应用一条回报，返回更新后的订单快照。
// 到达终态的订单从 Book 中移除。
func (b *Book) Apply(ev Event) (LiveOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o := b.lookup(ev)
	if o == nil {
		return LiveOrder{}, fmt.Errorf("%w: %s", ErrUnknownOrder, ev.CorrelationID)
	}
	if ev.ExchangeID != "" && o.ExchangeID == "" {
		o.ExchangeID = ev.ExchangeID
		b.byExchange[ev.ExchangeID] = o.CorrelationID
	}

	next := o.Status
	switch ev.Kind {
	case EventAck:
		next = StatusOpen
		if o.Filled() > qtyEpsilon {
			next = StatusPartial
		}
	case EventFill:
		if ev.Qty <= 0 {
			return *o, fmt.Errorf("order %s fill qty must be > 0", o.CorrelationID)
		}
		o.Remaining -= ev.Qty
		if o.Remaining <= qtyEpsilon {
			o.Remaining = 0
			next = StatusFilled
		} else {
			next = StatusPartial
		}
	case EventReject:
		next = StatusRejected
	case EventCancelAck, EventCancelReject:
		// 只有交易所确认订单已不存在时才会收到 CancelReject，按已撤处理。
		next = StatusCanceled
	case EventTimeout:
		next = StatusUnknown
	default:
		return *o, fmt.Errorf("event %s not applicable to order %s", ev.Kind, o.CorrelationID)
	}

	if err := b.sm.ValidateTransition(o.Status, next); err != nil {
		return *o, fmt.Errorf("order %s: %w", o.CorrelationID, err)
	}
	o.Status = next
	if ev.Kind == EventTimeout {
		o.CancelRequested = false
	}
	if !ev.At.IsZero() {
		o.UpdatedAt = ev.At
	}
	snapshot := *o
	if b.sm.IsFinalState(next) {
		b.remove(o)
	}
	return snapshot, nil
}

// ExpirePending 把超过 ackTimeout 仍未确认的 Pending 订单标记为 Unknown。
func (b *Book) ExpirePending(now time.Time, ackTimeout time.Duration) []LiveOrder {
	if ackTimeout <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var expired []LiveOrder
	for _, o := range b.orders {
		if o.Status != StatusPending || now.Sub(o.SubmittedAt) < ackTimeout {
			continue
		}
		o.Status = StatusUnknown
		o.UpdatedAt = now
		expired = append(expired, *o)
	}
	sortOrders(expired)
	return expired
}

// OldestUnknown 返回处于 Unknown 状态最久的时长，没有则为 0。
func (b *Book) OldestUnknown(now time.Time) time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var oldest time.Duration
	for _, o := range b.orders {
		if o.Status != StatusUnknown {
			continue
		}
		if age := now.Sub(o.UpdatedAt); age > oldest {
			oldest = age
		}
	}
	return oldest
}

// CountStatus 统计指定状态的订单数量。
func (b *Book) CountStatus(st Status) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, o := range b.orders {
		if o.Status == st {
			n++
		}
	}
	return n
}

// Clear 全撤成功后清空 Book，返回被移除的订单。
func (b *Book) Clear() []LiveOrder {
	b.mu.Lock()
	defer b.mu.Unlock()
	res := make([]LiveOrder, 0, len(b.orders))
	for _, o := range b.orders {
		res = append(res, *o)
	}
	b.orders = make(map[string]*LiveOrder)
	b.byExchange = make(map[string]string)
	sortOrders(res)
	return res
}

func (b *Book) Get(id string) (LiveOrder, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[id]
	if !ok {
		return LiveOrder{}, false
	}
	return *o, true
}

// List 返回全部订单（拷贝），按提交时间排序。
func (b *Book) List() []LiveOrder {
	b.mu.RLock()
	defer b.mu.RUnlock()
	res := make([]LiveOrder, 0, len(b.orders))
	for _, o := range b.orders {
		res = append(res, *o)
	}
	sortOrders(res)
	return res
}

// Quotes 返回参与对账的报价单（不含对冲单）。
func (b *Book) Quotes() []LiveOrder {
	all := b.List()
	res := all[:0]
	for _, o := range all {
		if !o.Hedge {
			res = append(res, o)
		}
	}
	return res
}

func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.orders)
}

func (b *Book) lookup(ev Event) *LiveOrder {
	if ev.CorrelationID != "" {
		if o, ok := b.orders[ev.CorrelationID]; ok {
			return o
		}
	}
	if ev.ExchangeID != "" {
		if id, ok := b.byExchange[ev.ExchangeID]; ok {
			return b.orders[id]
		}
	}
	return nil
}

func (b *Book) remove(o *LiveOrder) {
	delete(b.orders, o.CorrelationID)
	if o.ExchangeID != "" {
		delete(b.byExchange, o.ExchangeID)
	}
}

func sortOrders(orders []LiveOrder) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].SubmittedAt.Equal(orders[j].SubmittedAt) {
			return orders[i].SubmittedAt.Before(orders[j].SubmittedAt)
		}
		return orders[i].CorrelationID < orders[j].CorrelationID
	})
}
