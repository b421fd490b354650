package order

import "math"

// ActionKind 对账输出的动作类型。
type ActionKind string

const (
	ActionCancel ActionKind = "CANCEL"
	ActionPlace  ActionKind = "PLACE"
	ActionLeave  ActionKind = "LEAVE"
)

// Action 对账动作。Cancel/Leave 携带 OrderID（CorrelationID），Place 携带目标报价。
type Action struct {
	Kind    ActionKind
	OrderID string
	Quote   Quote
}

func Cancel(id string) Action { return Action{Kind: ActionCancel, OrderID: id} }
func Leave(id string) Action  { return Action{Kind: ActionLeave, OrderID: id} }
func Place(q Quote) Action    { return Action{Kind: ActionPlace, Quote: q} }

// Reconciler 比较目标报价与活跃订单，只做撤单+重下，从不改单。
type Reconciler struct {
	// PriceToleranceBps 价格偏离超过该值（相对目标价）即替换。
	PriceToleranceBps float64
	// SizeTolerancePct 剩余数量偏离目标数量的比例超过该值即替换。
	SizeTolerancePct float64
}

// Reconcile 是纯函数：相同输入得到相同输出，不修改 live。
//
// 每一侧的规则：
//   - 已发撤单的订单保持等待（Leave），不再占用该侧；
//   - Pending/Unknown 订单可能在交易所挂着，Leave 并阻止本 tick 新下单；
//   - 第一个 Open/PartiallyFilled 订单在容差内则 Leave，否则 Cancel+Place；
//   - 同侧多余的订单全部 Cancel；目标缺失的一侧全部 Cancel，不补单。
func (r Reconciler) Reconcile(target QuoteTarget, live []LiveOrder) []Action {
	actions := make([]Action, 0, 4)
	for _, side := range []Side{SideBuy, SideSell} {
		actions = append(actions, r.reconcileSide(side, target.For(side), live)...)
	}
	return actions
}

func (r Reconciler) reconcileSide(side Side, quote *Quote, live []LiveOrder) []Action {
	var (
		actions []Action
		blocked bool
		kept    bool
	)
	for _, o := range live {
		if o.Side != side || o.Hedge {
			continue
		}
		switch {
		case o.CancelRequested:
			actions = append(actions, Leave(o.CorrelationID))
		case o.Status == StatusPending || o.Status == StatusUnknown:
			actions = append(actions, Leave(o.CorrelationID))
			blocked = true
		case quote == nil || kept:
			actions = append(actions, Cancel(o.CorrelationID))
		case r.withinTolerance(o, *quote):
			actions = append(actions, Leave(o.CorrelationID))
			kept = true
		default:
			actions = append(actions, Cancel(o.CorrelationID))
		}
	}
	if quote != nil && !kept && !blocked {
		actions = append(actions, Place(*quote))
	}
	return actions
}

func (r Reconciler) withinTolerance(o LiveOrder, q Quote) bool {
	if q.Price <= 0 || q.Size <= 0 {
		return false
	}
	if math.Abs(o.Price-q.Price)/q.Price*1e4 > r.PriceToleranceBps {
		return false
	}
	return math.Abs(o.Remaining-q.Size)/q.Size <= r.SizeTolerancePct
}
