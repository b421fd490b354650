package hedge

import (
	"fmt"
	"math"
	"time"

	"backpack-mm/order"
	"backpack-mm/risk"
)

// Urgency 对冲单执行方式。
type Urgency string

const (
	UrgencyMarket     Urgency = "market"
	UrgencyAggressive Urgency = "aggressive"
)

// Target 对冲目标仓位。
type Target string

const (
	// TargetThreshold 只对冲到 risk_threshold，市价单数量最小。
	TargetThreshold Target = "threshold"
	// TargetZero 完全平仓。
	TargetZero Target = "zero"
)

// Rearm 触发后重新武装的条件。
type Rearm string

const (
	// RearmOnExit 风险等级离开 Breached 即可再次触发。
	RearmOnExit Rearm = "exit"
	// RearmOnNormal 必须回到 Normal 才能再次触发。
	RearmOnNormal Rearm = "normal"
)

// Request 对冲请求，由控制循环消费一次。
type Request struct {
	Side    order.Side
	Qty     float64
	Urgency Urgency
	Reason  string
}

func (r Request) String() string {
	return fmt.Sprintf("%s %.8f (%s, %s)", r.Side, r.Qty, r.Urgency, r.Reason)
}

// Config 对冲参数。
type Config struct {
	Bounds  risk.Bounds
	Target  Target
	Rearm   Rearm
	Urgency Urgency
	// RetryInterval >0 时持续 Breached 会按间隔重发；0 表示严格边沿触发。
	RetryInterval time.Duration
	StepSize      float64
	MinQty        float64
}

// Trigger 边沿触发：进入 Breached 时发出一次对冲请求。
// 只在控制循环的决策 goroutine 中调用，不加锁。
type Trigger struct {
	cfg      Config
	armed    bool
	lastFire time.Time
	fired    int
}

func NewTrigger(cfg Config) (*Trigger, error) {
	if err := cfg.Bounds.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Target {
	case "":
		cfg.Target = TargetThreshold
	case TargetThreshold, TargetZero:
	default:
		return nil, fmt.Errorf("unknown hedge target %q", cfg.Target)
	}
	switch cfg.Rearm {
	case "":
		cfg.Rearm = RearmOnExit
	case RearmOnExit, RearmOnNormal:
	default:
		return nil, fmt.Errorf("unknown hedge rearm policy %q", cfg.Rearm)
	}
	switch cfg.Urgency {
	case "":
		cfg.Urgency = UrgencyMarket
	case UrgencyMarket, UrgencyAggressive:
	default:
		return nil, fmt.Errorf("unknown hedge urgency %q", cfg.Urgency)
	}
	if cfg.RetryInterval < 0 {
		return nil, fmt.Errorf("retry interval must be >= 0")
	}
	return &Trigger{cfg: cfg, armed: true}, nil
}

// Check 每 tick 调用一次。返回 nil 表示无需对冲。
func (t *Trigger) Check(level risk.Level, position float64, now time.Time) *Request {
	if level != risk.LevelBreached {
		if t.cfg.Rearm == RearmOnExit || level == risk.LevelNormal {
			t.armed = true
		}
		return nil
	}

	reason := "breach"
	if !t.armed {
		if t.cfg.RetryInterval <= 0 || now.Sub(t.lastFire) < t.cfg.RetryInterval {
			return nil
		}
		reason = "retry"
	}

	req := t.size(position)
	if req == nil {
		return nil
	}
	req.Reason = reason
	t.armed = false
	t.lastFire = now
	t.fired++
	return req
}

// Armed 是否等待下一次进入 Breached。
func (t *Trigger) Armed() bool { return t.armed }

// Fired 累计发出的请求数。
func (t *Trigger) Fired() int { return t.fired }

func (t *Trigger) size(position float64) *Request {
	if position == 0 {
		return nil
	}
	qty := math.Abs(position)
	if t.cfg.Target == TargetThreshold {
		qty -= t.cfg.Bounds.RiskThreshold
	}
	qty = floorStep(qty, t.cfg.StepSize)
	if qty <= 0 || (t.cfg.MinQty > 0 && qty < t.cfg.MinQty) {
		return nil
	}
	side := order.SideSell
	if position < 0 {
		side = order.SideBuy
	}
	return &Request{Side: side, Qty: qty, Urgency: t.cfg.Urgency}
}

func floorStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return order.SymbolConstraints{StepSize: step}.FloorQty(qty)
}
