package risk

import (
	"fmt"
	"math"
)

// Level 库存风险等级。
type Level int

const (
	LevelNormal Level = iota
	// LevelElevated |q| >= risk_threshold，报价开始偏斜。
	LevelElevated
	// LevelBreached |q| >= Q_max，触发对冲。
	LevelBreached
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "NORMAL"
	case LevelElevated:
		return "ELEVATED"
	case LevelBreached:
		return "BREACHED"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// Bounds 软/硬两条库存边界（标的数量）。
type Bounds struct {
	RiskThreshold float64
	QMax          float64
}

// Validate 要求 Q_max > risk_threshold > 0。
func (b Bounds) Validate() error {
	if b.RiskThreshold <= 0 {
		return fmt.Errorf("risk_threshold must be > 0, got %v", b.RiskThreshold)
	}
	if b.QMax <= b.RiskThreshold {
		return fmt.Errorf("q_max (%v) must be > risk_threshold (%v)", b.QMax, b.RiskThreshold)
	}
	return nil
}

// Classify 只依赖当前数量和两条边界，无滞回。
func (b Bounds) Classify(qty float64) Level {
	abs := math.Abs(qty)
	switch {
	case abs >= b.QMax:
		return LevelBreached
	case abs >= b.RiskThreshold:
		return LevelElevated
	default:
		return LevelNormal
	}
}
