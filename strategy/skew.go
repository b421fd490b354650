package strategy

import "math"

// SkewCurve 把 position/risk_threshold（已截断到 [-1,1]）映射为偏斜强度。
// 实现必须是奇函数且在 [-1,1] 上单调不减，|输出| <= 1。
type SkewCurve interface {
	Name() string
	Apply(ratio float64) float64
}

// LinearSkew 线性偏斜，达到软阈值时为 1。
type LinearSkew struct{}

func (LinearSkew) Name() string { return "linear" }

func (LinearSkew) Apply(ratio float64) float64 { return clampUnit(ratio) }

// QuadraticSkew 小仓位时偏斜更温和，接近阈值时加速。
type QuadraticSkew struct{}

func (QuadraticSkew) Name() string { return "quadratic" }

func (QuadraticSkew) Apply(ratio float64) float64 {
	r := clampUnit(ratio)
	return math.Copysign(r*r, r)
}

// InventoryRatio position/threshold 截断到 [-1,1]。
func InventoryRatio(position, threshold float64) float64 {
	if threshold <= 0 {
		return 0
	}
	return clampUnit(position / threshold)
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	case v < -1:
		return -1
	default:
		return v
	}
}
