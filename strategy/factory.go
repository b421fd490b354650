package strategy

import "fmt"

// SkewType 可配置的偏斜曲线名称。
type SkewType string

const (
	SkewLinear    SkewType = "linear"
	SkewQuadratic SkewType = "quadratic"
)

// NewSkewCurve creates a skew curve based on the configured name. 空字符串为线性。
func NewSkewCurve(name string) (SkewCurve, error) {
	switch SkewType(name) {
	case "", SkewLinear:
		return LinearSkew{}, nil
	case SkewQuadratic:
		return QuadraticSkew{}, nil
	default:
		return nil, fmt.Errorf("unknown skew curve: %s", name)
	}
}
