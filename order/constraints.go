package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SymbolConstraints 描述交易对的步长与名义限制。
type SymbolConstraints struct {
	TickSize    float64
	StepSize    float64
	MinQty      float64
	MaxQty      float64
	MinNotional float64
}

// Validate 检查订单价格/数量是否符合精度与最小名义。
func (c SymbolConstraints) Validate(price, qty float64) error {
	if c.TickSize > 0 && !isMultiple(price, c.TickSize) {
		return fmt.Errorf("price %.8f not aligned to tickSize %.8f", price, c.TickSize)
	}
	if c.StepSize > 0 && !isMultiple(qty, c.StepSize) {
		return fmt.Errorf("qty %.8f not aligned to stepSize %.8f", qty, c.StepSize)
	}
	if c.MinQty > 0 && qty < c.MinQty {
		return fmt.Errorf("qty %.8f < minQty %.8f", qty, c.MinQty)
	}
	if c.MaxQty > 0 && qty > c.MaxQty {
		return fmt.Errorf("qty %.8f > maxQty %.8f", qty, c.MaxQty)
	}
	if c.MinNotional > 0 && price*qty < c.MinNotional {
		return fmt.Errorf("notional %.8f < minNotional %.8f", price*qty, c.MinNotional)
	}
	return nil
}

// FloorPrice 向下取整到 tick（买价用）。
func (c SymbolConstraints) FloorPrice(price float64) float64 {
	return floorTo(price, c.TickSize)
}

// CeilPrice 向上取整到 tick（卖价用）。
func (c SymbolConstraints) CeilPrice(price float64) float64 {
	return ceilTo(price, c.TickSize)
}

// FloorQty 数量向下对齐到 step，且不超过 MaxQty。
func (c SymbolConstraints) FloorQty(qty float64) float64 {
	q := floorTo(qty, c.StepSize)
	if c.MaxQty > 0 && q > c.MaxQty {
		q = floorTo(c.MaxQty, c.StepSize)
	}
	return q
}

// Tradable 数量和名义是否满足最小下单要求。
func (c SymbolConstraints) Tradable(price, qty float64) bool {
	if qty <= 0 {
		return false
	}
	if c.MinQty > 0 && qty < c.MinQty {
		return false
	}
	if c.MinNotional > 0 && price > 0 && price*qty < c.MinNotional {
		return false
	}
	return true
}

// FormatPrice 按 tick 精度输出下单字符串。
func (c SymbolConstraints) FormatPrice(price float64) string {
	return format(price, c.TickSize)
}

// FormatQty 按 step 精度输出下单字符串。
func (c SymbolConstraints) FormatQty(qty float64) string {
	return format(qty, c.StepSize)
}

func floorTo(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	s := decimal.NewFromFloat(step)
	return decimal.NewFromFloat(v).Div(s).Floor().Mul(s).InexactFloat64()
}

func ceilTo(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	s := decimal.NewFromFloat(step)
	return decimal.NewFromFloat(v).Div(s).Ceil().Mul(s).InexactFloat64()
}

func format(v, step float64) string {
	d := decimal.NewFromFloat(v)
	if step <= 0 {
		return d.String()
	}
	return d.StringFixed(places(step))
}

func places(step float64) int32 {
	exp := decimal.NewFromFloat(step).Exponent()
	if exp >= 0 {
		return 0
	}
	return -exp
}

func isMultiple(value, step float64) bool {
	if step <= 0 {
		return true
	}
	return decimal.NewFromFloat(value).Mod(decimal.NewFromFloat(step)).IsZero()
}
