package strategy

import (
	"errors"
	"fmt"
	"math"

	"backpack-mm/order"
	"backpack-mm/risk"
)

// GeneratorConfig 报价参数。
type GeneratorConfig struct {
	HalfSpreadBps float64 // 基础半价差
	MinEdgeBps    float64 // 报价距公允价的最小距离，保证 bid < fair < ask
	MaxSkewBps    float64 // 偏斜强度为 1 时价格整体平移量
	SizeSkew      float64 // 偏斜强度为 1 时加仓侧数量缩减比例，[0,1]
	RiskThreshold float64
	Constraints   order.SymbolConstraints
	Curve         SkewCurve
}

func (c GeneratorConfig) validate() error {
	if c.HalfSpreadBps <= 0 {
		return errors.New("halfSpreadBps must be > 0")
	}
	if c.MinEdgeBps < 0 || c.MinEdgeBps > c.HalfSpreadBps {
		return fmt.Errorf("minEdgeBps must be within [0, halfSpreadBps], got %v", c.MinEdgeBps)
	}
	if c.MaxSkewBps < 0 {
		return errors.New("maxSkewBps must be >= 0")
	}
	if c.SizeSkew < 0 || c.SizeSkew > 1 {
		return fmt.Errorf("sizeSkew must be within [0, 1], got %v", c.SizeSkew)
	}
	if c.RiskThreshold <= 0 {
		return errors.New("riskThreshold must be > 0")
	}
	return nil
}

// Generator 根据公允价与库存生成目标报价。无状态，可重复调用。
type Generator struct {
	cfg   GeneratorConfig
	curve SkewCurve
}

func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	curve := cfg.Curve
	if curve == nil {
		curve = LinearSkew{}
	}
	return &Generator{cfg: cfg, curve: curve}, nil
}

// Skew 返回当前仓位对应的偏斜强度，正值表示多头需要卖出。
func (g *Generator) Skew(position float64) float64 {
	return g.curve.Apply(InventoryRatio(position, g.cfg.RiskThreshold))
}

// Generate 计算本 tick 的目标报价。
//
// 多头时两侧价格同时下移（卖价更有竞争力，买价更保守），并缩小买单数量；空头相反。
// Breached 状态下只保留减仓侧。数量不足最小下单量的一侧不报价。
func (g *Generator) Generate(fair, position float64, level risk.Level, baseOrderSizeUSD float64) order.QuoteTarget {
	var target order.QuoteTarget
	if fair <= 0 || math.IsNaN(fair) || baseOrderSizeUSD <= 0 {
		return target
	}
	c := g.cfg.Constraints
	s := g.Skew(position)

	half := CalcHalfSpread(fair, g.cfg.HalfSpreadBps, c.TickSize)
	shift := s * g.cfg.MaxSkewBps / 10000.0 * fair
	edge := fair * g.cfg.MinEdgeBps / 10000.0
	if edge < c.TickSize {
		edge = c.TickSize
	}
	if edge <= 0 {
		edge = fair * 1e-6
	}

	// 先按方向取整，再夹到公允价两侧的最小距离之外
	bid := math.Min(c.FloorPrice(fair-half-shift), c.FloorPrice(fair-edge))
	ask := math.Max(c.CeilPrice(fair+half-shift), c.CeilPrice(fair+edge))

	baseQty := baseOrderSizeUSD / fair
	bidQty, askQty := baseQty, baseQty
	reduce := 1 - g.cfg.SizeSkew*math.Abs(s)
	var accumulating order.Side
	switch {
	case s > 0:
		accumulating = order.SideBuy
		bidQty *= reduce
	case s < 0:
		accumulating = order.SideSell
		askQty *= reduce
	}
	bidQty = c.FloorQty(bidQty)
	askQty = c.FloorQty(askQty)

	if bid > 0 && c.Tradable(bid, bidQty) {
		target.Bid = &order.Quote{Side: order.SideBuy, Price: bid, Size: bidQty}
	}
	if c.Tradable(ask, askQty) {
		target.Ask = &order.Quote{Side: order.SideSell, Price: ask, Size: askQty}
	}
	if level == risk.LevelBreached && accumulating != "" {
		if accumulating == order.SideBuy {
			target.Bid = nil
		} else {
			target.Ask = nil
		}
	}
	return target
}
