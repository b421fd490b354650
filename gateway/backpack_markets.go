package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"backpack-mm/market"
	"backpack-mm/order"
)

// MarketInfo /api/v1/markets 中的一项。
type MarketInfo struct {
	Symbol      string `json:"symbol"`
	BaseSymbol  string `json:"baseSymbol"`
	QuoteSymbol string `json:"quoteSymbol"`
	MarketType  string `json:"marketType"`
	Filters     struct {
		Price struct {
			TickSize string `json:"tickSize"`
		} `json:"price"`
		Quantity struct {
			StepSize    string `json:"stepSize"`
			MinQuantity string `json:"minQuantity"`
			MaxQuantity string `json:"maxQuantity"`
		} `json:"quantity"`
	} `json:"filters"`
}

// Constraints 转换为下单精度约束。
func (m MarketInfo) Constraints() (order.SymbolConstraints, error) {
	var c order.SymbolConstraints
	var err error
	if c.TickSize, err = parseDecimal(m.Filters.Price.TickSize); err != nil {
		return c, fmt.Errorf("tickSize: %w", err)
	}
	if c.StepSize, err = parseDecimal(m.Filters.Quantity.StepSize); err != nil {
		return c, fmt.Errorf("stepSize: %w", err)
	}
	if c.MinQty, err = parseDecimal(m.Filters.Quantity.MinQuantity); err != nil {
		return c, fmt.Errorf("minQuantity: %w", err)
	}
	if c.MaxQty, err = parseDecimal(m.Filters.Quantity.MaxQuantity); err != nil {
		return c, fmt.Errorf("maxQuantity: %w", err)
	}
	if c.TickSize <= 0 {
		return c, fmt.Errorf("market %s has no tick size", m.Symbol)
	}
	if c.StepSize <= 0 {
		c.StepSize = c.MinQty
	}
	return c, nil
}

// Markets 拉取全部交易对。
func (c *BackpackRESTClient) Markets(ctx context.Context) ([]MarketInfo, error) {
	var out []MarketInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/markets", "", nil, &out); err != nil {
		return nil, fmt.Errorf("markets: %w", err)
	}
	return out, nil
}

// ResolveMarket 按标的与市场类型（PERP/SPOT）查找 USDC 交易对。
func (c *BackpackRESTClient) ResolveMarket(ctx context.Context, ticker, marketType string) (MarketInfo, error) {
	markets, err := c.Markets(ctx)
	if err != nil {
		return MarketInfo{}, err
	}
	for _, m := range markets {
		if strings.EqualFold(m.MarketType, marketType) &&
			strings.EqualFold(m.BaseSymbol, ticker) &&
			m.QuoteSymbol == "USDC" {
			return m, nil
		}
	}
	return MarketInfo{}, fmt.Errorf("no %s market for ticker %s", marketType, ticker)
}

type depthResp struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

// Depth 拉取深度快照，返回可直接喂给 market.Tracker 的全量事件。
func (c *BackpackRESTClient) Depth(ctx context.Context, symbol string) (market.FeedEvent, error) {
	var out depthResp
	if err := c.do(ctx, http.MethodGet, "/api/v1/depth", "", map[string]string{"symbol": symbol}, &out); err != nil {
		return market.FeedEvent{}, fmt.Errorf("depth %s: %w", symbol, err)
	}
	bids, err := parseLevels(out.Bids)
	if err != nil {
		return market.FeedEvent{}, fmt.Errorf("depth %s bids: %w", symbol, err)
	}
	asks, err := parseLevels(out.Asks)
	if err != nil {
		return market.FeedEvent{}, fmt.Errorf("depth %s asks: %w", symbol, err)
	}
	return market.FeedEvent{Kind: market.FeedDepth, Reset: true, Bids: bids, Asks: asks, Ts: time.Now()}, nil
}

func parseLevels(levels [][2]string) (map[float64]float64, error) {
	res := make(map[float64]float64, len(levels))
	for _, l := range levels {
		p, err := parseDecimal(l[0])
		if err != nil {
			return nil, err
		}
		q, err := parseDecimal(l[1])
		if err != nil {
			return nil, err
		}
		res[p] = q
	}
	return res, nil
}

func parseDecimal(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}
