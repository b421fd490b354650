package gateway

import (
	"context"
	"fmt"
	"net/http"
)

// PositionInfo /api/v1/position 中的一项，数量为带符号的净持仓。
type PositionInfo struct {
	Symbol      string
	NetQuantity float64
	EntryPrice  float64
}

type positionResp struct {
	Symbol      string `json:"symbol"`
	NetQuantity string `json:"netQuantity"`
	EntryPrice  string `json:"entryPrice"`
}

// Positions 调用 positionQuery 查询合约持仓；symbol 为空时返回全部。
func (c *BackpackRESTClient) Positions(ctx context.Context, symbol string) ([]PositionInfo, error) {
	var params map[string]string
	if symbol != "" {
		params = map[string]string{"symbol": symbol}
	}
	var raw []positionResp
	if err := c.do(ctx, http.MethodGet, "/api/v1/position", "positionQuery", params, &raw); err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	out := make([]PositionInfo, 0, len(raw))
	for _, p := range raw {
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		qty, err := parseDecimal(p.NetQuantity)
		if err != nil {
			return nil, fmt.Errorf("position %s netQuantity: %w", p.Symbol, err)
		}
		entry, err := parseDecimal(p.EntryPrice)
		if err != nil {
			return nil, fmt.Errorf("position %s entryPrice: %w", p.Symbol, err)
		}
		out = append(out, PositionInfo{Symbol: p.Symbol, NetQuantity: qty, EntryPrice: entry})
	}
	return out, nil
}
