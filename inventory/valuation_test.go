package inventory

import (
	"testing"

	"backpack-mm/order"
	"backpack-mm/risk"
)

func TestValuation(t *testing.T) {
	tr := NewTracker("ETH_USDC_PERP", risk.Bounds{RiskThreshold: 0.5, QMax: 1})
	if _, pnl := tr.Valuation(110); pnl != 0 {
		t.Fatalf("flat position must have zero pnl")
	}
	if err := tr.ApplyFill(order.SideBuy, 100, 1); err != nil {
		t.Fatalf("apply fill: %v", err)
	}
	_, pnl := tr.Valuation(110)
	if pnl <= 0 {
		t.Fatalf("expected positive pnl")
	}
	if tr.Notional(110) != 110 {
		t.Fatalf("unexpected notional %f", tr.Notional(110))
	}
}
