package strategy

import "testing"

func TestCalcHalfSpread(t *testing.T) {
	if got := CalcHalfSpread(600, 10, 0.01); got != 0.6 {
		t.Fatalf("expected 0.6 got %f", got)
	}
	// 不足一个 tick 时取 tick
	if got := CalcHalfSpread(600, 0.01, 0.01); got != 0.01 {
		t.Fatalf("expected tick floor got %f", got)
	}
	if got := CalcHalfSpread(600, 0, 0); got <= 0 {
		t.Fatalf("half spread should be >0")
	}
}
