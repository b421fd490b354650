package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backpack-mm/order"
	"backpack-mm/risk"
)

func newTracker() *Tracker {
	return NewTracker("ETH_USDC_PERP", risk.Bounds{RiskThreshold: 0.5, QMax: 1.0})
}

func TestTrackerWeightedAverage(t *testing.T) {
	tr := newTracker()
	require.NoError(t, tr.ApplyFill(order.SideBuy, 100, 1))
	assert.Equal(t, 1.0, tr.Exposure())
	assert.Equal(t, 100.0, tr.AvgEntry())

	require.NoError(t, tr.ApplyFill(order.SideBuy, 110, 1))
	assert.InDelta(t, 105, tr.AvgEntry(), 1e-9)

	require.NoError(t, tr.ApplyFill(order.SideBuy, 120, 2))
	assert.InDelta(t, 4.0, tr.Exposure(), 1e-12)
	assert.InDelta(t, (100+110+240)/4.0, tr.AvgEntry(), 1e-9)
	assert.Equal(t, 0.0, tr.RealizedPnL())
}

func TestTrackerFillSequenceSumsExactly(t *testing.T) {
	tr := newTracker()
	fills := []float64{0.1, 0.05, 0.25, 0.1}
	sum := 0.0
	for _, q := range fills {
		require.NoError(t, tr.ApplyFill(order.SideSell, 600, q))
		sum += q
	}
	assert.InDelta(t, -sum, tr.Exposure(), 1e-12)
	assert.InDelta(t, 600.0, tr.AvgEntry(), 1e-9)
	assert.Equal(t, len(fills), tr.Position().Fills)
}

func TestTrackerRealizedPnL(t *testing.T) {
	tests := []struct {
		name         string
		fills        []Fill
		wantQty      float64
		wantAvg      float64
		wantRealized float64
	}{
		{
			name:         "多头减仓",
			fills:        []Fill{{Side: order.SideBuy, Price: 100, Qty: 2}, {Side: order.SideSell, Price: 110, Qty: 1}},
			wantQty:      1,
			wantAvg:      100,
			wantRealized: 10,
		},
		{
			name:         "空头平仓",
			fills:        []Fill{{Side: order.SideSell, Price: 100, Qty: 1}, {Side: order.SideBuy, Price: 90, Qty: 1}},
			wantQty:      0,
			wantAvg:      0,
			wantRealized: 10,
		},
		{
			name:         "多头反手",
			fills:        []Fill{{Side: order.SideBuy, Price: 100, Qty: 1}, {Side: order.SideSell, Price: 95, Qty: 3}},
			wantQty:      -2,
			wantAvg:      95,
			wantRealized: -5,
		},
		{
			name: "手续费计入已实现",
			fills: []Fill{
				{Side: order.SideBuy, Price: 100, Qty: 1, Fee: 0.1, Maker: true},
				{Side: order.SideSell, Price: 101, Qty: 1, Fee: 0.2},
			},
			wantQty:      0,
			wantAvg:      0,
			wantRealized: 1 - 0.3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTracker()
			for _, f := range tt.fills {
				require.NoError(t, tr.Apply(f))
			}
			p := tr.Position()
			assert.InDelta(t, tt.wantQty, p.Qty, 1e-12)
			assert.InDelta(t, tt.wantAvg, p.AvgEntry, 1e-9)
			assert.InDelta(t, tt.wantRealized, p.RealizedPnL, 1e-9)
		})
	}
}

func TestTrackerVolumes(t *testing.T) {
	tr := newTracker()
	require.NoError(t, tr.Apply(Fill{Side: order.SideBuy, Price: 600, Qty: 0.5, Maker: true}))
	require.NoError(t, tr.Apply(Fill{Side: order.SideSell, Price: 590, Qty: 0.5}))
	p := tr.Position()
	assert.Equal(t, 0.5, p.BuyVolume)
	assert.Equal(t, 0.5, p.SellVolume)
	assert.Equal(t, 300.0, p.MakerVolume)
	assert.Equal(t, 295.0, p.TakerVolume)
}

func TestTrackerRejectsInvalidFill(t *testing.T) {
	tr := newTracker()
	assert.Error(t, tr.ApplyFill(order.SideBuy, 600, 0))
	assert.Error(t, tr.ApplyFill(order.SideBuy, 0, 1))
	assert.Error(t, tr.ApplyFill(order.Side("HOLD"), 600, 1))
	assert.Equal(t, 0, tr.Position().Fills)
}

func TestTrackerRiskLevel(t *testing.T) {
	tr := newTracker()
	assert.Equal(t, risk.LevelNormal, tr.RiskLevel())
	require.NoError(t, tr.ApplyFill(order.SideBuy, 600, 0.6))
	assert.Equal(t, risk.LevelElevated, tr.RiskLevel())
	require.NoError(t, tr.ApplyFill(order.SideBuy, 600, 0.4))
	assert.Equal(t, risk.LevelBreached, tr.RiskLevel())
}

func TestTrackerSmallFillsSumExactly(t *testing.T) {
	tr := newTracker()
	for i := 0; i < 10; i++ {
		require.NoError(t, tr.ApplyFill(order.SideBuy, 600, 0.1))
	}
	assert.Equal(t, 1.0, tr.Exposure())
	assert.Equal(t, risk.LevelBreached, tr.RiskLevel())
	assert.Equal(t, 1.0, tr.Position().BuyVolume)

	for i := 0; i < 10; i++ {
		require.NoError(t, tr.ApplyFill(order.SideSell, 601, 0.1))
	}
	assert.Equal(t, 0.0, tr.Exposure())
	assert.Equal(t, 0.0, tr.AvgEntry())
	assert.InDelta(t, 1.0, tr.RealizedPnL(), 1e-9)
}
