package market

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ts0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func TestTrackerNoData(t *testing.T) {
	tr := NewTracker("ETH_USDC_PERP", FairMid)
	_, err := tr.FairPrice()
	assert.True(t, errors.Is(err, ErrNoMarketData))
	assert.Equal(t, time.Duration(-1), tr.Age(ts0))
}

func TestTrackerFairPrice(t *testing.T) {
	tests := []struct {
		name   string
		events []FeedEvent
		want   float64
		err    error
	}{
		{
			name:   "双边取中间价",
			events: []FeedEvent{{Kind: FeedBookTop, BidPrice: 599.9, BidSize: 1, AskPrice: 600.1, AskSize: 1, Ts: ts0}},
			want:   600,
		},
		{
			name: "单边缺失退回成交价",
			events: []FeedEvent{
				{Kind: FeedTrade, TradePrice: 598, TradeQty: 0.1, Ts: ts0},
				{Kind: FeedBookTop, BidPrice: 597, BidSize: 1, Ts: ts0},
			},
			want: 598,
		},
		{
			name:   "单边且无成交",
			events: []FeedEvent{{Kind: FeedBookTop, AskPrice: 601, AskSize: 1, Ts: ts0}},
			err:    ErrNoMarketData,
		},
		{
			name: "深度增量",
			events: []FeedEvent{
				{Kind: FeedDepth, Reset: true, Bids: map[float64]float64{599: 1, 598: 2}, Asks: map[float64]float64{601: 1}, Ts: ts0},
				{Kind: FeedDepth, Bids: map[float64]float64{599: 0}, Ts: ts0},
			},
			want: 599.5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker("ETH_USDC_PERP", FairMid)
			for _, ev := range tt.events {
				_, err := tr.Update(ev)
				require.NoError(t, err)
			}
			got, err := tr.FairPrice()
			if tt.err != nil {
				assert.True(t, errors.Is(err, tt.err))
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestTrackerMicroprice(t *testing.T) {
	tr := NewTracker("ETH_USDC_PERP", FairMicroprice)
	_, err := tr.Update(FeedEvent{Kind: FeedBookTop, BidPrice: 599, BidSize: 3, AskPrice: 601, AskSize: 1, Ts: ts0})
	require.NoError(t, err)
	fair, err := tr.FairPrice()
	require.NoError(t, err)
	// 买盘更厚，公允价靠近卖价
	assert.InDelta(t, 600.5, fair, 1e-9)
}

func TestTrackerRejectsCrossedBook(t *testing.T) {
	tr := NewTracker("ETH_USDC_PERP", FairMid)
	good, err := tr.Update(FeedEvent{Kind: FeedBookTop, BidPrice: 599, AskPrice: 601, Ts: ts0})
	require.NoError(t, err)

	snap, err := tr.Update(FeedEvent{Kind: FeedBookTop, BidPrice: 602, AskPrice: 601, Ts: ts0.Add(time.Second)})
	assert.True(t, errors.Is(err, ErrCrossedBook))
	assert.Equal(t, good, snap)
	assert.Equal(t, good, tr.Snapshot())
}

func TestTrackerCrossedDepthLeavesBookUntouched(t *testing.T) {
	tr := NewTracker("ETH_USDC_PERP", FairMid)
	_, err := tr.Update(FeedEvent{Kind: FeedDepth, Reset: true,
		Bids: map[float64]float64{599: 1, 598: 2}, Asks: map[float64]float64{601: 1, 602: 2}, Ts: ts0})
	require.NoError(t, err)

	// 买一抬到 603 会交叉，整条增量被丢弃
	_, err = tr.Update(FeedEvent{Kind: FeedDepth,
		Bids: map[float64]float64{603: 1}, Asks: map[float64]float64{602: 0}, Ts: ts0.Add(time.Second)})
	require.ErrorIs(t, err, ErrCrossedBook)

	// 后续增量基于交叉前的簿：删掉 601 后卖一应为 602
	snap, err := tr.Update(FeedEvent{Kind: FeedDepth,
		Asks: map[float64]float64{601: 0}, Ts: ts0.Add(2 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, 599.0, snap.BidPrice)
	assert.Equal(t, 602.0, snap.AskPrice)
	assert.Equal(t, 2.0, snap.AskSize)
}

func TestTrackerAge(t *testing.T) {
	tr := NewTracker("ETH_USDC_PERP", FairMid)
	_, err := tr.Update(FeedEvent{Kind: FeedTrade, TradePrice: 600, Ts: ts0})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, tr.Age(ts0.Add(2*time.Second)))

	_, err = tr.Update(FeedEvent{Kind: FeedTrade, TradePrice: 0, Ts: ts0})
	assert.Error(t, err)
}
