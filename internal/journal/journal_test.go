package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fills.db")
	j, err := Open(path, 16, nil)
	require.NoError(t, err)

	base := time.Unix(1700000000, 0)
	j.Record(Record{Kind: KindFill, Symbol: "ETH_USDC_PERP", CorrelationID: "a", Side: "BUY", Price: 100, Qty: 0.5, Fee: 0.01, Maker: true, Position: 0.5, At: base})
	j.Record(Record{Kind: KindFill, Symbol: "ETH_USDC_PERP", CorrelationID: "b", Side: "SELL", Price: 102, Qty: 0.25, Fee: 0.02, Position: 0.25, RealizedPnL: 0.5, At: base.Add(time.Second)})
	j.Record(Record{Kind: KindHedge, Symbol: "ETH_USDC_PERP", CorrelationID: "h", Side: "SELL", Qty: 0.1, Hedge: true, Reason: "breach", At: base.Add(2 * time.Second)})
	j.Record(Record{Kind: KindFill, Symbol: "SOL_USDC", Price: 20, Qty: 1, At: base})
	require.NoError(t, j.Close())
	require.NoError(t, j.Close(), "重复关闭")
	assert.Equal(t, int64(4), j.Written())
	assert.Zero(t, j.Dropped())

	s, recent, err := Report(context.Background(), path, "ETH_USDC_PERP", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Fills)
	assert.Equal(t, 1, s.Hedges)
	assert.InDelta(t, 0.75, s.Volume, 1e-12)
	assert.InDelta(t, 75.5, s.Notional, 1e-9)
	assert.InDelta(t, 50, s.MakerNotional, 1e-9)
	assert.InDelta(t, 25.5, s.TakerNotional, 1e-9)
	assert.InDelta(t, 0.03, s.Fees, 1e-12)
	assert.InDelta(t, 0.25, s.Position, 1e-12)
	assert.InDelta(t, 0.5, s.RealizedPnL, 1e-12)
	assert.InDelta(t, 50/75.5, s.MakerRatio(), 1e-12)
	assert.True(t, s.First.Equal(base))

	require.Len(t, recent, 4)
	assert.Equal(t, KindHedge, recent[0].Kind)
	assert.True(t, recent[0].Hedge)
}

func TestJournalWindowAndEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fills.db")
	j, err := Open(path, 0, nil)
	require.NoError(t, err)
	base := time.Unix(1700000000, 0)
	for i := 0; i < 5; i++ {
		j.Record(Record{Kind: KindFill, Symbol: "X", Price: 10, Qty: 1, At: base.Add(time.Duration(i) * time.Minute)})
	}
	require.NoError(t, j.Close())

	s, _, err := Report(context.Background(), path, "X", base.Add(time.Minute), base.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Fills)

	s, _, err = Report(context.Background(), path, "NONE", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, s.Fills)
	assert.True(t, s.First.IsZero())
	assert.Zero(t, s.MakerRatio())
}

func TestNilJournalIsNoop(t *testing.T) {
	var j *Journal
	j.Record(Record{Kind: KindFill})
	assert.NoError(t, j.Close())
}
