package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Summary 一段时间内的成交统计
type Summary struct {
	Symbol        string
	Fills         int
	Hedges        int
	Volume        float64 // 基础币数量
	Notional      float64
	MakerNotional float64
	TakerNotional float64
	Fees          float64
	// 区间内最后一条成交记录时的仓位与累计已实现盈亏
	Position    float64
	RealizedPnL float64
	First, Last time.Time
}

// MakerRatio maker 成交额占比
func (s Summary) MakerRatio() float64 {
	if s.Notional == 0 {
		return 0
	}
	return s.MakerNotional / s.Notional
}

// Summarize 统计 [since, until) 内某个交易对的成交；until 为零值表示不设上限。
func (j *Journal) Summarize(ctx context.Context, symbol string, since, until time.Time) (Summary, error) {
	return summarize(ctx, j.db, symbol, since, until)
}

// Report 以只读方式打开数据库做统计，不启动写协程。
func Report(ctx context.Context, path, symbol string, since, until time.Time) (Summary, []Record, error) {
	db, err := openDB(path)
	if err != nil {
		return Summary{}, nil, err
	}
	defer db.Close()
	s, err := summarize(ctx, db, symbol, since, until)
	if err != nil {
		return Summary{}, nil, err
	}
	rec, err := recent(ctx, db, 10)
	return s, rec, err
}

func summarize(ctx context.Context, db *sql.DB, symbol string, since, until time.Time) (Summary, error) {
	hi := int64(1<<63 - 1)
	if !until.IsZero() {
		hi = until.UnixMicro()
	}
	lo := since.UnixMicro()
	if since.IsZero() {
		lo = 0
	}
	s := Summary{Symbol: symbol}

	var first, last sql.NullInt64
	err := db.QueryRowContext(ctx, `SELECT
			COUNT(*),
			COALESCE(SUM(qty), 0),
			COALESCE(SUM(price*qty), 0),
			COALESCE(SUM(CASE WHEN maker = 1 THEN price*qty ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN maker = 0 THEN price*qty ELSE 0 END), 0),
			COALESCE(SUM(fee), 0),
			MIN(ts), MAX(ts)
		FROM fills WHERE kind = ? AND symbol = ? AND ts >= ? AND ts < ?`,
		string(KindFill), symbol, lo, hi).
		Scan(&s.Fills, &s.Volume, &s.Notional, &s.MakerNotional, &s.TakerNotional, &s.Fees, &first, &last)
	if err != nil {
		return s, fmt.Errorf("failed to summarize fills: %w", err)
	}
	if first.Valid {
		s.First = time.UnixMicro(first.Int64)
		s.Last = time.UnixMicro(last.Int64)
	}

	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fills WHERE kind = ? AND symbol = ? AND ts >= ? AND ts < ?`,
		string(KindHedge), symbol, lo, hi).Scan(&s.Hedges); err != nil {
		return s, fmt.Errorf("failed to count hedges: %w", err)
	}

	err = db.QueryRowContext(ctx, `SELECT position, realized_pnl FROM fills
		WHERE kind = ? AND symbol = ? AND ts >= ? AND ts < ? ORDER BY ts DESC, id DESC LIMIT 1`,
		string(KindFill), symbol, lo, hi).Scan(&s.Position, &s.RealizedPnL)
	if err != nil && err != sql.ErrNoRows {
		return s, fmt.Errorf("failed to load last fill: %w", err)
	}
	return s, nil
}
