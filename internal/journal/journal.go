// Package journal 把成交与对冲异步落盘到 SQLite，供盘后统计。
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"go.uber.org/zap"
)

// Kind 记录类型
type Kind string

const (
	KindFill  Kind = "fill"
	KindHedge Kind = "hedge"
)

// Record 一条成交或对冲请求记录
type Record struct {
	Kind          Kind
	Symbol        string
	CorrelationID string
	ExchangeID    string
	Side          string
	Price         float64
	Qty           float64
	Fee           float64
	Maker         bool
	Hedge         bool
	// 记录时刻的仓位与已实现盈亏
	Position    float64
	RealizedPnL float64
	Reason      string
	At          time.Time
}

var schema = []string{`
CREATE TABLE IF NOT EXISTS fills (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	symbol TEXT NOT NULL,
	correlation_id TEXT NOT NULL,
	exchange_id TEXT NOT NULL,
	side TEXT NOT NULL,
	price REAL NOT NULL,
	qty REAL NOT NULL,
	fee REAL NOT NULL,
	maker INTEGER NOT NULL,
	hedge INTEGER NOT NULL,
	position REAL NOT NULL,
	realized_pnl REAL NOT NULL,
	reason TEXT NOT NULL,
	ts INTEGER NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_fills_symbol_ts ON fills(symbol, ts)`,
}

// Journal 单写协程的异步记录器；Record 永不阻塞控制循环。
type Journal struct {
	db     *sql.DB
	ch     chan Record
	done   chan struct{}
	logger *zap.Logger

	closeOnce sync.Once
	dropped   atomic.Int64
	written   atomic.Int64
}

// Open 打开（或创建）数据库并启动写协程。buffer 为队列长度。
func Open(path string, buffer int, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 1024
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	j := &Journal{
		db:     db,
		ch:     make(chan Record, buffer),
		done:   make(chan struct{}),
		logger: logger.Named("journal"),
	}
	go j.run()
	return j, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// 单连接，避免 WAL 下多连接写锁竞争
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", p, err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return db, nil
}

// Record 入队一条记录；队列满时丢弃并计数。
func (j *Journal) Record(r Record) {
	if j == nil {
		return
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	select {
	case j.ch <- r:
	default:
		if n := j.dropped.Add(1); n == 1 || n%100 == 0 {
			j.logger.Warn("journal queue full, dropping records", zap.Int64("dropped", n))
		}
	}
}

// Dropped 因队列满被丢弃的记录数
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

// Written 已成功落盘的记录数
func (j *Journal) Written() int64 { return j.written.Load() }

func (j *Journal) run() {
	defer close(j.done)
	batch := make([]Record, 0, 64)
	for r := range j.ch {
		batch = append(batch[:0], r)
		// 把已排队的记录合并到同一个事务
	drain:
		for len(batch) < cap(batch) {
			select {
			case next, ok := <-j.ch:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		if err := j.insert(batch); err != nil {
			j.logger.Error("journal write failed", zap.Error(err), zap.Int("records", len(batch)))
			continue
		}
		j.written.Add(int64(len(batch)))
	}
}

func (j *Journal) insert(batch []Record) error {
	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO fills
		(kind, symbol, correlation_id, exchange_id, side, price, qty, fee, maker, hedge, position, realized_pnl, reason, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, r := range batch {
		if _, err := stmt.Exec(string(r.Kind), r.Symbol, r.CorrelationID, r.ExchangeID, r.Side,
			r.Price, r.Qty, r.Fee, boolInt(r.Maker), boolInt(r.Hedge), r.Position, r.RealizedPnL,
			r.Reason, r.At.UnixMicro()); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Close 等待队列写完后关闭数据库，可重复调用。
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	var err error
	j.closeOnce.Do(func() {
		close(j.ch)
		<-j.done
		err = j.db.Close()
	})
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Recent 按时间倒序返回最近 limit 条记录
func (j *Journal) Recent(ctx context.Context, limit int) ([]Record, error) {
	return recent(ctx, j.db, limit)
}

func recent(ctx context.Context, db *sql.DB, limit int) ([]Record, error) {
	rows, err := db.QueryContext(ctx, `SELECT kind, symbol, correlation_id, exchange_id, side, price, qty, fee,
		maker, hedge, position, realized_pnl, reason, ts FROM fills ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query fills: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var r Record
		var kind string
		var maker, hedge int
		var ts int64
		if err := rows.Scan(&kind, &r.Symbol, &r.CorrelationID, &r.ExchangeID, &r.Side, &r.Price, &r.Qty, &r.Fee,
			&maker, &hedge, &r.Position, &r.RealizedPnL, &r.Reason, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}
		r.Kind = Kind(kind)
		r.Maker = maker == 1
		r.Hedge = hedge == 1
		r.At = time.UnixMicro(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}
