package posttrade

import (
	"sync"
	"time"

	"backpack-mm/order"
)

// 默认观察窗口：成交后 1s 与 5s 的公允价
const (
	DefaultShortHorizon = time.Second
	DefaultLongHorizon  = 5 * time.Second
)

// FillRecord 一笔成交及其之后的公允价快照
type FillRecord struct {
	ID        string
	Side      order.Side
	FillPrice float64
	FillTime  time.Time

	PriceAfterShort float64
	PriceAfterLong  float64
}

// Stats 成交后表现统计。Markout 以 bps 计，正数表示成交后价格朝有利方向运动。
type Stats struct {
	AdverseSelectionRate float64
	AvgMarkoutShortBps   float64
	AvgMarkoutLongBps    float64
	TotalFills           int
	AnalyzedFills        int
}

// Analyzer 统计做市成交的逆向选择。
// 不自起协程，由控制循环每个 tick 调用 Observe 推进。
type Analyzer struct {
	short, long time.Duration
	maxAge      time.Duration

	mu    sync.RWMutex
	fills []*FillRecord
	total int
}

// NewAnalyzer 创建分析器；horizon 为 0 时使用默认值。
func NewAnalyzer(short, long time.Duration) *Analyzer {
	if short <= 0 {
		short = DefaultShortHorizon
	}
	if long <= short {
		long = DefaultLongHorizon
		if long <= short {
			long = 5 * short
		}
	}
	return &Analyzer{short: short, long: long, maxAge: 10 * long}
}

// OnFill 记录一笔成交
func (a *Analyzer) OnFill(id string, side order.Side, price float64, at time.Time) {
	if price <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fills = append(a.fills, &FillRecord{ID: id, Side: side, FillPrice: price, FillTime: at})
	a.total++
}

// Observe 先清理过旧的未完成记录，再用当前公允价补全到期的窗口。
func (a *Analyzer) Observe(fair float64, now time.Time) {
	if fair <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cleanLocked(now)
	for _, r := range a.fills {
		age := now.Sub(r.FillTime)
		if r.PriceAfterShort == 0 && age >= a.short {
			r.PriceAfterShort = fair
		}
		if r.PriceAfterLong == 0 && age >= a.long {
			r.PriceAfterLong = fair
		}
	}
}

// cleanLocked 删除超过 maxAge 仍未补全的记录；行情中断太久，之后的价格已无参考意义。
func (a *Analyzer) cleanLocked(now time.Time) {
	kept := a.fills[:0]
	for _, r := range a.fills {
		if r.PriceAfterLong == 0 && now.Sub(r.FillTime) > a.maxAge {
			continue
		}
		kept = append(kept, r)
	}
	for i := len(kept); i < len(a.fills); i++ {
		a.fills[i] = nil
	}
	a.fills = kept
}

// Markout 单笔成交相对之后价格的收益（bps）
func Markout(side order.Side, fillPrice, later float64) float64 {
	if fillPrice <= 0 || later <= 0 {
		return 0
	}
	if side == order.SideBuy {
		return (later - fillPrice) / fillPrice * 1e4
	}
	return (fillPrice - later) / fillPrice * 1e4
}

// Stats 计算统计。两个窗口都已补全的成交才计入。
func (a *Analyzer) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := Stats{TotalFills: a.total}
	var adverse int
	var sumShort, sumLong float64
	for _, r := range a.fills {
		if r.PriceAfterShort == 0 || r.PriceAfterLong == 0 {
			continue
		}
		stats.AnalyzedFills++
		short := Markout(r.Side, r.FillPrice, r.PriceAfterShort)
		sumShort += short
		sumLong += Markout(r.Side, r.FillPrice, r.PriceAfterLong)
		if short < 0 {
			adverse++
		}
	}
	if stats.AnalyzedFills > 0 {
		n := float64(stats.AnalyzedFills)
		stats.AdverseSelectionRate = float64(adverse) / n
		stats.AvgMarkoutShortBps = sumShort / n
		stats.AvgMarkoutLongBps = sumLong / n
	}
	return stats
}
