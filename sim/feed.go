package sim

import (
	"math"
	"math/rand"
	"time"

	"backpack-mm/market"
)

// RandomWalk 生成几何随机游走的盘口与成交，用于纸面交易。
type RandomWalk struct {
	Mid       float64
	VolBps    float64 // 每步价格波动标准差（bp）
	SpreadBps float64
	TopSize   float64
	// TradeProb 每步产生一笔成交的概率。
	TradeProb float64

	rng *rand.Rand
}

func NewRandomWalk(mid float64, seed int64) *RandomWalk {
	return &RandomWalk{
		Mid:       mid,
		VolBps:    2,
		SpreadBps: 2,
		TopSize:   5,
		TradeProb: 0.3,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Next 前进一步，返回盘口事件与可能的成交事件。
func (w *RandomWalk) Next(now time.Time) (market.FeedEvent, *market.FeedEvent) {
	w.Mid *= math.Exp(w.rng.NormFloat64() * w.VolBps / 1e4)
	half := w.Mid * w.SpreadBps / 2e4
	top := market.FeedEvent{
		Kind:     market.FeedBookTop,
		BidPrice: w.Mid - half,
		BidSize:  w.TopSize * (0.5 + w.rng.Float64()),
		AskPrice: w.Mid + half,
		AskSize:  w.TopSize * (0.5 + w.rng.Float64()),
		Ts:       now,
	}
	if w.rng.Float64() >= w.TradeProb {
		return top, nil
	}
	px := top.BidPrice
	if w.rng.Intn(2) == 0 {
		px = top.AskPrice
	}
	// 偶尔打穿一档
	px += (w.rng.Float64() - 0.5) * 4 * half
	trade := market.FeedEvent{Kind: market.FeedTrade, TradePrice: px, TradeQty: w.TopSize * w.rng.Float64(), Ts: now}
	return top, &trade
}
