package risk

import "time"

// Tick 依赖 minimal 行情信息。
type Tick struct {
	Price float64
	Ts    time.Time
}

// CircuitBreaker 基于近期价格冲击触发熔断，熔断期间停止报价。
type CircuitBreaker struct {
	// 阈值：1m、5m 相对涨跌幅，<=0 关闭该窗口
	OneMinuteThresh  float64
	FiveMinuteThresh float64
	// HaltFor 触发后暂停报价的时长
	HaltFor time.Duration

	window1m  []Tick
	window5m  []Tick
	haltUntil time.Time
	trips     int
}

func NewCircuitBreaker(one, five float64, haltFor time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		OneMinuteThresh:  one,
		FiveMinuteThresh: five,
		HaltFor:          haltFor,
		window1m:         make([]Tick, 0, 128),
		window5m:         make([]Tick, 0, 512),
	}
}

// OnTick 返回 (是否触发, 触发窗口 "1m"/"5m"/"")
func (c *CircuitBreaker) OnTick(t Tick) (bool, string) {
	c.window1m = append(c.window1m, t)
	c.window5m = append(c.window5m, t)
	c.trim(&c.window1m, t.Ts.Add(-1*time.Minute))
	c.trim(&c.window5m, t.Ts.Add(-5*time.Minute))

	span := ""
	if c.check(c.window1m, c.OneMinuteThresh) {
		span = "1m"
	} else if c.check(c.window5m, c.FiveMinuteThresh) {
		span = "5m"
	}
	if span == "" {
		return false, ""
	}
	c.trips++
	c.haltUntil = t.Ts.Add(c.HaltFor)
	// 以触发价为新基准，避免暂停结束后立即再次触发
	c.window1m = append(c.window1m[:0], t)
	c.window5m = append(c.window5m[:0], t)
	return true, span
}

// Halted 是否处于熔断暂停期。
func (c *CircuitBreaker) Halted(now time.Time) bool {
	return now.Before(c.haltUntil)
}

// Trips 累计触发次数。
func (c *CircuitBreaker) Trips() int { return c.trips }

func (c *CircuitBreaker) trim(buf *[]Tick, cutoff time.Time) {
	i := 0
	for ; i < len(*buf); i++ {
		if (*buf)[i].Ts.After(cutoff) {
			break
		}
	}
	if i > 0 {
		*buf = (*buf)[i:]
	}
}

func (c *CircuitBreaker) check(buf []Tick, thresh float64) bool {
	if thresh <= 0 || len(buf) == 0 {
		return false
	}
	first := buf[0].Price
	last := buf[len(buf)-1].Price
	if first == 0 {
		return false
	}
	change := (last - first) / first
	return change > thresh || change < -thresh
}
