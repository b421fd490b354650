package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器
type Monitor struct {
	registry *prometheus.Registry

	// 控制循环
	ticks        prometheus.Counter
	ticksSkipped *prometheus.CounterVec
	tickLatency  prometheus.Histogram

	// 订单指标
	quotesGenerated prometheus.Counter
	ordersPlaced    *prometheus.CounterVec
	ordersCanceled  prometheus.Counter
	ordersRejected  prometheus.Counter
	ordersUnknown   prometheus.Counter
	orderLatency    prometheus.Histogram

	// 成交指标
	fills        *prometheus.CounterVec
	tradedVolume prometheus.Counter
	hedges       *prometheus.CounterVec

	// 仓位指标
	position      prometheus.Gauge
	realizedPnL   prometheus.Gauge
	unrealizedPnL prometheus.Gauge
	riskLevel     prometheus.Gauge

	// 市场指标
	fairPrice prometheus.Gauge
	bidPrice  prometheus.Gauge
	askPrice  prometheus.Gauge

	// 成交后表现
	adverseRate  prometheus.Gauge
	markoutShort prometheus.Gauge
	markoutLong  prometheus.Gauge

	// 系统指标
	circuitTrips prometheus.Counter
	wsReconnects prometheus.Counter
	restErrors   *prometheus.CounterVec
	restLatency  *prometheus.HistogramVec
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "mm",
		Subsystem: "quoting",
	}
}

// New 创建新的Monitor实例，使用独立 registry
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help,
		}, labels)
	}

	return &Monitor{
		registry: reg,

		ticks:        counter("ticks_total", "控制循环 tick 总数"),
		ticksSkipped: counterVec("ticks_skipped_total", "跳过报价的 tick 数", "reason"),
		tickLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "tick_latency_seconds",
			Help:      "单个 tick 处理耗时（秒）",
			Buckets:   []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01},
		}),

		quotesGenerated: counter("quotes_generated_total", "策略生成报价总数"),
		ordersPlaced:    counterVec("orders_placed_total", "订单下单总数", "side"),
		ordersCanceled:  counter("orders_canceled_total", "订单撤单总数"),
		ordersRejected:  counter("orders_rejected_total", "订单拒绝总数"),
		ordersUnknown:   counter("orders_unknown_total", "请求超时、状态未知的订单总数"),
		orderLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "order_latency_seconds",
			Help:      "下单请求延迟分布（秒）",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),

		fills:        counterVec("fills_total", "成交笔数", "liquidity"),
		tradedVolume: counter("traded_volume_total", "累计成交量（基础币）"),
		hedges:       counterVec("hedges_total", "对冲请求数", "result"),

		position:      gauge("position", "当前净仓位"),
		realizedPnL:   gauge("realized_pnl", "已实现盈亏"),
		unrealizedPnL: gauge("unrealized_pnl", "未实现盈亏"),
		riskLevel:     gauge("risk_level", "风控等级(0=正常,1=超阈值,2=触及上限)"),

		fairPrice: gauge("fair_price", "当前公允价"),
		bidPrice:  gauge("quote_bid_price", "当前买单报价"),
		askPrice:  gauge("quote_ask_price", "当前卖单报价"),

		adverseRate:  gauge("adverse_selection_rate", "短窗口 markout 为负的成交占比"),
		markoutShort: gauge("markout_short_bps", "成交后短窗口平均 markout（bps）"),
		markoutLong:  gauge("markout_long_bps", "成交后长窗口平均 markout（bps）"),

		circuitTrips: counter("circuit_trips_total", "价格熔断触发次数"),
		wsReconnects: counter("ws_reconnects_total", "WebSocket重连次数"),
		restErrors:   counterVec("rest_errors_total", "REST错误总数", "action"),
		restLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rest_latency_seconds",
				Help:      "REST请求延迟（秒）",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),
	}
}

// 控制循环
func (m *Monitor) RecordTick(seconds float64) {
	m.ticks.Inc()
	m.tickLatency.Observe(seconds)
}

func (m *Monitor) RecordTickSkipped(reason string) {
	m.ticksSkipped.WithLabelValues(reason).Inc()
}

// 订单相关方法
func (m *Monitor) RecordQuoteGenerated() {
	m.quotesGenerated.Inc()
}

func (m *Monitor) RecordOrderPlaced(side string) {
	m.ordersPlaced.WithLabelValues(side).Inc()
}

func (m *Monitor) RecordOrderCanceled() {
	m.ordersCanceled.Inc()
}

func (m *Monitor) RecordOrderRejected() {
	m.ordersRejected.Inc()
}

func (m *Monitor) RecordOrderUnknown() {
	m.ordersUnknown.Inc()
}

func (m *Monitor) RecordOrderLatency(seconds float64) {
	m.orderLatency.Observe(seconds)
}

// RecordFill 记录一笔成交
func (m *Monitor) RecordFill(qty float64, maker bool) {
	liq := "taker"
	if maker {
		liq = "maker"
	}
	m.fills.WithLabelValues(liq).Inc()
	m.tradedVolume.Add(qty)
}

// RecordHedge result: submitted / failed / skipped
func (m *Monitor) RecordHedge(result string) {
	m.hedges.WithLabelValues(result).Inc()
}

// 仓位相关方法
func (m *Monitor) UpdatePosition(qty, realized, unrealized float64, level int) {
	m.position.Set(qty)
	m.realizedPnL.Set(realized)
	m.unrealizedPnL.Set(unrealized)
	m.riskLevel.Set(float64(level))
}

// 市场相关方法
func (m *Monitor) UpdateFairPrice(value float64) {
	m.fairPrice.Set(value)
}

// UpdateQuotes 缺失的一侧置 0
func (m *Monitor) UpdateQuotes(bid, ask float64) {
	m.bidPrice.Set(bid)
	m.askPrice.Set(ask)
}

// UpdateMarkout 成交后表现
func (m *Monitor) UpdateMarkout(adverseRate, shortBps, longBps float64) {
	m.adverseRate.Set(adverseRate)
	m.markoutShort.Set(shortBps)
	m.markoutLong.Set(longBps)
}

// 系统相关方法
func (m *Monitor) RecordCircuitTrip() {
	m.circuitTrips.Inc()
}

func (m *Monitor) RecordWSReconnect() {
	m.wsReconnects.Inc()
}

func (m *Monitor) RecordRESTError(action string) {
	m.restErrors.WithLabelValues(action).Inc()
}

func (m *Monitor) RecordRESTLatency(action string, seconds float64) {
	m.restLatency.WithLabelValues(action).Observe(seconds)
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
