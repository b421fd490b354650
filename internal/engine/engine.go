package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"backpack-mm/gateway"
	"backpack-mm/hedge"
	"backpack-mm/infrastructure/alert"
	"backpack-mm/infrastructure/logger"
	"backpack-mm/infrastructure/monitor"
	"backpack-mm/internal/journal"
	"backpack-mm/inventory"
	"backpack-mm/market"
	"backpack-mm/order"
	"backpack-mm/posttrade"
	"backpack-mm/risk"
	"backpack-mm/strategy"
)

// EngineState 引擎状态
type EngineState int

const (
	StateIdle EngineState = iota
	StateRunning
	// StateHalted 致命错误后停止报价，等待进程退出
	StateHalted
	StateStopped
)

// String 返回状态名称
func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateHalted:
		return "HALTED"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config 引擎配置
type Config struct {
	Symbol           string
	TickInterval     time.Duration // 控制循环周期
	BaseOrderSizeUSD float64
	MaxDataAge       time.Duration // 行情超过该时长视为断流
	AckTimeout       time.Duration // Pending 超时转 Unknown
	UnknownRecovery  time.Duration // Unknown 持续超过该时长触发全撤
	RequestTimeout   time.Duration // 单个 REST 请求超时
	// HedgeAggressiveBps aggressive 对冲时 IOC 限价越过对手价的幅度
	HedgeAggressiveBps float64
	// HedgeReduceOnly 合约市场对冲单带 reduceOnly
	HedgeReduceOnly  bool
	CancelAllOnStart bool
	CancelAllOnExit  bool
	InboxSize        int
}

// Components 引擎依赖组件；Breaker/Journal/Monitor/Alerts/Markout 可选。
type Components struct {
	Market     *market.Tracker
	Inventory  *inventory.Tracker
	Generator  *strategy.Generator
	Reconciler order.Reconciler
	Hedger     *hedge.Trigger
	Client     gateway.Client
	// Constraints 用于对冲限价取整
	Constraints order.SymbolConstraints

	Breaker *risk.CircuitBreaker
	Journal *journal.Journal
	Monitor *monitor.Monitor
	Alerts  *alert.Manager
	Logger  *logger.Logger
	Clock   risk.Clock
	// Markout 做市成交的逆向选择统计，可选
	Markout *posttrade.Analyzer
	// OnOrderDone 订单离开 Book 时回调（释放 clientId 映射等）
	OnOrderDone func(correlationID string)
}

// Statistics 引擎统计信息
type Statistics struct {
	StartTime    time.Time
	TotalTicks   int64
	SkippedTicks int64
	TotalQuotes  int64
	TotalOrders  int64
	TotalCancels int64
	TotalFills   int64
	TotalHedges  int64
	TotalErrors  int64
	LastTickTime time.Time
}

// Engine 单决策协程的报价控制循环。
// Book、库存与对冲触发器只在决策协程中修改；交易所 I/O 全部交给 dispatcher。
type Engine struct {
	config Config

	market     *market.Tracker
	inventory  *inventory.Tracker
	generator  *strategy.Generator
	reconciler order.Reconciler
	hedger     *hedge.Trigger
	client     gateway.Client
	cons       order.SymbolConstraints
	breaker    *risk.CircuitBreaker
	journal    *journal.Journal
	monitor    *monitor.Monitor
	alerts     *alert.Manager
	logger     *logger.Logger
	clock      risk.Clock
	onDone     func(string)
	markout    *posttrade.Analyzer

	book *order.Book

	inbox    chan order.Event
	dispatch chan batch
	busy     atomic.Bool

	state EngineState
	mu    sync.RWMutex

	stopChan     chan struct{}
	doneChan     chan struct{}
	dispatchDone chan struct{}
	quit         chan struct{}
	quitOnce     sync.Once

	fatalOnce sync.Once
	fatalErr  error
	halted    bool
	// recoveryAt 最近一次发出全撤恢复的时间
	recoveryAt time.Time
	wasHalted  bool

	stats   Statistics
	statsMu sync.RWMutex
}

// New 创建交易引擎
func New(cfg Config, c Components) (*Engine, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := validateComponents(c); err != nil {
		return nil, fmt.Errorf("invalid components: %w", err)
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 4096
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Second
	}
	clock := c.Clock
	if clock == nil {
		clock = risk.NowUTC
	}
	return &Engine{
		config:       cfg,
		market:       c.Market,
		inventory:    c.Inventory,
		generator:    c.Generator,
		reconciler:   c.Reconciler,
		hedger:       c.Hedger,
		client:       c.Client,
		cons:         c.Constraints,
		breaker:      c.Breaker,
		journal:      c.Journal,
		monitor:      c.Monitor,
		alerts:       c.Alerts,
		logger:       c.Logger,
		clock:        clock,
		onDone:       c.OnOrderDone,
		markout:      c.Markout,
		book:         order.NewBook(),
		inbox:        make(chan order.Event, cfg.InboxSize),
		dispatch:     make(chan batch, 1),
		state:        StateIdle,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
		dispatchDone: make(chan struct{}),
		quit:         make(chan struct{}),
	}, nil
}

// Start 启动决策循环与 dispatcher。只能调用一次。
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return fmt.Errorf("engine already started (state: %s)", e.state)
	}
	e.state = StateRunning
	e.mu.Unlock()

	e.statsMu.Lock()
	e.stats.StartTime = e.clock.Now()
	e.statsMu.Unlock()

	if e.config.CancelAllOnStart {
		// 清理上次进程遗留的挂单
		if err := e.cancelAllNow(ctx); err != nil {
			if errors.Is(err, gateway.ErrFatal) {
				e.mu.Lock()
				e.state = StateHalted
				e.mu.Unlock()
				close(e.doneChan)
				return err
			}
			e.logger.Warn("cancel all on start failed", zap.Error(err))
		}
	}

	e.logger.Info("Trading engine starting",
		zap.String("symbol", e.config.Symbol),
		zap.Duration("tick_interval", e.config.TickInterval),
		zap.Float64("base_order_size_usd", e.config.BaseOrderSizeUSD),
		zap.String("risk_bounds", fmt.Sprintf("%+v", e.inventory.Bounds())))

	go e.runDispatcher()
	go e.run(ctx)
	return nil
}

// Stop 停止决策循环，撤销所有订单后返回。可重复调用。
func (e *Engine) Stop() error {
	e.mu.Lock()
	switch e.state {
	case StateIdle:
		e.state = StateStopped
		e.mu.Unlock()
		return nil
	case StateStopped:
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	e.logger.Info("Trading engine stopping...")
	select {
	case <-e.stopChan:
	default:
		close(e.stopChan)
	}
	select {
	case <-e.doneChan:
	case <-time.After(10 * time.Second):
		e.logger.Warn("Timeout waiting for engine to stop")
	}
	e.closeQuit()
	select {
	case <-e.dispatchDone:
	case <-time.After(2 * e.config.RequestTimeout):
		e.logger.Warn("Timeout waiting for dispatcher to stop")
	}

	var err error
	if e.config.CancelAllOnExit {
		ctx, cancel := context.WithTimeout(context.Background(), e.config.RequestTimeout)
		err = e.cancelAllNow(ctx)
		cancel()
		if err != nil {
			e.logger.Error("Failed to cancel all orders", zap.Error(err))
		}
	}

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()
	e.logger.Info("Trading engine stopped", zap.Any("stats", e.GetStatistics()))
	return err
}

// Done 决策循环退出时关闭（致命错误、Stop 或 ctx 取消）。
func (e *Engine) Done() <-chan struct{} { return e.doneChan }

// Err 返回导致停机的致命错误，正常运行或正常停止时为 nil。
func (e *Engine) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fatalErr
}

// Deliver 投递一条交易所回报，按到达顺序在下个 tick 开始时处理。
// 队列满时阻塞调用方（行情/回报协程），不丢弃也不合并。
func (e *Engine) Deliver(ev order.Event) {
	select {
	case e.inbox <- ev:
	case <-e.quit:
	}
}

// OnFeed 实现 gateway.StreamHandler。
func (e *Engine) OnFeed(ev market.FeedEvent) {
	if _, err := e.market.Update(ev); err != nil {
		e.logger.Debug("feed update rejected", zap.Error(err))
	}
}

// OnOrderEvent 实现 gateway.StreamHandler。
func (e *Engine) OnOrderEvent(ev order.Event) { e.Deliver(ev) }

// GetState 获取引擎状态
func (e *Engine) GetState() EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// GetStatistics 获取统计信息
func (e *Engine) GetStatistics() Statistics {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return e.stats
}

// Book 暴露订单簿，只读用途。
func (e *Engine) Book() *order.Book { return e.book }

// run 主事件循环
func (e *Engine) run(ctx context.Context) {
	defer close(e.doneChan)

	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Context done, stopping engine")
			return
		case <-e.stopChan:
			e.logger.Info("Stop signal received")
			return
		case <-ticker.C:
			e.onTick(e.clock.Now())
			if e.halted {
				return
			}
		}
	}
}

func (e *Engine) closeQuit() {
	e.quitOnce.Do(func() { close(e.quit) })
}

// fail 致命错误：停止报价、尝试全撤并记录错误。只在决策协程调用。
func (e *Engine) fail(err error) {
	e.fatalOnce.Do(func() {
		e.halted = true
		e.mu.Lock()
		e.fatalErr = err
		e.state = StateHalted
		e.mu.Unlock()

		e.logger.LogError(err, map[string]interface{}{"symbol": e.config.Symbol, "action": "halt"})
		_ = e.alerts.Critical("fatal", "engine halted", map[string]interface{}{
			"symbol": e.config.Symbol,
			"error":  err.Error(),
		})

		ctx, cancel := context.WithTimeout(context.Background(), e.config.RequestTimeout)
		defer cancel()
		if cerr := e.cancelAllNow(ctx); cerr != nil {
			e.logger.Error("cancel all after fatal failed", zap.Error(cerr))
		}
	})
}

// cancelAllNow 同步全撤并清空 Book。
func (e *Engine) cancelAllNow(ctx context.Context) error {
	start := time.Now()
	err := e.client.CancelAll(ctx, e.config.Symbol)
	if e.monitor != nil {
		e.monitor.RecordRESTLatency("cancelAll", time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("cancel all %s: %w", e.config.Symbol, err)
	}
	for _, o := range e.book.Clear() {
		e.orderDone(o)
	}
	return nil
}

func (e *Engine) orderDone(o order.LiveOrder) {
	if e.onDone != nil {
		e.onDone(o.CorrelationID)
	}
}

func (e *Engine) recordError() {
	e.statsMu.Lock()
	e.stats.TotalErrors++
	e.statsMu.Unlock()
}

func validateConfig(cfg Config) error {
	if cfg.Symbol == "" {
		return errors.New("symbol is required")
	}
	if cfg.TickInterval <= 0 {
		return errors.New("tick_interval must be > 0")
	}
	if cfg.BaseOrderSizeUSD <= 0 {
		return errors.New("base_order_size_usd must be > 0")
	}
	if cfg.MaxDataAge <= 0 {
		return errors.New("max_data_age must be > 0")
	}
	if cfg.AckTimeout <= 0 || cfg.UnknownRecovery <= 0 {
		return errors.New("ack_timeout and unknown_recovery must be > 0")
	}
	if cfg.HedgeAggressiveBps < 0 {
		return errors.New("hedge_aggressive_bps must be >= 0")
	}
	return nil
}

func validateComponents(c Components) error {
	switch {
	case c.Market == nil:
		return errors.New("market tracker is required")
	case c.Inventory == nil:
		return errors.New("inventory is required")
	case c.Generator == nil:
		return errors.New("generator is required")
	case c.Hedger == nil:
		return errors.New("hedge trigger is required")
	case c.Client == nil:
		return errors.New("client is required")
	case c.Logger == nil:
		return errors.New("logger is required")
	}
	return nil
}
