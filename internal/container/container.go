package container

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/zap"

	"backpack-mm/config"
	"backpack-mm/gateway"
	"backpack-mm/hedge"
	"backpack-mm/infrastructure/alert"
	"backpack-mm/infrastructure/logger"
	"backpack-mm/infrastructure/monitor"
	"backpack-mm/internal/engine"
	"backpack-mm/internal/journal"
	"backpack-mm/inventory"
	"backpack-mm/market"
	"backpack-mm/order"
	"backpack-mm/posttrade"
	"backpack-mm/risk"
	"backpack-mm/sim"
	"backpack-mm/strategy"
)

// paperConstraints 纸面模式下未配置精度时使用。
var paperConstraints = order.SymbolConstraints{TickSize: 0.01, StepSize: 0.001, MinQty: 0.001}

// Container 依赖注入容器，按配置组装全部组件并管理生命周期。
type Container struct {
	cfg config.AppConfig

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager
	journal *journal.Journal

	// 交易所网关：live 为 Backpack REST/WS，paper 为内存撮合
	client      gateway.Client
	rest        *gateway.BackpackRESTClient
	ws          *gateway.BackpackWS
	ids         *gateway.ClientIDs
	paper       *sim.Exchange
	constraints order.SymbolConstraints

	// 核心服务
	market    *market.Tracker
	inventory *inventory.Tracker
	engine    *engine.Engine
	markout   *posttrade.Analyzer
	feed      func(ctx context.Context) error

	metrics   *httpServerComponent
	lifecycle *LifecycleManager
}

// New 读取配置文件（凭证可由环境变量覆盖）并创建容器。
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewWithConfig(cfg), nil
}

// NewWithConfig 使用已校验的配置创建容器。
func NewWithConfig(cfg config.AppConfig) *Container {
	return &Container{
		cfg:       cfg,
		lifecycle: NewLifecycleManager(),
	}
}

// Build 构建所有组件。live 模式会请求交易所获取精度与深度快照。
func (c *Container) Build(ctx context.Context) error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}

	if err := c.buildGateway(ctx); err != nil {
		return fmt.Errorf("build gateway failed: %w", err)
	}

	if err := c.buildCoreServices(ctx); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}

	c.registerLifecycleComponents()
	c.logger.Info("container built",
		zap.String("env", c.cfg.Env),
		zap.String("symbol", c.cfg.Instrument.Symbol),
		zap.String("constraints", fmt.Sprintf("%+v", c.constraints)))
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	monitorCfg := monitor.DefaultConfig()
	if c.cfg.Metrics.Namespace != "" {
		monitorCfg.Namespace = c.cfg.Metrics.Namespace
	}
	c.monitor = monitor.New(monitorCfg)

	channels := []alert.Channel{alert.NewZapChannel(c.logger.Named("alert").Zap())}
	if c.cfg.Alert.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookChannel(c.cfg.Alert.WebhookURL))
	}
	c.alerts = alert.NewManager(channels, c.cfg.Alert.Throttle())

	if c.cfg.Journal.Path != "" {
		c.journal, err = journal.Open(c.cfg.Journal.Path, c.cfg.Journal.Buffer, c.logger.Named("journal").Zap())
		if err != nil {
			return fmt.Errorf("open journal failed: %w", err)
		}
	}
	return nil
}

func (c *Container) buildGateway(ctx context.Context) error {
	in := c.cfg.Instrument
	c.constraints = order.SymbolConstraints{
		TickSize: in.TickSize,
		StepSize: in.StepSize,
		MinQty:   in.MinQty,
		MaxQty:   in.MaxQty,
	}

	if !c.cfg.Live() {
		if c.constraints.TickSize <= 0 {
			c.constraints = paperConstraints
		}
		p := c.cfg.Paper
		c.paper = sim.NewExchange(nil)
		c.paper.MakerFeeBps = p.MakerFeeBps
		c.paper.TakerFeeBps = p.TakerFeeBps
		c.paper.Latency = p.Latency()
		c.client = c.paper
		return nil
	}

	ex := c.cfg.Exchange
	signer, err := gateway.NewSigner(ex.APIKey, ex.APISecret, ex.WindowMs)
	if err != nil {
		return fmt.Errorf("create signer: %w", err)
	}
	c.ids = gateway.NewClientIDs()
	restLog := c.logger.Named("rest")
	httpClient := gateway.NewDefaultHTTPClient()
	httpClient.Timeout = 2 * ex.RequestTimeout()
	c.rest = &gateway.BackpackRESTClient{
		BaseURL:    ex.RESTURL,
		Signer:     signer,
		HTTPClient: httpClient,
		Limiter:    gateway.NewTokenBucketLimiter(ex.RateLimit, ex.RateBurst),
		IDs:        c.ids,
		BrokerID:   ex.BrokerID,
		Observe: func(action string, elapsed time.Duration, err error) {
			if err != nil {
				restLog.Warn("rest request failed", zap.String("action", action), zap.Duration("elapsed", elapsed), zap.Error(err))
				return
			}
			restLog.Debug("rest request", zap.String("action", action), zap.Duration("elapsed", elapsed))
		},
	}

	if c.constraints.TickSize <= 0 {
		m, err := c.rest.ResolveMarket(ctx, in.Ticker, in.MarketType)
		if err != nil {
			return fmt.Errorf("resolve market: %w", err)
		}
		if m.Symbol != in.Symbol {
			return fmt.Errorf("configured symbol %s does not match exchange market %s", in.Symbol, m.Symbol)
		}
		if c.constraints, err = m.Constraints(); err != nil {
			return fmt.Errorf("market constraints: %w", err)
		}
	}
	c.rest.Constraints = c.constraints
	c.client = c.rest

	c.ws = gateway.NewBackpackWS(in.Symbol, nil, c.logger.Named("ws").Zap())
	c.ws.Endpoint = ex.WSURL
	c.ws.Signer = signer
	c.ws.IDs = c.ids
	c.ws.ReadTimeout = ex.WSReadTimeout()
	c.ws.MaxReconnects = ex.WSMaxReconnects
	c.ws.Depth = ex.SubscribeDepth
	c.ws.OnReconnect = func(int, error) { c.monitor.RecordWSReconnect() }
	return nil
}

func (c *Container) buildCoreServices(ctx context.Context) error {
	in := c.cfg.Instrument
	q := c.cfg.Quoting
	bounds := risk.Bounds{RiskThreshold: c.cfg.Risk.RiskThreshold, QMax: c.cfg.Risk.QMax}

	c.market = market.NewTracker(in.Symbol, market.FairMode(q.FairPrice))
	c.inventory = inventory.NewTracker(in.Symbol, bounds)

	curve, err := strategy.NewSkewCurve(q.SkewCurve)
	if err != nil {
		return err
	}
	gen, err := strategy.NewGenerator(strategy.GeneratorConfig{
		HalfSpreadBps: q.HalfSpreadBps,
		MinEdgeBps:    q.MinEdgeBps,
		MaxSkewBps:    q.MaxSkewBps,
		SizeSkew:      q.SizeSkew,
		RiskThreshold: bounds.RiskThreshold,
		Constraints:   c.constraints,
		Curve:         curve,
	})
	if err != nil {
		return fmt.Errorf("create generator: %w", err)
	}

	h := c.cfg.Hedge
	hedger, err := hedge.NewTrigger(hedge.Config{
		Bounds:        bounds,
		Target:        hedge.Target(h.Target),
		Rearm:         hedge.Rearm(h.Rearm),
		Urgency:       hedge.Urgency(h.Urgency),
		RetryInterval: h.RetryInterval(),
		StepSize:      c.constraints.StepSize,
		MinQty:        c.constraints.MinQty,
	})
	if err != nil {
		return fmt.Errorf("create hedge trigger: %w", err)
	}

	var breaker *risk.CircuitBreaker
	if r := c.cfg.Risk; r.ShockOneMinute > 0 || r.ShockFiveMinute > 0 {
		breaker = risk.NewCircuitBreaker(r.ShockOneMinute, r.ShockFiveMinute, r.ShockHalt())
	}

	var onDone func(string)
	if c.ids != nil {
		onDone = c.ids.Release
	}

	c.markout = posttrade.NewAnalyzer(posttrade.DefaultShortHorizon, posttrade.DefaultLongHorizon)

	o := c.cfg.Orders
	c.engine, err = engine.New(engine.Config{
		Symbol:             in.Symbol,
		TickInterval:       q.TickInterval(),
		BaseOrderSizeUSD:   q.BaseOrderSizeUSD,
		MaxDataAge:         q.StaleAfter(),
		AckTimeout:         o.AckTimeout(),
		UnknownRecovery:    o.UnknownRecovery(),
		RequestTimeout:     c.cfg.Exchange.RequestTimeout(),
		HedgeAggressiveBps: h.AggressiveBps,
		HedgeReduceOnly:    h.ReduceOnly && in.MarketType == "PERP",
		CancelAllOnStart:   o.CancelAllOnStart,
		CancelAllOnExit:    o.CancelAllOnExit,
	}, engine.Components{
		Market:    c.market,
		Inventory: c.inventory,
		Generator: gen,
		Reconciler: order.Reconciler{
			PriceToleranceBps: q.PriceToleranceBps,
			SizeTolerancePct:  q.SizeTolerancePct,
		},
		Hedger:      hedger,
		Client:      c.client,
		Constraints: c.constraints,
		Breaker:     breaker,
		Journal:     c.journal,
		Monitor:     c.monitor,
		Alerts:      c.alerts,
		Logger:      c.logger.Named("engine"),
		Markout:     c.markout,
		OnOrderDone: onDone,
	})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	if c.paper != nil {
		c.paper.SetSink(c.engine.Deliver)
		p := c.cfg.Paper
		seed := p.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		walk := sim.NewRandomWalk(p.StartPrice, seed)
		walk.VolBps = p.VolBps
		walk.SpreadBps = p.SpreadBps
		walk.TradeProb = p.TradeProb
		feeder := &sim.Feeder{Walk: walk, Exchange: c.paper, Handler: c.engine, Interval: p.Interval()}
		c.feed = feeder.Run
		return nil
	}

	c.ws.Handler = c.engine
	c.feed = c.ws.Run
	// 先用 REST 深度快照初始化盘口，WS 之后增量覆盖
	if ev, err := c.rest.Depth(ctx, in.Symbol); err != nil {
		c.logger.Warn("initial depth snapshot failed", zap.Error(err))
	} else {
		c.engine.OnFeed(ev)
	}
	return nil
}

func (c *Container) registerLifecycleComponents() {
	// 逆序停止：行情先断开，引擎撤单，最后关闭流水
	if c.journal != nil {
		c.lifecycle.Register(&journalComponent{journal: c.journal})
	}
	if c.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", c.monitor.Handler())
		mux.HandleFunc("/healthz", c.serveHealth)
		c.metrics = &httpServerComponent{
			name:    "metrics_server",
			handler: mux,
			addr:    c.cfg.Metrics.Listen,
			logger:  c.logger,
		}
		c.lifecycle.Register(c.metrics)
	}
	if p := c.cfg.Profiling; p.ServerAddress != "" {
		c.lifecycle.Register(&profilerComponent{cfg: pyroscope.Config{
			ApplicationName: p.ApplicationName,
			ServerAddress:   p.ServerAddress,
			Tags:            map[string]string{"env": c.cfg.Env, "symbol": c.cfg.Instrument.Symbol},
			Logger:          c.logger.Named("pyroscope").Zap().Sugar(),
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		}})
	}
	c.lifecycle.Register(&engineComponent{engine: c.engine})
	c.lifecycle.Register(&runComponent{name: "feed", run: c.feed, logger: c.logger})
}

func (c *Container) serveHealth(w http.ResponseWriter, _ *http.Request) {
	if err := c.HealthCheck(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok\n"))
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started")
	return nil
}

// Stop 停止全部组件；引擎停止时按配置撤销所有挂单。
func (c *Container) Stop() error {
	if c.engine == nil {
		return nil
	}
	c.logger.Info("stopping container...")

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	p := c.inventory.Position()
	c.logger.Info("container stopped",
		zap.Float64("position", p.Qty),
		zap.Float64("realized_pnl", p.RealizedPnL),
		zap.Any("stats", c.engine.GetStatistics()),
		zap.Any("markout", c.markout.Stats()))
	_ = c.logger.Close()
	return err
}

// Done 引擎决策循环退出时关闭（通常是致命错误）。
func (c *Container) Done() <-chan struct{} { return c.engine.Done() }

// Err 返回导致引擎停机的致命错误。
func (c *Container) Err() error { return c.engine.Err() }

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

func (c *Container) Engine() *engine.Engine { return c.engine }

func (c *Container) Inventory() *inventory.Tracker { return c.inventory }

func (c *Container) Logger() *logger.Logger { return c.logger }

func (c *Container) Config() config.AppConfig { return c.cfg }

// Markout 成交后表现统计
func (c *Container) Markout() *posttrade.Analyzer { return c.markout }

// Paper 纸面模式的模拟交易所，live 模式为 nil。
func (c *Container) Paper() *sim.Exchange { return c.paper }

// MetricsAddr 指标服务实际监听地址，未启用时为空。
func (c *Container) MetricsAddr() string {
	if c.metrics == nil {
		return ""
	}
	return c.metrics.Addr()
}

// Journal 成交流水，未配置路径时为 nil。
func (c *Container) Journal() *journal.Journal { return c.journal }
