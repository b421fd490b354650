package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"backpack-mm/infrastructure/logger"
)

// AppConfig holds the main runtime configuration. 启动后不可变，变更需要重启。
type AppConfig struct {
	Env        string           `yaml:"env"` // paper / live
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Instrument InstrumentConfig `yaml:"instrument"`
	Quoting    QuotingConfig    `yaml:"quoting"`
	Risk       RiskConfig       `yaml:"risk"`
	Hedge      HedgeConfig      `yaml:"hedge"`
	Orders     OrdersConfig     `yaml:"orders"`
	Logging    logger.Config    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Journal    JournalConfig    `yaml:"journal"`
	Profiling  ProfilingConfig  `yaml:"profiling"`
	Alert      AlertConfig      `yaml:"alert"`
	Paper      PaperConfig      `yaml:"paper"`
}

type ExchangeConfig struct {
	RESTURL   string `yaml:"restURL"`
	WSURL     string `yaml:"wsURL"`
	APIKey    string `yaml:"apiKey"`
	APISecret string `yaml:"apiSecret"` // base64 ED25519 seed
	WindowMs  int64  `yaml:"windowMs"`
	BrokerID  string `yaml:"brokerID"`

	RequestTimeoutMs int     `yaml:"requestTimeoutMs"`
	RateLimit        float64 `yaml:"rateLimit"` // 每秒请求数
	RateBurst        int     `yaml:"rateBurst"`
	WSReadTimeoutMs  int     `yaml:"wsReadTimeoutMs"`
	WSMaxReconnects  int     `yaml:"wsMaxReconnects"`
	SubscribeDepth   bool    `yaml:"subscribeDepth"`
}

// InstrumentConfig 精度字段为 0 时启动时从 /api/v1/markets 加载。
type InstrumentConfig struct {
	Ticker     string  `yaml:"ticker"`
	MarketType string  `yaml:"marketType"` // PERP / SPOT
	Symbol     string  `yaml:"symbol"`     // 为空时由 ticker+marketType 推导
	TickSize   float64 `yaml:"tickSize"`
	StepSize   float64 `yaml:"stepSize"`
	MinQty     float64 `yaml:"minQty"`
	MaxQty     float64 `yaml:"maxQty"`
}

type QuotingConfig struct {
	TickIntervalMs   int     `yaml:"tickIntervalMs"`
	FairPrice        string  `yaml:"fairPrice"` // mid / microprice
	BaseOrderSizeUSD float64 `yaml:"baseOrderSizeUSD"`
	HalfSpreadBps    float64 `yaml:"halfSpreadBps"`
	MinEdgeBps       float64 `yaml:"minEdgeBps"`
	MaxSkewBps       float64 `yaml:"maxSkewBps"`
	SizeSkew         float64 `yaml:"sizeSkew"`
	SkewCurve        string  `yaml:"skewCurve"` // linear / quadratic
	StaleAfterMs     int     `yaml:"staleAfterMs"`

	// 对账容差：价差内或数量偏差内的挂单保留
	PriceToleranceBps float64 `yaml:"priceToleranceBps"`
	SizeTolerancePct  float64 `yaml:"sizeTolerancePct"`
}

type RiskConfig struct {
	RiskThreshold    float64 `yaml:"riskThreshold"`
	QMax             float64 `yaml:"qMax"`
	ShockOneMinute   float64 `yaml:"shockOneMinutePct"`  // 0 表示关闭
	ShockFiveMinute  float64 `yaml:"shockFiveMinutePct"` // 0 表示关闭
	ShockHaltSeconds int     `yaml:"shockHaltSeconds"`
}

type HedgeConfig struct {
	Target          string `yaml:"target"`  // threshold / zero
	Rearm           string `yaml:"rearm"`   // exit / normal
	Urgency         string `yaml:"urgency"` // market / aggressive
	RetryIntervalMs int    `yaml:"retryIntervalMs"`

	// AggressiveBps aggressive 模式下 IOC 限价越过对手价的幅度
	AggressiveBps float64 `yaml:"aggressiveBps"`
	// ReduceOnly 仅合约市场生效
	ReduceOnly bool `yaml:"reduceOnly"`
}

type OrdersConfig struct {
	AckTimeoutMs      int  `yaml:"ackTimeoutMs"`
	UnknownRecoveryMs int  `yaml:"unknownRecoveryMs"`
	CancelAllOnStart  bool `yaml:"cancelAllOnStart"`
	CancelAllOnExit   bool `yaml:"cancelAllOnExit"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Namespace string `yaml:"namespace"`
}

type JournalConfig struct {
	Path   string `yaml:"path"` // 为空时不落盘
	Buffer int    `yaml:"buffer"`
}

type ProfilingConfig struct {
	ServerAddress   string `yaml:"serverAddress"` // 为空时关闭
	ApplicationName string `yaml:"applicationName"`
}

type AlertConfig struct {
	WebhookURL      string `yaml:"webhookURL"`
	ThrottleSeconds int    `yaml:"throttleSeconds"`
}

// PaperConfig env=paper 时的随机游走行情与模拟撮合参数。
type PaperConfig struct {
	StartPrice  float64 `yaml:"startPrice"`
	VolBps      float64 `yaml:"volBps"`
	SpreadBps   float64 `yaml:"spreadBps"`
	TradeProb   float64 `yaml:"tradeProb"`
	IntervalMs  int     `yaml:"intervalMs"`
	LatencyMs   int     `yaml:"latencyMs"`
	Seed        int64   `yaml:"seed"` // 0 表示按启动时间
	MakerFeeBps float64 `yaml:"makerFeeBps"`
	TakerFeeBps float64 `yaml:"takerFeeBps"`
}

// Default 返回带默认值的配置，YAML 只需覆盖差异字段。
func Default() AppConfig {
	lc := logger.DefaultConfig()
	return AppConfig{
		Env: "paper",
		Exchange: ExchangeConfig{
			RESTURL:          "https://api.backpack.exchange",
			WSURL:            "wss://ws.backpack.exchange",
			WindowMs:         5000,
			BrokerID:         "2110",
			RequestTimeoutMs: 2000,
			RateLimit:        20,
			RateBurst:        10,
			WSReadTimeoutMs:  30000,
			WSMaxReconnects:  10,
		},
		Instrument: InstrumentConfig{Ticker: "ETH", MarketType: "PERP"},
		Quoting: QuotingConfig{
			TickIntervalMs:    30,
			FairPrice:         "mid",
			BaseOrderSizeUSD:  100,
			HalfSpreadBps:     5,
			MinEdgeBps:        1,
			MaxSkewBps:        4,
			SizeSkew:          0.5,
			SkewCurve:         "linear",
			StaleAfterMs:      3000,
			PriceToleranceBps: 1,
			SizeTolerancePct:  0.2,
		},
		Risk: RiskConfig{
			RiskThreshold:    0.5,
			QMax:             1.0,
			ShockOneMinute:   0.02,
			ShockFiveMinute:  0.05,
			ShockHaltSeconds: 60,
		},
		Hedge: HedgeConfig{Target: "threshold", Rearm: "exit", Urgency: "market", AggressiveBps: 10, ReduceOnly: true},
		Orders: OrdersConfig{
			AckTimeoutMs:      3000,
			UnknownRecoveryMs: 10000,
			CancelAllOnStart:  true,
			CancelAllOnExit:   true,
		},
		Logging:   lc,
		Metrics:   MetricsConfig{Enabled: true, Listen: ":9100", Namespace: "mm"},
		Journal:   JournalConfig{Buffer: 1024},
		Profiling: ProfilingConfig{ApplicationName: "backpack-mm"},
		Alert:     AlertConfig{ThrottleSeconds: 60},
		Paper: PaperConfig{
			StartPrice:  600,
			VolBps:      2,
			SpreadBps:   2,
			TradeProb:   0.3,
			IntervalMs:  100,
			MakerFeeBps: 2,
			TakerFeeBps: 5,
		},
	}
}

// Load reads YAML config from path on top of Default() and validates it.
func Load(path string) (AppConfig, error) {
	cfg, err := parse(path)
	if err != nil {
		return cfg, err
	}
	cfg.Normalize()
	return cfg, Validate(cfg)
}

// LoadWithEnvOverrides loads config then overrides credentials from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := parse(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("MM_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("MM_API_SECRET"); v != "" {
		cfg.Exchange.APISecret = v
	}
	cfg.Normalize()
	return cfg, Validate(cfg)
}

func parse(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, nil
}

// Normalize 统一大小写并在未配置 symbol 时由 ticker 与市场类型推导。
func (c *AppConfig) Normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.Instrument.Ticker = strings.ToUpper(strings.TrimSpace(c.Instrument.Ticker))
	c.Instrument.MarketType = strings.ToUpper(strings.TrimSpace(c.Instrument.MarketType))
	if c.Instrument.Symbol == "" && c.Instrument.Ticker != "" {
		c.Instrument.Symbol = c.Instrument.Ticker + "_USDC"
		if c.Instrument.MarketType == "PERP" {
			c.Instrument.Symbol += "_PERP"
		}
	}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c QuotingConfig) TickInterval() time.Duration    { return ms(c.TickIntervalMs) }
func (c QuotingConfig) StaleAfter() time.Duration      { return ms(c.StaleAfterMs) }
func (c OrdersConfig) AckTimeout() time.Duration       { return ms(c.AckTimeoutMs) }
func (c OrdersConfig) UnknownRecovery() time.Duration  { return ms(c.UnknownRecoveryMs) }
func (c HedgeConfig) RetryInterval() time.Duration     { return ms(c.RetryIntervalMs) }
func (c ExchangeConfig) RequestTimeout() time.Duration { return ms(c.RequestTimeoutMs) }
func (c ExchangeConfig) WSReadTimeout() time.Duration  { return ms(c.WSReadTimeoutMs) }
func (c RiskConfig) ShockHalt() time.Duration          { return time.Duration(c.ShockHaltSeconds) * time.Second }
func (c AlertConfig) Throttle() time.Duration          { return time.Duration(c.ThrottleSeconds) * time.Second }
func (c PaperConfig) Interval() time.Duration          { return ms(c.IntervalMs) }
func (c PaperConfig) Latency() time.Duration           { return ms(c.LatencyMs) }

// Live 是否连接真实交易所
func (c AppConfig) Live() bool { return c.Env == "live" }
