package config

import (
	"errors"
	"fmt"
)

// Validate 校验配置，出错时返回带字段名的错误。
func Validate(cfg AppConfig) error {
	switch cfg.Env {
	case "paper", "live":
	default:
		return fmt.Errorf("env must be paper or live, got %q", cfg.Env)
	}
	if cfg.Live() && (cfg.Exchange.APIKey == "" || cfg.Exchange.APISecret == "") {
		return errors.New("exchange.apiKey/apiSecret is required for live (or MM_API_KEY/MM_API_SECRET)")
	}
	if cfg.Exchange.RequestTimeoutMs <= 0 {
		return errors.New("exchange.requestTimeoutMs must be > 0")
	}
	if cfg.Exchange.RateLimit <= 0 || cfg.Exchange.RateBurst <= 0 {
		return errors.New("exchange.rateLimit and exchange.rateBurst must be > 0")
	}
	if cfg.Exchange.WindowMs <= 0 || cfg.Exchange.WindowMs > 60000 {
		return errors.New("exchange.windowMs must be in (0, 60000]")
	}

	in := cfg.Instrument
	if in.Ticker == "" && in.Symbol == "" {
		return errors.New("instrument.ticker is required")
	}
	if in.MarketType != "PERP" && in.MarketType != "SPOT" {
		return fmt.Errorf("instrument.marketType must be PERP or SPOT, got %q", in.MarketType)
	}
	if in.TickSize < 0 || in.StepSize < 0 || in.MinQty < 0 || in.MaxQty < 0 {
		return errors.New("instrument precision fields must be >= 0")
	}

	q := cfg.Quoting
	if q.TickIntervalMs <= 0 {
		return errors.New("quoting.tickIntervalMs must be > 0")
	}
	if q.FairPrice != "mid" && q.FairPrice != "microprice" {
		return fmt.Errorf("quoting.fairPrice must be mid or microprice, got %q", q.FairPrice)
	}
	if q.BaseOrderSizeUSD <= 0 {
		return errors.New("quoting.baseOrderSizeUSD must be > 0")
	}
	if q.HalfSpreadBps <= 0 {
		return errors.New("quoting.halfSpreadBps must be > 0")
	}
	if q.MinEdgeBps < 0 || q.MaxSkewBps < 0 {
		return errors.New("quoting.minEdgeBps and quoting.maxSkewBps must be >= 0")
	}
	if q.SizeSkew < 0 || q.SizeSkew > 1 {
		return errors.New("quoting.sizeSkew must be in [0, 1]")
	}
	if q.SkewCurve != "linear" && q.SkewCurve != "quadratic" {
		return fmt.Errorf("quoting.skewCurve must be linear or quadratic, got %q", q.SkewCurve)
	}
	if q.StaleAfterMs <= 0 {
		return errors.New("quoting.staleAfterMs must be > 0")
	}
	if q.PriceToleranceBps < 0 || q.SizeTolerancePct < 0 {
		return errors.New("quoting tolerances must be >= 0")
	}

	r := cfg.Risk
	if r.RiskThreshold <= 0 {
		return errors.New("risk.riskThreshold must be > 0")
	}
	if r.QMax <= r.RiskThreshold {
		return fmt.Errorf("risk.qMax (%v) must be > risk.riskThreshold (%v)", r.QMax, r.RiskThreshold)
	}
	if r.ShockOneMinute < 0 || r.ShockFiveMinute < 0 || r.ShockHaltSeconds < 0 {
		return errors.New("risk shock settings must be >= 0")
	}

	h := cfg.Hedge
	if h.Target != "threshold" && h.Target != "zero" {
		return fmt.Errorf("hedge.target must be threshold or zero, got %q", h.Target)
	}
	if h.Rearm != "exit" && h.Rearm != "normal" {
		return fmt.Errorf("hedge.rearm must be exit or normal, got %q", h.Rearm)
	}
	if h.Urgency != "market" && h.Urgency != "aggressive" {
		return fmt.Errorf("hedge.urgency must be market or aggressive, got %q", h.Urgency)
	}
	if h.RetryIntervalMs < 0 {
		return errors.New("hedge.retryIntervalMs must be >= 0")
	}
	if h.AggressiveBps < 0 {
		return errors.New("hedge.aggressiveBps must be >= 0")
	}

	o := cfg.Orders
	if o.AckTimeoutMs <= 0 {
		return errors.New("orders.ackTimeoutMs must be > 0")
	}
	if o.UnknownRecoveryMs <= 0 {
		return errors.New("orders.unknownRecoveryMs must be > 0")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return errors.New("metrics.listen is required when metrics.enabled")
	}
	if cfg.Journal.Buffer < 0 {
		return errors.New("journal.buffer must be >= 0")
	}
	if cfg.Alert.ThrottleSeconds < 0 {
		return errors.New("alert.throttleSeconds must be >= 0")
	}

	if !cfg.Live() {
		p := cfg.Paper
		if p.StartPrice <= 0 {
			return errors.New("paper.startPrice must be > 0")
		}
		if p.IntervalMs <= 0 {
			return errors.New("paper.intervalMs must be > 0")
		}
		if p.VolBps < 0 || p.SpreadBps <= 0 {
			return errors.New("paper.volBps must be >= 0 and paper.spreadBps > 0")
		}
		if p.TradeProb < 0 || p.TradeProb > 1 {
			return errors.New("paper.tradeProb must be in [0, 1]")
		}
	}
	return nil
}
