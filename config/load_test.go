package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
env: paper
instrument:
  ticker: sol
quoting:
  halfSpreadBps: 8
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "SOL", cfg.Instrument.Ticker)
	assert.Equal(t, "SOL_USDC_PERP", cfg.Instrument.Symbol)
	assert.Equal(t, 8.0, cfg.Quoting.HalfSpreadBps)
	assert.Equal(t, 100.0, cfg.Quoting.BaseOrderSizeUSD)
	assert.Equal(t, 30*time.Millisecond, cfg.Quoting.TickInterval())
	assert.Equal(t, 0.5, cfg.Risk.RiskThreshold)
	assert.Equal(t, 1.0, cfg.Risk.QMax)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Live())
}

func TestLoadSpotSymbol(t *testing.T) {
	path := writeTempConfig(t, `
env: paper
instrument:
  ticker: ETH
  marketType: spot
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ETH_USDC", cfg.Instrument.Symbol)
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
env: live
exchange:
  apiKey: from-file
`)
	_, err := Load(path)
	assert.Error(t, err, "live 缺少 secret")

	t.Setenv("MM_API_KEY", "env-key")
	t.Setenv("MM_API_SECRET", "env-secret")
	cfg, err := LoadWithEnvOverrides(path)
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Exchange.APIKey)
	assert.Equal(t, "env-secret", cfg.Exchange.APISecret)
	assert.True(t, cfg.Live())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeTempConfig(t, "env: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		field  string
	}{
		{"env", func(c *AppConfig) { c.Env = "prod" }, "env"},
		{"qmax 必须大于 threshold", func(c *AppConfig) { c.Risk.QMax = 0.5 }, "risk.qMax"},
		{"threshold 必须为正", func(c *AppConfig) { c.Risk.RiskThreshold = 0 }, "risk.riskThreshold"},
		{"tick", func(c *AppConfig) { c.Quoting.TickIntervalMs = 0 }, "quoting.tickIntervalMs"},
		{"fair", func(c *AppConfig) { c.Quoting.FairPrice = "last" }, "quoting.fairPrice"},
		{"curve", func(c *AppConfig) { c.Quoting.SkewCurve = "cubic" }, "quoting.skewCurve"},
		{"size skew", func(c *AppConfig) { c.Quoting.SizeSkew = 1.5 }, "quoting.sizeSkew"},
		{"base size", func(c *AppConfig) { c.Quoting.BaseOrderSizeUSD = -1 }, "quoting.baseOrderSizeUSD"},
		{"hedge target", func(c *AppConfig) { c.Hedge.Target = "half" }, "hedge.target"},
		{"hedge rearm", func(c *AppConfig) { c.Hedge.Rearm = "never" }, "hedge.rearm"},
		{"paper interval", func(c *AppConfig) { c.Paper.IntervalMs = 0 }, "paper.intervalMs"},
		{"hedge aggressive bps", func(c *AppConfig) { c.Hedge.AggressiveBps = -1 }, "hedge.aggressiveBps"},
		{"ack timeout", func(c *AppConfig) { c.Orders.AckTimeoutMs = 0 }, "orders.ackTimeoutMs"},
		{"market type", func(c *AppConfig) { c.Instrument.MarketType = "FUTURES" }, "instrument.marketType"},
		{"metrics listen", func(c *AppConfig) { c.Metrics.Listen = "" }, "metrics.listen"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Normalize()
			require.NoError(t, Validate(cfg))
			tt.mutate(&cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
