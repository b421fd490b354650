package container

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backpack-mm/config"
)

func paperConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Instrument.Symbol = "ETH_USDC_PERP"
	cfg.Logging.Level = "error"
	cfg.Metrics.Listen = "127.0.0.1:0"
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
	cfg.Quoting.TickIntervalMs = 5
	cfg.Paper.IntervalMs = 2
	cfg.Paper.Seed = 42
	require.NoError(t, config.Validate(cfg))
	return cfg
}

func httpGet(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestPaperContainerLifecycle(t *testing.T) {
	c := NewWithConfig(paperConfig(t))
	ctx := context.Background()
	require.NoError(t, c.Build(ctx))
	require.NotNil(t, c.Paper())
	require.NoError(t, c.Start(ctx))

	require.Eventually(t, func() bool { return len(c.Paper().Resting()) > 0 }, 3*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return c.HealthCheck() == nil }, time.Second, 5*time.Millisecond)

	base := "http://" + c.MetricsAddr()
	code, body := httpGet(t, base+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", body)
	code, body = httpGet(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "mm_quoting_ticks_total")

	require.NoError(t, c.Stop())
	assert.Empty(t, c.Paper().Resting(), "cancel all on exit")
	assert.NoError(t, c.Err())
	select {
	case <-c.Done():
	default:
		t.Fatal("engine should be done after stop")
	}
}

func TestLiveBuildRejectsBadCredentials(t *testing.T) {
	cfg := paperConfig(t)
	cfg.Env = "live"
	cfg.Exchange.APIKey = "key"
	cfg.Exchange.APISecret = "not-base64!"
	cfg.Journal.Path = ""
	c := NewWithConfig(cfg)
	err := c.Build(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signer")
	assert.NoError(t, c.Stop())
}

func TestNewLoadsConfigFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

type fakeComponent struct {
	name     string
	startErr error
	healthy  error
	log      *[]string
}

func (f *fakeComponent) Name() string { return f.name }

func (f *fakeComponent) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	*f.log = append(*f.log, "start "+f.name)
	return nil
}

func (f *fakeComponent) Stop() error {
	*f.log = append(*f.log, "stop "+f.name)
	return nil
}

func (f *fakeComponent) Health() error { return f.healthy }

func TestLifecycleOrder(t *testing.T) {
	var log []string
	m := NewLifecycleManager()
	m.Register(&fakeComponent{name: "a", log: &log})
	m.Register(&fakeComponent{name: "b", log: &log})
	require.NoError(t, m.StartAll(context.Background()))
	require.NoError(t, m.StopAll())
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, log)

	// 未启动的组件不会被停止
	log = nil
	require.NoError(t, m.StopAll())
	assert.Empty(t, log)
}

func TestLifecycleRollbackOnStartFailure(t *testing.T) {
	var log []string
	m := NewLifecycleManager()
	m.Register(&fakeComponent{name: "a", log: &log})
	m.Register(&fakeComponent{name: "b", startErr: errors.New("port in use"), log: &log})
	m.Register(&fakeComponent{name: "c", log: &log})

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start b failed")
	assert.Equal(t, []string{"start a", "stop a"}, log)
}

func TestLifecycleHealth(t *testing.T) {
	var log []string
	m := NewLifecycleManager()
	m.Register(&fakeComponent{name: "a", log: &log})
	m.Register(&fakeComponent{name: "feed", healthy: errors.New("disconnected"), log: &log})
	err := m.CheckHealth()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed unhealthy")
}

func TestRunComponent(t *testing.T) {
	c := paperConfig(t)
	cont := NewWithConfig(c)
	require.NoError(t, cont.buildInfrastructure())
	defer cont.logger.Close()

	rc := &runComponent{name: "ws", logger: cont.logger, run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	assert.Error(t, rc.Health())
	require.NoError(t, rc.Start(context.Background()))
	assert.NoError(t, rc.Health())
	require.NoError(t, rc.Stop())
	assert.ErrorIs(t, rc.Health(), context.Canceled)

	failing := &runComponent{name: "ws", logger: cont.logger, run: func(context.Context) error {
		return errors.New("reconnect exhausted")
	}}
	require.NoError(t, failing.Start(context.Background()))
	require.Eventually(t, func() bool { return failing.Health() != nil }, time.Second, time.Millisecond)
	assert.Contains(t, failing.Health().Error(), "reconnect exhausted")
	require.NoError(t, cont.journal.Close())
}
