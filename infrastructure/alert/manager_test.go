package alert

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestThrottlerPerKey(t *testing.T) {
	th := NewThrottler(time.Minute)
	now := time.Unix(1000, 0)
	th.now = func() time.Time { return now }

	assert.True(t, th.Allow("hedge"))
	assert.False(t, th.Allow("hedge"))
	assert.True(t, th.Allow("fatal"), "不同 key 互不影响")

	now = now.Add(time.Minute)
	assert.True(t, th.Allow("hedge"))
}

func TestManagerFanOutAndFailure(t *testing.T) {
	a, b := NewMockChannel(), NewMockChannel()
	m := NewManager([]Channel{a, b}, time.Hour)

	require.NoError(t, m.Warn("circuit", "price shock", map[string]interface{}{"move": 0.03}))
	require.NoError(t, m.Warn("circuit", "price shock", nil), "限流后静默")
	assert.Len(t, a.Alerts(), 1)
	assert.Len(t, b.Alerts(), 1)
	assert.Equal(t, LevelWarning, a.Alerts()[0].Level)
	assert.False(t, a.Alerts()[0].Timestamp.IsZero())

	a.SetShouldError(true)
	require.NoError(t, m.Critical("fatal", "auth failed", nil), "只要有通道成功就不报错")
	b.SetShouldError(true)
	assert.Error(t, m.Critical("fatal-2", "auth failed", nil))
	assert.Equal(t, []string{"mock", "mock"}, m.Channels())

	var nilMgr *Manager
	assert.NoError(t, nilMgr.Warn("x", "y", nil))
}

func TestWebhookChannel(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	m := NewManager([]Channel{NewWebhookChannel(srv.URL), NewZapChannel(zap.NewNop())}, time.Second)
	require.NoError(t, m.Critical("", "engine stopped", map[string]interface{}{"reason": "auth"}))
	assert.Equal(t, "[CRITICAL] engine stopped", got.Text)
	assert.Equal(t, "auth", got.Fields["reason"])

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	assert.Error(t, NewWebhookChannel(bad.URL).Send(Alert{Level: LevelInfo, Message: "x"}))
}
