package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backpack-mm/market"
	"backpack-mm/order"
)

type recordingHandler struct {
	mu     sync.Mutex
	feeds  []market.FeedEvent
	orders []order.Event
}

func (h *recordingHandler) OnFeed(ev market.FeedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.feeds = append(h.feeds, ev)
}

func (h *recordingHandler) OnOrderEvent(ev order.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.orders = append(h.orders, ev)
}

func (h *recordingHandler) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.feeds), len(h.orders)
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestBackpackWSSubscribesAndDispatches(t *testing.T) {
	fixedClock(t)
	upgrader := websocket.Upgrader{}
	subs := make(chan subscribeMsg, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 2; i++ {
			var m subscribeMsg
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			subs <- m
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"stream":"bookTicker.ETH_USDC_PERP","data":{"e":"bookTicker","a":"600.1","A":"1","b":"599.9","B":"1","T":1}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"stream":"account.orderUpdate.ETH_USDC_PERP","data":{"e":"orderAccepted","E":2,"c":1,"S":"Bid","i":"5"}}`))
		// 保持连接直到客户端关闭
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	h := &recordingHandler{}
	ws := NewBackpackWS("ETH_USDC_PERP", h, nil)
	ws.Endpoint = wsURL(srv)
	ws.Signer = testSigner(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ws.Run(ctx) }()

	pub := <-subs
	assert.Equal(t, "SUBSCRIBE", pub.Method)
	assert.Equal(t, []string{"bookTicker.ETH_USDC_PERP", "trade.ETH_USDC_PERP"}, pub.Params)
	priv := <-subs
	assert.Equal(t, []string{"account.orderUpdate.ETH_USDC_PERP"}, priv.Params)
	require.Len(t, priv.Signature, 4)
	assert.Equal(t, ws.Signer.APIKey(), priv.Signature[0])
	assert.Equal(t, "1234567890000", priv.Signature[2])

	require.Eventually(t, func() bool {
		f, o := h.counts()
		return f == 1 && o == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestBackpackWSReconnectExhaustedIsFatal(t *testing.T) {
	// 立即拒绝握手，模拟交易所不可达
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h := &recordingHandler{}
	ws := NewBackpackWS("ETH_USDC_PERP", h, nil)
	ws.Endpoint = wsURL(srv)
	ws.MaxReconnects = 2
	ws.BaseBackoff = time.Millisecond
	ws.MaxBackoff = 2 * time.Millisecond
	reconnects := 0
	ws.OnReconnect = func(int, error) { reconnects++ }

	err := ws.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFatal))
	_, o := h.counts()
	require.Equal(t, 1, o)
	assert.Equal(t, order.EventFatal, h.orders[0].Kind)
	assert.Equal(t, 2, reconnects)
}
