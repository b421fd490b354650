package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"backpack-mm/market"
	"backpack-mm/order"
)

const BackpackWSEndpoint = "wss://ws.backpack.exchange"

// StreamHandler 接收解析后的行情与订单回报。
type StreamHandler interface {
	OnFeed(ev market.FeedEvent)
	OnOrderEvent(ev order.Event)
}

type subscribeMsg struct {
	Method    string   `json:"method"`
	Params    []string `json:"params"`
	Signature []string `json:"signature,omitempty"`
}

// BackpackWS 订阅 bookTicker/trade 公共流与 account.orderUpdate 私有流，断线指数退避重连。
type BackpackWS struct {
	Endpoint string
	Symbol   string
	Dialer   *websocket.Dialer
	// Signer 为 nil 时只订阅行情。
	Signer  *Signer
	IDs     *ClientIDs
	Handler StreamHandler
	Logger  *zap.Logger

	ReadTimeout   time.Duration
	MaxReconnects int // 连续失败次数上限，超过视为不可恢复
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	// Depth 额外订阅 depth 增量流。
	Depth bool
	// OnReconnect 每次断线重连前回调。
	OnReconnect func(attempt int, err error)
}

func NewBackpackWS(symbol string, handler StreamHandler, logger *zap.Logger) *BackpackWS {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackpackWS{
		Endpoint:      BackpackWSEndpoint,
		Symbol:        symbol,
		Dialer:        websocket.DefaultDialer,
		Handler:       handler,
		Logger:        logger,
		ReadTimeout:   30 * time.Second,
		MaxReconnects: 10,
		BaseBackoff:   500 * time.Millisecond,
		MaxBackoff:    30 * time.Second,
	}
}

// Streams 返回本连接要订阅的公共流名称。
func (b *BackpackWS) Streams() []string {
	streams := []string{"bookTicker." + b.Symbol, "trade." + b.Symbol}
	if b.Depth {
		streams = append(streams, "depth."+b.Symbol)
	}
	return streams
}

// Run 阻塞直到 ctx 取消或连接不可恢复；后者会先投递一条 Fatal 事件。
func (b *BackpackWS) Run(ctx context.Context) error {
	if b.Symbol == "" {
		return fmt.Errorf("symbol required")
	}
	if b.Handler == nil {
		return fmt.Errorf("stream handler required")
	}
	failures := 0
	backoff := b.BaseBackoff
	for {
		received, err := b.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			failures = 0
			backoff = b.BaseBackoff
		}
		failures++
		if b.MaxReconnects > 0 && failures > b.MaxReconnects {
			fatal := fmt.Errorf("%w: websocket reconnect exhausted after %d attempts: %v", ErrFatal, failures-1, err)
			b.Handler.OnOrderEvent(order.Event{Kind: order.EventFatal, Reason: fatal.Error(), Err: fatal, At: time.Now()})
			return fatal
		}
		b.Logger.Warn("websocket disconnected, reconnecting",
			zap.Error(err),
			zap.Int("attempt", failures),
			zap.Duration("backoff", backoff))
		if b.OnReconnect != nil {
			b.OnReconnect(failures, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > b.MaxBackoff {
			backoff = b.MaxBackoff
		}
	}
}

// session 建立一次连接并读取直到出错；received 表示本次连接至少收到过一条消息。
func (b *BackpackWS) session(ctx context.Context) (received bool, err error) {
	conn, _, err := b.Dialer.DialContext(ctx, b.Endpoint, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	if err := conn.WriteJSON(subscribeMsg{Method: "SUBSCRIBE", Params: b.Streams()}); err != nil {
		return false, fmt.Errorf("subscribe public: %w", err)
	}
	if b.Signer != nil {
		ts, sig := b.Signer.Sign("subscribe", nil)
		msg := subscribeMsg{
			Method: "SUBSCRIBE",
			Params: []string{"account.orderUpdate." + b.Symbol},
			Signature: []string{
				b.Signer.APIKey(), sig,
				strconv.FormatInt(ts, 10), strconv.FormatInt(b.Signer.Window(), 10),
			},
		}
		if err := conn.WriteJSON(msg); err != nil {
			return false, fmt.Errorf("subscribe private: %w", err)
		}
	}

	for {
		if b.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(b.ReadTimeout))
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return received, errors.New("server closed connection")
			}
			return received, err
		}
		received = true
		p, err := ParseStreamMessage(raw, b.IDs)
		if err != nil {
			b.Logger.Debug("skip unparsable ws message", zap.Error(err), zap.ByteString("raw", raw))
			continue
		}
		if p.Feed != nil {
			b.Handler.OnFeed(*p.Feed)
		}
		if p.Order != nil {
			b.Handler.OnOrderEvent(*p.Order)
		}
	}
}
