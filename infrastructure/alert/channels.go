package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ZapChannel 把告警写入结构化日志
type ZapChannel struct {
	logger *zap.Logger
}

func NewZapChannel(logger *zap.Logger) *ZapChannel {
	return &ZapChannel{logger: logger.Named("alert")}
}

func (c *ZapChannel) Send(a Alert) error {
	fields := []zap.Field{zap.String("level", string(a.Level)), zap.Time("at", a.Timestamp)}
	for k, v := range a.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	if a.Level == LevelCritical {
		c.logger.Error(a.Message, fields...)
	} else {
		c.logger.Warn(a.Message, fields...)
	}
	return nil
}

func (c *ZapChannel) Name() string { return "log" }

// WebhookChannel 以 JSON POST 推送告警（Slack/飞书等兼容 {"text": ...} 的机器人）
type WebhookChannel struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{URL: url, Client: http.DefaultClient, Timeout: 3 * time.Second}
}

type webhookPayload struct {
	Text   string                 `json:"text"`
	Level  Level                  `json:"level"`
	At     time.Time              `json:"at"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

func (c *WebhookChannel) Send(a Alert) error {
	body, err := json.Marshal(webhookPayload{
		Text:   fmt.Sprintf("[%s] %s", a.Level, a.Message),
		Level:  a.Level,
		At:     a.Timestamp,
		Fields: a.Fields,
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

func (c *WebhookChannel) Name() string { return "webhook" }

// MockChannel 模拟告警通道（用于测试）
type MockChannel struct {
	mu        sync.Mutex
	alerts    []Alert
	shouldErr bool
}

func NewMockChannel() *MockChannel { return &MockChannel{} }

func (c *MockChannel) Send(a Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shouldErr {
		return fmt.Errorf("mock error")
	}
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *MockChannel) Name() string { return "mock" }

// Alerts 获取已接收的告警
func (c *MockChannel) Alerts() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Alert(nil), c.alerts...)
}

func (c *MockChannel) SetShouldError(v bool) {
	c.mu.Lock()
	c.shouldErr = v
	c.mu.Unlock()
}
