package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"backpack-mm/order"
)

const (
	BackpackRESTEndpoint = "https://api.backpack.exchange"
	// defaultBrokerID 下单时附带的 X-BROKER-ID。
	defaultBrokerID = "2110"
)

// BackpackRESTClient 一个可签名的简化客户端；HTTPClient 可注入 httptest。
type BackpackRESTClient struct {
	BaseURL    string
	Signer     *Signer
	HTTPClient *http.Client
	Limiter    RateLimiter
	IDs        *ClientIDs
	// Constraints 用于格式化价格/数量字符串。
	Constraints order.SymbolConstraints
	BrokerID    string
	// Observe 非空时在每个请求结束后回调，用于延迟与错误统计。
	Observe func(action string, elapsed time.Duration, err error)
}

type executeResp struct {
	ID       string `json:"id"`
	ClientID uint32 `json:"clientId"`
	Status   string `json:"status"`
}

type errorResp struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MarketSymbol 由标的与市场类型拼接 Backpack 交易对，如 ETH_USDC_PERP / ETH_USDC。
func MarketSymbol(ticker, marketType string) string {
	sym := strings.ToUpper(ticker) + "_USDC"
	if strings.EqualFold(marketType, "PERP") {
		sym += "_PERP"
	}
	return sym
}

func backpackSide(s order.Side) string {
	if s == order.SideBuy {
		return "Bid"
	}
	return "Ask"
}

// Submit 调用 orderExecute 下单。
func (c *BackpackRESTClient) Submit(ctx context.Context, req OrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if req.Type == "" {
		req.Type = OrderTypeLimit
	}
	params := map[string]string{
		"symbol":    req.Symbol,
		"side":      backpackSide(req.Side),
		"orderType": string(req.Type),
		"quantity":  c.Constraints.FormatQty(req.Qty),
	}
	if req.Type == OrderTypeLimit {
		params["price"] = c.Constraints.FormatPrice(req.Price)
	}
	if req.PostOnly {
		params["postOnly"] = "true"
	}
	if req.ReduceOnly {
		params["reduceOnly"] = "true"
	}
	if req.TimeInForce != "" {
		params["timeInForce"] = string(req.TimeInForce)
	}
	if req.ClientID != "" && c.IDs != nil {
		params["clientId"] = strconv.FormatUint(uint64(c.IDs.Register(req.ClientID)), 10)
	}

	var resp executeResp
	if err := c.do(ctx, http.MethodPost, "/api/v1/order", "orderExecute", params, &resp); err != nil {
		return "", fmt.Errorf("submit %s %s: %w", req.Side, req.Symbol, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("submit %s %s: empty order id", req.Side, req.Symbol)
	}
	return resp.ID, nil
}

// Cancel 调用 orderCancel 撤单。
func (c *BackpackRESTClient) Cancel(ctx context.Context, symbol, exchangeID string) error {
	if exchangeID == "" {
		return fmt.Errorf("cancel %s: order id required", symbol)
	}
	params := map[string]string{"symbol": symbol, "orderId": exchangeID}
	if err := c.do(ctx, http.MethodDelete, "/api/v1/order", "orderCancel", params, nil); err != nil {
		return fmt.Errorf("cancel %s %s: %w", symbol, exchangeID, err)
	}
	return nil
}

// CancelAll 调用 orderCancelAll 撤销该交易对所有挂单。
func (c *BackpackRESTClient) CancelAll(ctx context.Context, symbol string) error {
	params := map[string]string{"symbol": symbol}
	if err := c.do(ctx, http.MethodDelete, "/api/v1/orders", "orderCancelAll", params, nil); err != nil {
		return fmt.Errorf("cancel all %s: %w", symbol, err)
	}
	return nil
}

// do 发送签名请求。instruction 为空表示公共接口。
func (c *BackpackRESTClient) do(ctx context.Context, method, path, instruction string, params map[string]string, out interface{}) (err error) {
	if c == nil || c.HTTPClient == nil {
		return fmt.Errorf("http client not set")
	}
	if c.Observe != nil {
		action := instruction
		if action == "" {
			action = path
		}
		start := time.Now()
		defer func() { c.Observe(action, time.Since(start), err) }()
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	endpoint := strings.TrimRight(c.BaseURL, "/") + path
	var body io.Reader
	if method == http.MethodGet {
		if len(params) > 0 {
			q := url.Values{}
			for k, v := range params {
				q.Set(k, v)
			}
			endpoint += "?" + q.Encode()
		}
	} else {
		raw, err := json.Marshal(typedBody(params))
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if instruction != "" {
		if c.Signer == nil {
			return fmt.Errorf("%w: signer not configured", ErrFatal)
		}
		ts, sig := c.Signer.Sign(instruction, params)
		req.Header.Set("X-API-Key", c.Signer.APIKey())
		req.Header.Set("X-Signature", sig)
		req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
		req.Header.Set("X-Window", strconv.FormatInt(c.Signer.Window(), 10))
		if instruction == "orderExecute" {
			broker := c.BrokerID
			if broker == "" {
				broker = defaultBrokerID
			}
			req.Header.Set("X-BROKER-ID", broker)
		}
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := classifyStatus(resp.StatusCode, raw); err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func classifyStatus(status int, raw []byte) error {
	if status < 300 {
		return nil
	}
	var er errorResp
	_ = json.Unmarshal(raw, &er)
	if er.Message == "" {
		er.Message = strings.TrimSpace(string(raw))
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", ErrFatal, status, er.Message)
	case status >= 400 && status < 500:
		return &RejectError{Status: status, Code: er.Code, Message: er.Message}
	default:
		return fmt.Errorf("status %d: %s", status, er.Message)
	}
}

// typedBody 请求体中布尔和 clientId 使用 JSON 原生类型，签名串仍用字符串形式。
func typedBody(params map[string]string) map[string]interface{} {
	body := make(map[string]interface{}, len(params))
	for k, v := range params {
		switch k {
		case "postOnly", "reduceOnly":
			body[k] = v == "true"
		case "clientId":
			n, err := strconv.ParseUint(v, 10, 32)
			if err == nil {
				body[k] = n
				continue
			}
			body[k] = v
		default:
			body[k] = v
		}
	}
	return body
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
