package gateway

import (
	"context"
	"errors"
	"fmt"

	"backpack-mm/order"
)

// ErrFatal 鉴权失败或连接不可恢复，调用方必须停止报价。
var ErrFatal = errors.New("fatal gateway error")

// OrderType 下单类型。
type OrderType string

const (
	OrderTypeLimit  OrderType = "Limit"
	OrderTypeMarket OrderType = "Market"
)

// TimeInForce 订单有效期。
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
)

// OrderRequest 下单请求；ClientID 为本地 CorrelationID。
type OrderRequest struct {
	Symbol      string
	ClientID    string
	Side        order.Side
	Type        OrderType
	Price       float64
	Qty         float64
	PostOnly    bool
	ReduceOnly  bool
	TimeInForce TimeInForce
}

// Validate 基本字段检查。
func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return errors.New("symbol required")
	}
	if r.Side != order.SideBuy && r.Side != order.SideSell {
		return fmt.Errorf("invalid side %q", r.Side)
	}
	if r.Qty <= 0 {
		return fmt.Errorf("qty must be > 0, got %v", r.Qty)
	}
	if r.Type == OrderTypeLimit && r.Price <= 0 {
		return fmt.Errorf("limit price must be > 0, got %v", r.Price)
	}
	return nil
}

// Client 控制循环依赖的下单接口。回报（成交等）通过事件流异步送达。
type Client interface {
	// Submit 返回交易所订单号。
	Submit(ctx context.Context, req OrderRequest) (string, error)
	Cancel(ctx context.Context, symbol, exchangeID string) error
	CancelAll(ctx context.Context, symbol string) error
}

// RejectError 交易所明确拒绝了请求（价格/余额/限流等），可在下个 tick 重新对账。
type RejectError struct {
	Status  int
	Code    string
	Message string
}

func (e *RejectError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("rejected (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("rejected (status %d, %s): %s", e.Status, e.Code, e.Message)
}

// IsReject 判断是否为交易所拒单。
func IsReject(err error) bool {
	var re *RejectError
	return errors.As(err, &re)
}

// IsOrderGone 撤单被拒的原因是订单在交易所已不存在（已成交或已撤）。
// 限流等其他拒绝不说明订单状态。
func IsOrderGone(err error) bool {
	var re *RejectError
	if !errors.As(err, &re) {
		return false
	}
	return re.Status == 404 || re.Code == "RESOURCE_NOT_FOUND"
}
