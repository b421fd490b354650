package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"backpack-mm/gateway"
)

// 查询 Backpack 交易对精度，结果可直接填入 instrument.tickSize/stepSize/minQty。
func main() {
	baseURL := flag.String("baseURL", gateway.BackpackRESTEndpoint, "REST 地址")
	ticker := flag.String("ticker", "ETH", "标的(如 ETH)")
	marketType := flag.String("marketType", "PERP", "PERP / SPOT")
	flag.Parse()

	client := &gateway.BackpackRESTClient{
		BaseURL:    *baseURL,
		HTTPClient: gateway.NewDefaultHTTPClient(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t, mt := strings.ToUpper(strings.TrimSpace(*ticker)), strings.ToUpper(strings.TrimSpace(*marketType))
	m, err := client.ResolveMarket(ctx, t, mt)
	if err != nil {
		log.Fatalf("获取交易对信息失败: %v", err)
	}
	c, err := m.Constraints()
	if err != nil {
		log.Fatalf("解析精度失败: %v", err)
	}
	fmt.Printf("%s 类型=%s base=%s quote=%s\n", m.Symbol, m.MarketType, m.BaseSymbol, m.QuoteSymbol)
	fmt.Printf("  TickSize=%s\n", c.FormatPrice(c.TickSize))
	fmt.Printf("  StepSize=%s MinQty=%s MaxQty=%s\n", c.FormatQty(c.StepSize), c.FormatQty(c.MinQty), c.FormatQty(c.MaxQty))
}
