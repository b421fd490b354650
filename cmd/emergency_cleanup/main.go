// emergency_cleanup 撤销全部挂单并用 reduce-only 市价单平掉合约持仓。
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"time"

	"backpack-mm/config"
	"backpack-mm/gateway"
	"backpack-mm/order"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径（凭证可用 MM_API_KEY / MM_API_SECRET 覆盖）")
	flatten := flag.Bool("flatten", true, "撤单后是否市价平仓")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	ex := cfg.Exchange
	signer, err := gateway.NewSigner(ex.APIKey, ex.APISecret, ex.WindowMs)
	if err != nil {
		log.Fatalf("需要有效的 API 凭证: %v", err)
	}
	cli := &gateway.BackpackRESTClient{
		BaseURL:    ex.RESTURL,
		Signer:     signer,
		HTTPClient: gateway.NewDefaultHTTPClient(),
		BrokerID:   ex.BrokerID,
	}
	symbol := cfg.Instrument.Symbol
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// 1. 取消所有挂单
	fmt.Printf("🔸 取消 %s 所有挂单...\n", symbol)
	if err := cli.CancelAll(ctx, symbol); err != nil {
		log.Printf("取消挂单失败: %v", err)
	} else {
		fmt.Println("✅ 所有挂单已取消")
	}
	if !*flatten || cfg.Instrument.MarketType != "PERP" {
		return
	}

	// 2. 查询当前仓位
	fmt.Println("\n🔸 查询当前仓位...")
	position, err := netPosition(ctx, cli, symbol)
	if err != nil {
		log.Fatalf("查询仓位失败: %v", err)
	}
	fmt.Printf("当前仓位: %.6f\n", position)

	m, err := cli.ResolveMarket(ctx, cfg.Instrument.Ticker, cfg.Instrument.MarketType)
	if err != nil {
		log.Fatalf("加载交易对精度失败: %v", err)
	}
	cons, err := m.Constraints()
	if err != nil {
		log.Fatalf("交易对精度无效: %v", err)
	}
	cli.Constraints = cons

	qty := cons.FloorQty(math.Abs(position))
	if qty <= 0 || qty < cons.MinQty {
		fmt.Println("✅ 没有可平的持仓")
		return
	}

	// 3. 平仓
	side := order.SideSell
	if position < 0 {
		side = order.SideBuy
	}
	req := gateway.OrderRequest{
		Symbol:     symbol,
		Side:       side,
		Type:       gateway.OrderTypeMarket,
		Qty:        qty,
		ReduceOnly: true,
	}
	fmt.Printf("\n🔸 平仓 %s %.6f...\n", req.Side, qty)
	id, err := cli.Submit(ctx, req)
	if err != nil {
		log.Fatalf("平仓失败: %v", err)
	}
	fmt.Printf("✅ 平仓订单已提交 id=%s\n", id)

	time.Sleep(3 * time.Second)
	final, err := netPosition(ctx, cli, symbol)
	if err != nil {
		log.Printf("查询最终仓位失败: %v", err)
		return
	}
	fmt.Printf("\n最终仓位: %.6f\n", final)
}

func netPosition(ctx context.Context, cli *gateway.BackpackRESTClient, symbol string) (float64, error) {
	positions, err := cli.Positions(ctx, symbol)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, p := range positions {
		total += p.NetQuantity
	}
	return total, nil
}
