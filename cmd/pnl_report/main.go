// pnl_report 读取成交流水数据库，输出一段时间内的成交与盈亏统计。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"backpack-mm/internal/journal"
)

func main() {
	dbPath := flag.String("db", "data/journal.db", "成交流水数据库路径")
	symbol := flag.String("symbol", "ETH_USDC_PERP", "交易对")
	sinceStr := flag.String("since", "", "仅统计此时间之后的记录 (RFC3339，例如 2025-11-22T00:00:00Z)")
	untilStr := flag.String("until", "", "仅统计此时间之前的记录 (RFC3339)")
	flag.Parse()

	since, err := parseTime(*sinceStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "解析 since 参数失败: %v\n", err)
		os.Exit(1)
	}
	until, err := parseTime(*untilStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "解析 until 参数失败: %v\n", err)
		os.Exit(1)
	}
	if _, err := os.Stat(*dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "无法读取流水: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s, recent, err := journal.Report(ctx, *dbPath, *symbol, since, until)
	if err != nil {
		fmt.Fprintf(os.Stderr, "统计失败: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("统计文件: %s\n", *dbPath)
	fmt.Printf("交易对: %s\n", s.Symbol)
	if !since.IsZero() {
		fmt.Printf("起始时间: %s\n", since.Format(time.RFC3339))
	}
	if !s.First.IsZero() {
		fmt.Printf("成交区间: %s ~ %s\n", s.First.UTC().Format(time.RFC3339), s.Last.UTC().Format(time.RFC3339))
	}
	fmt.Printf("成交笔数: %d (对冲请求 %d)\n", s.Fills, s.Hedges)
	fmt.Printf("成交量: %.6f\n", s.Volume)
	fmt.Printf("成交额: %.4f USDC (maker 占比 %.1f%%)\n", s.Notional, s.MakerRatio()*100)
	fmt.Printf("手续费: %.6f USDC\n", s.Fees)
	fmt.Printf("期末仓位: %.6f\n", s.Position)
	fmt.Printf("Realized PnL: %.6f USDC\n", s.RealizedPnL)

	if len(recent) > 0 {
		fmt.Println("最近记录:")
		for _, r := range recent {
			fmt.Printf("  %s %-5s %-4s %.6f@%.4f maker=%t pos=%.6f %s\n",
				r.At.UTC().Format(time.RFC3339), r.Kind, r.Side, r.Qty, r.Price, r.Maker, r.Position, r.Reason)
		}
	}
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}
