package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backpack-mm/config"
	"backpack-mm/internal/container"
)

// 本地纸面演练：随机游走行情驱动完整的报价、对账与对冲链路，不连接真实交易所。
func main() {
	cfgPath := flag.String("config", "", "配置文件路径（为空时使用默认参数）")
	duration := flag.Duration("duration", 30*time.Second, "运行时长")
	seed := flag.Int64("seed", 1, "随机游走种子")
	volBps := flag.Float64("volBps", 0, "每步波动 (bps)，0 表示使用配置")
	tradeProb := flag.Float64("tradeProb", -1, "每步产生成交的概率，<0 表示使用配置")
	journalPath := flag.String("journal", "", "成交流水路径，为空则不落盘")
	metricsAddr := flag.String("metricsAddr", "", "Prometheus metrics 监听地址，留空则关闭")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			log.Fatalf("加载配置失败: %v", err)
		}
	}
	cfg.Env = "paper"
	cfg.Logging.Level = "warn"
	cfg.Paper.Seed = *seed
	if *volBps > 0 {
		cfg.Paper.VolBps = *volBps
	}
	if *tradeProb >= 0 {
		cfg.Paper.TradeProb = *tradeProb
	}
	cfg.Journal.Path = *journalPath
	cfg.Metrics.Enabled = *metricsAddr != ""
	cfg.Metrics.Listen = *metricsAddr
	cfg.Profiling.ServerAddress = ""
	cfg.Normalize()
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("配置无效: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := container.NewWithConfig(cfg)
	if err := c.Build(ctx); err != nil {
		log.Fatalf("构建失败: %v", err)
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Stop()
		log.Fatalf("启动失败: %v", err)
	}

	timer := time.NewTimer(*duration)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-c.Done():
	}

	fatal := c.Err()
	if err := c.Stop(); err != nil {
		log.Printf("停止失败: %v", err)
	}
	stats := c.Engine().GetStatistics()

	p := c.Inventory().Position()
	m := c.Markout().Stats()
	fmt.Printf("symbol=%s seed=%d duration=%s\n", cfg.Instrument.Symbol, *seed, *duration)
	fmt.Printf("ticks=%d skipped=%d quotes=%d orders=%d cancels=%d fills=%d hedges=%d errors=%d\n",
		stats.TotalTicks, stats.SkippedTicks, stats.TotalQuotes, stats.TotalOrders,
		stats.TotalCancels, stats.TotalFills, stats.TotalHedges, stats.TotalErrors)
	fmt.Printf("position=%.6f avgEntry=%.4f realizedPnL=%.6f fees=%.6f\n", p.Qty, p.AvgEntry, p.RealizedPnL, p.Fees)
	fmt.Printf("markout: analyzed=%d/%d adverse=%.1f%% short=%.2fbps long=%.2fbps\n",
		m.AnalyzedFills, m.TotalFills, m.AdverseSelectionRate*100, m.AvgMarkoutShortBps, m.AvgMarkoutLongBps)
	if fatal != nil {
		fmt.Printf("engine halted: %v\n", fatal)
		os.Exit(1)
	}
}
