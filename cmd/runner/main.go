// runner 启动 Backpack 做市引擎。env=paper 时使用内存撮合与随机游走行情。
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"backpack-mm/config"
	"backpack-mm/internal/container"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	watch := flag.Bool("watch", true, "监听配置文件变更并提示重启")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.New(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := c.Build(ctx); err != nil {
		log.Fatalf("构建失败: %v", err)
	}
	lg := c.Logger()
	if err := c.Start(ctx); err != nil {
		lg.LogError(err, map[string]interface{}{"action": "start"})
		_ = c.Stop()
		os.Exit(1)
	}
	notify(lg.Zap(), daemon.SdNotifyReady)

	if *watch {
		w := config.Watcher{Path: *cfgPath, Logger: lg.Named("config").Zap()}
		go func() {
			err := w.Start(ctx, func(next config.AppConfig, err error) {
				if err != nil {
					lg.Warn("config changed but invalid", zap.Error(err))
					return
				}
				lg.Warn("config changed, restart required to apply",
					zap.String("symbol", next.Instrument.Symbol),
					zap.String("env", next.Env))
			})
			if err != nil && ctx.Err() == nil {
				lg.Warn("config watcher stopped", zap.Error(err))
			}
		}()
	}
	go watchdog(ctx, c, lg.Zap())

	lg.Info("runner started",
		zap.String("symbol", c.Config().Instrument.Symbol),
		zap.String("env", c.Config().Env),
		zap.String("metrics", c.MetricsAddr()))

	select {
	case <-ctx.Done():
		lg.Info("shutdown signal received")
	case <-c.Done():
		lg.Error("engine exited", zap.Error(c.Err()))
	}

	notify(lg.Zap(), daemon.SdNotifyStopping)
	fatal := c.Err()
	if err := c.Stop(); err != nil {
		log.Printf("停止失败: %v", err)
		os.Exit(1)
	}
	if fatal != nil {
		os.Exit(1)
	}
}

// notify 非 systemd 环境下 SdNotify 返回 false，忽略即可。
func notify(lg *zap.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		lg.Warn("sd_notify failed", zap.String("state", state), zap.Error(err))
	}
}

// watchdog 健康时按 WatchdogSec 的一半发送心跳；不健康时停止心跳，由 systemd 重启。
func watchdog(ctx context.Context, c *container.Container, lg *zap.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.HealthCheck(); err != nil {
				lg.Warn("health check failed, skipping watchdog ping", zap.Error(err))
				continue
			}
			notify(lg, daemon.SdNotifyWatchdog)
		}
	}
}
