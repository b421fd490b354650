package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher 监听配置文件变更。运行中的配置不可变，检测到修改后只校验新文件并提示重启。
type Watcher struct {
	Path string
	// Debounce 合并编辑器保存时的连续事件
	Debounce time.Duration
	Logger   *zap.Logger
}

// Start 阻塞直到 ctx 取消；每次文件稳定后回调 onChange(新配置, 校验错误)。
func (w Watcher) Start(ctx context.Context, onChange func(AppConfig, error)) error {
	if w.Debounce <= 0 {
		w.Debounce = 500 * time.Millisecond
	}
	if w.Logger == nil {
		w.Logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	// 监听目录而不是文件，编辑器常用 rename 方式保存
	target := filepath.Clean(w.Path)
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", w.Path, err)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.Debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.Debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			cfg, err := LoadWithEnvOverrides(w.Path)
			if err != nil {
				w.Logger.Warn("config file changed but is invalid", zap.String("path", w.Path), zap.Error(err))
			} else {
				w.Logger.Warn("config file changed, restart required to apply", zap.String("path", w.Path))
			}
			if onChange != nil {
				onChange(cfg, err)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.Logger.Warn("config watcher error", zap.Error(err))
		}
	}
}
