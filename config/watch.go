package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher 基于 fsnotify 的配置热更新：文件写入后重新加载并回调。
// 带冷却时间，避免编辑器多次写入触发连续重载。
type Watcher struct {
	Path     string
	Cooldown time.Duration
	Logger   *zap.Logger

	mu         sync.Mutex
	lastReload time.Time
}

// Start 启动监听；onUpdate 收到通过校验的最新配置。
// 加载失败的变更只记日志，当前配置保持生效。
func (w *Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	if w.Cooldown <= 0 {
		w.Cooldown = 5 * time.Second
	}
	if w.Logger == nil {
		w.Logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(w.Path); err != nil {
		fw.Close()
		return fmt.Errorf("watch config file: %w", err)
	}

	go func() {
		defer fw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				w.handleChange(onUpdate)
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.Logger.Warn("Config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (w *Watcher) handleChange(onUpdate func(AppConfig)) {
	w.mu.Lock()
	if time.Since(w.lastReload) < w.Cooldown {
		w.mu.Unlock()
		return
	}
	w.lastReload = time.Now()
	w.mu.Unlock()

	cfg, err := LoadWithEnvOverrides(w.Path)
	if err != nil {
		w.Logger.Warn("Config reload rejected", zap.String("path", w.Path), zap.Error(err))
		return
	}
	w.Logger.Info("Config reloaded", zap.String("path", w.Path))
	if onUpdate != nil {
		onUpdate(cfg)
	}
}
