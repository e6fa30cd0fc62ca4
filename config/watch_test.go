package config

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestWatcherTriggersOnChange(t *testing.T) {
	path := writeTempConfig(t, validConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan AppConfig, 1)
	w := &Watcher{Path: path, Cooldown: time.Millisecond}
	if err := w.Start(ctx, func(cfg AppConfig) {
		select {
		case updates <- cfg:
		default:
		}
	}); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	changed := strings.Replace(validConfig, "maxTradesPerDay: 5", "maxTradesPerDay: 7", 1)
	if err := os.WriteFile(path, []byte(changed), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-updates:
		if cfg.Portfolio.MaxTradesPerDay != 7 {
			t.Fatalf("reloaded config not applied: %+v", cfg.Portfolio)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no reload observed")
	}
}

func TestWatcherKeepsOldConfigOnInvalidChange(t *testing.T) {
	path := writeTempConfig(t, validConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan AppConfig, 1)
	w := &Watcher{Path: path, Cooldown: time.Millisecond}
	if err := w.Start(ctx, func(cfg AppConfig) { updates <- cfg }); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	// 破坏配置：校验失败的变更不得触发回调
	broken := strings.Replace(validConfig, "capital: 100000", "capital: 0", 1)
	if err := os.WriteFile(path, []byte(broken), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-updates:
		t.Fatalf("invalid config must not be applied: %+v", cfg)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcherMissingFile(t *testing.T) {
	w := &Watcher{Path: "/nonexistent/cfg.yaml"}
	if err := w.Start(context.Background(), nil); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
