package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"signal-gate-go/config"
	"signal-gate-go/gateway"
	"signal-gate-go/infrastructure/alert"
	"signal-gate-go/infrastructure/logger"
	"signal-gate-go/internal/intake"
	"signal-gate-go/internal/portfolio"
	"signal-gate-go/internal/risk"
	"signal-gate-go/internal/session"
	"signal-gate-go/internal/signal"
	"signal-gate-go/internal/validator"
	"signal-gate-go/metrics"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	addr := flag.String("addr", "", "覆盖监听地址")
	dryRun := flag.Bool("dryRun", false, "不触达真实执行端，本地生成订单号")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dryRun {
		cfg.Execution.DryRun = true
	}

	lg, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	alertMgr := buildAlerts(cfg.Alerts)

	table, err := buildConvictionTable(cfg.Risk.ConvictionTable)
	if err != nil {
		log.Fatalf("风险表配置错误: %v", err)
	}
	calc := risk.NewCalculator(table, cfg.Risk.MaxPositionPercent)

	store := portfolio.New(cfg.Capital, buildLimits(cfg.Portfolio), cfg.Portfolio.LockTimeout(),
		portfolioSink(lg.Logger, alertMgr, cfg.Alerts.DailyLossAlertOnly))

	var exec gateway.ExecutionClient
	if cfg.Execution.DryRun {
		exec = &gateway.DryRunClient{}
		lg.Info("Execution in dry-run mode, orders will not reach a broker")
	} else {
		exec = &gateway.BrokerRESTClient{
			BaseURL:    cfg.Execution.BaseURL,
			APIKey:     cfg.Execution.APIKey,
			HTTPClient: gateway.NewDefaultHTTPClient(),
			Limiter:    gateway.NewTokenBucketLimiter(cfg.Execution.RatePerSecond, cfg.Execution.Burst),
		}
	}

	v := validator.New(calc, store, exec, validator.Config{
		MinRiskReward: cfg.Risk.MinRiskReward,
		RequireTarget: cfg.Risk.RequireTarget,
		MaxRetries:    cfg.Execution.MaxRetries,
		RetryBackoff:  cfg.Execution.RetryBackoff(),
		Sectors:       cfg.Portfolio.Sectors,
	}, lg.Logger)

	srv := intake.NewServer(intake.Config{
		Addr:         cfg.Server.Addr,
		APIKey:       cfg.Server.APIKey,
		RateLimit:    cfg.Server.RateLimitPerMinute,
		RateWindow:   time.Minute,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}, v, store, lg.Logger)

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Server.MetricsAddr != "" {
		metrics.StartMetricsServer(cfg.Server.MetricsAddr)
		lg.Info("Metrics server listening", zap.String("addr", cfg.Server.MetricsAddr))
	}

	loc, err := cfg.Session.Location()
	if err != nil {
		log.Fatalf("时区配置错误: %v", err)
	}
	sched := session.NewScheduler(store, loc,
		time.Duration(cfg.Session.ResetOffsetMinutes)*time.Minute, lg.Logger)
	go sched.Run(ctx)
	go srv.PruneLoop(ctx, 5*time.Minute)

	if cfg.PriceFeed.Enabled {
		feed := gateway.NewPriceFeed(cfg.PriceFeed.URL, store.UpdatePrice, lg.Logger)
		go feed.Run(ctx)
		lg.Info("Price feed enabled", zap.String("url", cfg.PriceFeed.URL))
	}

	// 热更新：只应用可在运行时安全替换的阈值
	watcher := &config.Watcher{Path: *cfgPath, Logger: lg.Logger}
	if err := watcher.Start(ctx, func(next config.AppConfig) {
		store.UpdateLimits(buildLimits(next.Portfolio))
		v.UpdateTunables(next.Risk.MinRiskReward, next.Portfolio.Sectors)
	}); err != nil {
		lg.Warn("Config hot reload disabled", zap.Error(err))
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		lg.Info("Signal gate listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("env", cfg.Env),
			zap.Float64("capital", cfg.Capital))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	lg.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("Shutdown incomplete", zap.Error(err))
	}
	lg.Info("Signal gate stopped")
}

// buildConvictionTable 把配置中的字符串等级转成类型化风险表；空表用默认值。
func buildConvictionTable(src map[string]float64) (risk.ConvictionTable, error) {
	if len(src) == 0 {
		return nil, nil
	}
	table := risk.ConvictionTable{}
	for name, pct := range src {
		conv, err := signal.ParseConviction(name)
		if err != nil {
			return nil, err
		}
		table[conv] = pct
	}
	return table, nil
}

func buildLimits(p config.PortfolioConfig) portfolio.Limits {
	groups := make([]portfolio.CorrelationGroup, 0, len(p.CorrelationGroups))
	for _, g := range p.CorrelationGroups {
		symbols := make(map[string]bool, len(g.Symbols))
		for _, s := range g.Symbols {
			symbols[s] = true
		}
		groups = append(groups, portfolio.CorrelationGroup{
			Name:        g.Name,
			Correlation: g.Correlation,
			Symbols:     symbols,
		})
	}
	return portfolio.Limits{
		MaxPositions:             p.MaxPositions,
		MaxDailyLossPercent:      p.MaxDailyLossPercent,
		MaxTradesPerDay:          p.MaxTradesPerDay,
		MaxSectorExposurePercent: p.MaxSectorExposurePercent,
		MaxCorrelation:           p.MaxCorrelation,
		Groups:                   groups,
	}
}

func buildAlerts(cfg config.AlertConfig) *alert.Manager {
	if !cfg.Enabled {
		return nil
	}
	throttle := time.Duration(cfg.ThrottleSeconds) * time.Second
	if throttle <= 0 {
		throttle = 5 * time.Minute
	}
	channels := []alert.Channel{alert.NewConsoleChannel("console")}
	if cfg.LogFile != "" {
		if f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			channels = append(channels, alert.NewLogChannel("file", f))
		}
	}
	return alert.NewManager(channels, throttle)
}

// portfolioSink 把组合事件导入结构化日志，并对风险事件触发告警。
func portfolioSink(lg *zap.Logger, alerts *alert.Manager, lossOnly bool) portfolio.EventSink {
	return func(event string, fields map[string]interface{}) {
		lg.Info("Portfolio event", zap.String("event", event), zap.Any("fields", fields))
		if alerts == nil {
			return
		}
		if lossOnly && event != "daily_loss_limit" {
			return
		}
		switch event {
		case "position_closed":
			if pnl, ok := fields["pnl"].(float64); ok && pnl < 0 {
				_ = alerts.SendWarning("Position closed at a loss", fields)
			}
		case "daily_loss_limit":
			_ = alerts.SendCritical("Daily loss limit reached, new entries blocked", fields)
		case "reservation_released":
			_ = alerts.SendError("Order placement failed, reservation rolled back", fields)
		case "daily_reset":
			_ = alerts.SendInfo("Trading day counters reset", fields)
		}
	}
}
