// Package metrics provides Prometheus metrics for the signal gate
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// 决策指标
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sg",
		Subsystem: "validator",
		Name:      "decisions_total",
		Help:      "决策总数（按结果分）",
	}, []string{"outcome"})
	RejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sg",
		Subsystem: "validator",
		Name:      "rejections_total",
		Help:      "拒绝总数（按原因分）",
	}, []string{"reason"})

	// 入站指标
	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sg",
		Subsystem: "intake",
		Name:      "webhook_requests_total",
		Help:      "webhook 请求总数（按HTTP状态码分）",
	}, []string{"code"})
	WebhookLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sg",
		Subsystem: "intake",
		Name:      "webhook_latency_seconds",
		Help:      "webhook 处理延迟分布（秒）",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	})
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sg",
		Subsystem: "intake",
		Name:      "rate_limited_total",
		Help:      "触发限流的请求总数",
	})
	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sg",
		Subsystem: "intake",
		Name:      "auth_failures_total",
		Help:      "API key 校验失败总数",
	})

	// 组合指标
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sg",
		Subsystem: "portfolio",
		Name:      "open_positions",
		Help:      "当前持仓数（含预留）",
	})
	TradesToday = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sg",
		Subsystem: "portfolio",
		Name:      "trades_today",
		Help:      "当日已开仓笔数",
	})
	DailyLossPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sg",
		Subsystem: "portfolio",
		Name:      "daily_loss_percent",
		Help:      "当日亏损占资金比例",
	})
	AvailableCapital = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sg",
		Subsystem: "portfolio",
		Name:      "available_capital",
		Help:      "当前可用资金",
	})
	SectorExposure = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sg",
		Subsystem: "portfolio",
		Name:      "sector_exposure",
		Help:      "板块投入金额",
	}, []string{"sector"})
	DailyResets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sg",
		Subsystem: "portfolio",
		Name:      "daily_resets_total",
		Help:      "交易日边界重置次数",
	})

	// 执行指标
	OrdersPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sg",
		Subsystem: "execution",
		Name:      "orders_placed_total",
		Help:      "成功提交到执行网关的订单数",
	})
	ExecutionRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sg",
		Subsystem: "execution",
		Name:      "retries_total",
		Help:      "执行网关重试次数",
	})
	ExecutionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sg",
		Subsystem: "execution",
		Name:      "failures_total",
		Help:      "执行网关最终失败次数",
	})

	// 行情指标
	PriceUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sg",
		Subsystem: "pricefeed",
		Name:      "price_updates_total",
		Help:      "收到的价格更新总数",
	})
	FeedReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sg",
		Subsystem: "pricefeed",
		Name:      "reconnects_total",
		Help:      "价格源重连次数",
	})
)

// UpdatePortfolioMetrics 一次性刷新组合侧 Gauge。
func UpdatePortfolioMetrics(openPositions, tradesToday int, dailyLossPct, availableCapital float64) {
	OpenPositions.Set(float64(openPositions))
	TradesToday.Set(float64(tradesToday))
	DailyLossPercent.Set(dailyLossPct)
	AvailableCapital.Set(availableCapital)
}

// RecordDecision 记录一次决策结果。
func RecordDecision(approved bool, reason string) {
	if approved {
		DecisionsTotal.WithLabelValues("approved").Inc()
		return
	}
	DecisionsTotal.WithLabelValues("rejected").Inc()
	RejectionsTotal.WithLabelValues(reason).Inc()
}

// StartMetricsServer 启动Prometheus指标服务器
func StartMetricsServer(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, nil)
	}()
}
