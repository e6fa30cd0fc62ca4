package intake

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"signal-gate-go/internal/portfolio"
	"signal-gate-go/internal/signal"
	"signal-gate-go/internal/validator"
	"signal-gate-go/metrics"
)

// Config 入口服务配置。
type Config struct {
	Addr           string
	APIKey         string
	RateLimit      int           // 每来源每窗口最大请求数，0 不限
	RateWindow     time.Duration // 默认 60s
	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

// Server 信号入口：认证、限流、解析，然后交给决策管线。
type Server struct {
	cfg       Config
	validator *validator.Validator
	store     *portfolio.Store
	limiter   *SlidingWindow
	logger    *zap.Logger
}

// envelope 出站响应统一结构。
type envelope struct {
	Success      bool                    `json:"success"`
	Approved     bool                    `json:"approved"`
	Reason       string                  `json:"reason"`
	TradeDetails *validator.TradeDetails `json:"trade_details"`
	Timestamp    string                  `json:"timestamp"`
}

// NewServer 创建入口服务。
func NewServer(cfg Config, v *validator.Validator, store *portfolio.Store, lg *zap.Logger) *Server {
	if lg == nil {
		lg = zap.NewNop()
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	return &Server{
		cfg:       cfg,
		validator: v,
		store:     store,
		limiter:   NewSlidingWindow(cfg.RateLimit, cfg.RateWindow),
		logger:    lg,
	}
}

// Handler 返回路由。/metrics 由独立端口提供，不走这里。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

// ListenAndServe 启动 HTTP 服务，阻塞直至出错。
func (s *Server) ListenAndServe() (*http.Server, error) {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv, srv.ListenAndServe()
}

// PruneLoop 周期清理限流器中过期的来源，阻塞直到 ctx 结束。
func (s *Server) PruneLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Prune()
		}
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	code := s.processWebhook(w, r)
	metrics.WebhookRequests.WithLabelValues(strconv.Itoa(code)).Inc()
	metrics.WebhookLatency.Observe(time.Since(start).Seconds())
}

// processWebhook 返回写出的 HTTP 状态码。
// 顺序固定：方法 → 读体 → 解析 → 认证 → 限流 → 决策。
func (s *Server) processWebhook(w http.ResponseWriter, r *http.Request) int {
	if r.Method != http.MethodPost {
		return s.reject(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		return s.reject(w, http.StatusBadRequest, "Unreadable body")
	}

	if !json.Valid(body) {
		return s.reject(w, http.StatusBadRequest, "Malformed JSON")
	}
	sig, apiKey, perr := signal.Parse(body, time.Now())

	// 认证先于字段错误的细节反馈，避免探测
	if !s.authorized(apiKey) {
		metrics.AuthFailures.Inc()
		s.logger.Warn("Webhook auth failure", zap.String("remote", r.RemoteAddr))
		return s.reject(w, http.StatusForbidden, "Invalid API key")
	}
	if !s.limiter.Allow(apiKey) {
		metrics.RateLimited.Inc()
		return s.reject(w, http.StatusTooManyRequests, "Rate limit exceeded")
	}
	// 价位一致性违例不是输入错误：交给决策管线终结为业务拒绝。
	// 4xx 只留给格式损坏、字段缺失与认证失败。
	if perr != nil && !errors.Is(perr, signal.ErrInvalidLevels) {
		s.logger.Info("Webhook input rejected", zap.Error(perr))
		return s.reject(w, http.StatusBadRequest, perr.Error())
	}

	d := s.validator.Validate(r.Context(), sig)
	if d.Internal {
		return s.reject(w, http.StatusInternalServerError, d.Reason)
	}
	return s.respond(w, http.StatusOK, envelope{
		Success:      d.Success,
		Approved:     d.Approved,
		Reason:       d.Reason,
		TradeDetails: d.Details,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	})
}

// authorized 常数时间比较，不因前缀命中泄露时序信息。
func (s *Server) authorized(apiKey string) bool {
	if s.cfg.APIKey == "" || apiKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(apiKey), []byte(s.cfg.APIKey)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.reject(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "signal-gate",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus 只读组合快照，无副作用。
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.reject(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) reject(w http.ResponseWriter, code int, reason string) int {
	return s.respond(w, code, envelope{
		Success:   false,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) respond(w http.ResponseWriter, code int, env envelope) int {
	writeJSON(w, code, env)
	return code
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
