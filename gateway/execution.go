package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// OrderRequest 转发给执行端的订单。Quantity 恒为正，方向由 Action 表达。
type OrderRequest struct {
	Symbol   string  `json:"symbol"`
	Exchange string  `json:"exchange,omitempty"`
	Action   string  `json:"action"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	StopLoss float64 `json:"stop_loss,omitempty"`
	Target   float64 `json:"target,omitempty"`
	Strategy string  `json:"strategy,omitempty"`
}

// OrderResult 执行端确认。
type OrderResult struct {
	OrderID string `json:"order_id"`
}

// ErrOrderRejected 执行端明确拒单（非网络故障）。
var ErrOrderRejected = errors.New("order rejected by broker")

// ExecutionClient 执行网关。调用方只在拿到成功结果后才登记仓位。
type ExecutionClient interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// BrokerRESTClient 面向执行端 REST 接口的客户端；HTTPClient 可注入 httptest。
type BrokerRESTClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Limiter    RateLimiter
}

type placeOrderResp struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id"`
	Message string `json:"message"`
}

// PlaceOrder 调用 POST /api/v1/placeorder。
func (c *BrokerRESTClient) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if c == nil || c.HTTPClient == nil {
		return OrderResult{}, fmt.Errorf("http client not set")
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return OrderResult{}, err
		}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return OrderResult{}, fmt.Errorf("encode order: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/placeorder", bytes.NewReader(body))
	if err != nil {
		return OrderResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("X-API-KEY", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return OrderResult{}, err
	}
	defer resp.Body.Close()

	var pr placeOrderResp
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return OrderResult{}, fmt.Errorf("decode place order response: %w", err)
	}
	// 4xx 为明确拒单，不值得重试；5xx 走重试路径。
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return OrderResult{}, fmt.Errorf("%w: status %d %s", ErrOrderRejected, resp.StatusCode, pr.Message)
	}
	if resp.StatusCode >= 300 {
		return OrderResult{}, fmt.Errorf("place order status %d", resp.StatusCode)
	}
	if pr.OrderID == "" {
		return OrderResult{}, fmt.Errorf("empty order_id in response")
	}
	return OrderResult{OrderID: pr.OrderID}, nil
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// DryRunClient 不触达真实执行端，本地生成订单号。用于模拟运行与测试。
type DryRunClient struct {
	seq atomic.Int64
}

func (c *DryRunClient) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return OrderResult{}, err
	}
	n := c.seq.Add(1)
	return OrderResult{OrderID: fmt.Sprintf("dry-%d", n)}, nil
}
