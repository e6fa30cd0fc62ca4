package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"signal-gate-go/metrics"
)

// PriceHandler 行情回调，由组合状态实现。
type PriceHandler func(symbol string, price float64)

// PriceFeed 行情 websocket 客户端：消费 {"symbol": s, "price": p} 报文，
// 断线后按指数退避重连。
type PriceFeed struct {
	URL          string
	Dialer       *websocket.Dialer
	Handler      PriceHandler
	Logger       *zap.Logger
	ReadTimeout  time.Duration
	MaxReconnect time.Duration
}

type priceTick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

func NewPriceFeed(url string, handler PriceHandler, lg *zap.Logger) *PriceFeed {
	return &PriceFeed{
		URL:          url,
		Dialer:       websocket.DefaultDialer,
		Handler:      handler,
		Logger:       lg,
		ReadTimeout:  60 * time.Second,
		MaxReconnect: 30 * time.Second,
	}
}

// Run 持续消费行情直到 ctx 结束。单次连接失败不致命，只影响行情新鲜度。
func (f *PriceFeed) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if err := f.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			if f.Logger != nil {
				f.Logger.Warn("Price feed disconnected",
					zap.String("url", f.URL),
					zap.Duration("retry_in", backoff),
					zap.Error(err))
			}
			metrics.FeedReconnects.Inc()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > f.MaxReconnect {
			backoff = f.MaxReconnect
		}
	}
}

func (f *PriceFeed) consume(ctx context.Context) error {
	conn, _, err := f.Dialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		if f.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var tick priceTick
		if err := json.Unmarshal(message, &tick); err != nil {
			// 非行情报文直接跳过
			continue
		}
		if tick.Symbol == "" || tick.Price <= 0 {
			continue
		}
		if f.Handler != nil {
			f.Handler(tick.Symbol, tick.Price)
		}
	}
}
