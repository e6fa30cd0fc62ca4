package integration

import (
	"context"
	"fmt"
	"sync"

	"signal-gate-go/gateway"
)

// MockBroker 模拟执行端（用于集成测试）。
// 可配置前 N 次下单失败或明确拒单，记录收到的全部订单。
type MockBroker struct {
	mu sync.Mutex

	failNext   int
	rejectNext int

	orders []gateway.OrderRequest
	seq    int
}

func NewMockBroker() *MockBroker {
	return &MockBroker{}
}

// FailNext 接下来 n 次下单返回可重试错误。
func (b *MockBroker) FailNext(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = n
}

// RejectNext 接下来 n 次下单返回明确拒单。
func (b *MockBroker) RejectNext(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectNext = n
}

func (b *MockBroker) PlaceOrder(ctx context.Context, req gateway.OrderRequest) (gateway.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return gateway.OrderResult{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rejectNext > 0 {
		b.rejectNext--
		return gateway.OrderResult{}, fmt.Errorf("%w: mock margin check", gateway.ErrOrderRejected)
	}
	if b.failNext > 0 {
		b.failNext--
		return gateway.OrderResult{}, fmt.Errorf("mock broker unavailable")
	}

	b.orders = append(b.orders, req)
	b.seq++
	return gateway.OrderResult{OrderID: fmt.Sprintf("MOCK-%d", b.seq)}, nil
}

// Orders 返回已接受订单的副本。
func (b *MockBroker) Orders() []gateway.OrderRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]gateway.OrderRequest, len(b.orders))
	copy(out, b.orders)
	return out
}

// PlacedCount 已接受的订单数。
func (b *MockBroker) PlacedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}
