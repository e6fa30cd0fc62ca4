package portfolio

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestStore_ConcurrentCorrelatedAdmission 测试并发准入只放行一个相关仓位
func TestStore_ConcurrentCorrelatedAdmission(t *testing.T) {
	limits := testLimits()
	limits.MaxPositions = 1
	s := New(100000, limits, time.Second, nil)

	symbols := []string{"TCS", "INFY"}
	var admitted, rejected int64
	var wg sync.WaitGroup

	for _, sym := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			err := s.Reserve(Request{Symbol: symbol, Investment: 20000, Sector: "it"})
			if err == nil {
				atomic.AddInt64(&admitted, 1)
				return
			}
			if _, ok := AsRejection(err); !ok {
				t.Errorf("unexpected error for %s: %v", symbol, err)
				return
			}
			atomic.AddInt64(&rejected, 1)
		}(sym)
	}
	wg.Wait()

	// 单一仓位槽下两笔相关信号恰好放行一笔
	if admitted != 1 || rejected != 1 {
		t.Fatalf("expected 1 admitted / 1 rejected, got %d/%d", admitted, rejected)
	}
	if got := s.Snapshot().TradesToday; got != 1 {
		t.Fatalf("trades_today must count the admitted signal only, got %d", got)
	}
}

// TestStore_ConcurrentReserveNeverOversubscribes 测试并发预留不超卖资金与仓位槽
func TestStore_ConcurrentReserveNeverOversubscribes(t *testing.T) {
	limits := testLimits()
	limits.MaxPositions = 3
	limits.MaxTradesPerDay = 100
	s := New(100000, limits, time.Second, nil)

	var admitted int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			symbol := "SYM" + string(rune('A'+n%26))
			if err := s.Reserve(Request{Symbol: symbol, Investment: 40000}); err == nil {
				atomic.AddInt64(&admitted, 1)
			}
		}(i)
	}
	wg.Wait()

	// 100000 资金、每笔 40000：资金约束下最多 2 笔
	if admitted > 2 {
		t.Fatalf("capital oversubscribed: %d admissions", admitted)
	}
	snap := s.Snapshot()
	if snap.AvailableCapital < 0 {
		t.Fatalf("negative available capital: %.2f", snap.AvailableCapital)
	}
}

// TestStore_MixedConcurrentOperations 测试混合并发操作下的状态一致性
func TestStore_MixedConcurrentOperations(t *testing.T) {
	limits := testLimits()
	limits.MaxPositions = 10
	limits.MaxTradesPerDay = 1000
	limits.MaxDailyLossPercent = 1.0
	s := New(1_000_000, limits, time.Second, nil)

	var wg sync.WaitGroup
	operations := 50

	// 开仓/平仓循环
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			symbol := "SYM" + string(rune('A'+workerID))
			for j := 0; j < operations; j++ {
				if err := s.Reserve(Request{Symbol: symbol, Investment: 10000}); err != nil {
					continue
				}
				if err := s.Commit(Position{
					Symbol:     symbol,
					Quantity:   10,
					EntryPrice: 1000,
					EntryTime:  time.Now(),
				}); err != nil {
					t.Errorf("commit after reserve: %v", err)
					return
				}
				if _, err := s.Close(symbol, 1001, "cycle"); err != nil && !errors.Is(err, ErrNoSuchPosition) {
					t.Errorf("close: %v", err)
					return
				}
			}
		}(i)
	}

	// 行情推送
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < operations; j++ {
			s.UpdatePrice("SYMA", 1000+float64(j))
		}
	}()

	// 并发读取快照
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				snap := s.Snapshot()
				if snap.AvailableCapital < 0 {
					t.Errorf("negative available capital: %.2f", snap.AvailableCapital)
					return
				}
				_ = s.OpenSymbols()
			}
		}()
	}

	wg.Wait()

	snap := s.Snapshot()
	if snap.ActivePositions != 0 {
		t.Fatalf("all cycles closed, still %d positions", snap.ActivePositions)
	}
}
