package alert

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockChannel 记录收到的告警，可切换为失败模式
type mockChannel struct {
	mu        sync.Mutex
	name      string
	alerts    []Alert
	shouldErr bool
}

func newMockChannel(name string) *mockChannel {
	return &mockChannel{name: name}
}

func (c *mockChannel) Send(alert Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shouldErr {
		return errors.New("mock send failed")
	}
	c.alerts = append(c.alerts, alert)
	return nil
}

func (c *mockChannel) Name() string { return c.name }

func (c *mockChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}

func (c *mockChannel) last() Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alerts[len(c.alerts)-1]
}

func TestSendAlertDelivers(t *testing.T) {
	mock := newMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	err := mgr.SendAlert(Alert{
		Level:   LevelWarning,
		Message: "Position closed at a loss",
		Fields:  map[string]interface{}{"symbol": "TCS", "pnl": -3000.0},
	})
	if err != nil {
		t.Fatalf("SendAlert failed: %v", err)
	}
	if mock.count() != 1 {
		t.Fatalf("expected 1 alert, got %d", mock.count())
	}

	got := mock.last()
	if got.Level != LevelWarning {
		t.Errorf("level = %s, want WARNING", got.Level)
	}
	if got.Fields["symbol"] != "TCS" {
		t.Errorf("symbol field = %v, want TCS", got.Fields["symbol"])
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestSendLevels(t *testing.T) {
	tests := []struct {
		name   string
		sendFn func(*Manager) error
		want   Level
	}{
		{"SendInfo", func(m *Manager) error { return m.SendInfo("daily reset", nil) }, LevelInfo},
		{"SendWarning", func(m *Manager) error { return m.SendWarning("loss close", nil) }, LevelWarning},
		{"SendError", func(m *Manager) error { return m.SendError("order failed", nil) }, LevelError},
		{"SendCritical", func(m *Manager) error { return m.SendCritical("daily loss limit", nil) }, LevelCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockChannel("mock")
			mgr := NewManager([]Channel{mock}, 5*time.Minute)
			if err := tt.sendFn(mgr); err != nil {
				t.Fatalf("send failed: %v", err)
			}
			if mock.count() != 1 {
				t.Fatalf("expected 1 alert, got %d", mock.count())
			}
			if got := mock.last().Level; got != tt.want {
				t.Errorf("level = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestThrottlingSuppressesRepeats(t *testing.T) {
	mock := newMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 100*time.Millisecond)

	mgr.SendError("Daily loss limit reached", nil)
	mgr.SendError("Daily loss limit reached", nil)
	if mock.count() != 1 {
		t.Fatalf("repeat within interval should be throttled, got %d", mock.count())
	}

	time.Sleep(150 * time.Millisecond)
	mgr.SendError("Daily loss limit reached", nil)
	if mock.count() != 2 {
		t.Errorf("after interval: expected 2 alerts, got %d", mock.count())
	}
}

func TestDifferentMessagesNotThrottled(t *testing.T) {
	mock := newMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	mgr.SendInfo("message one", nil)
	mgr.SendInfo("message two", nil)
	mgr.SendWarning("message one", nil) // 同文案不同级别算不同key

	if mock.count() != 3 {
		t.Errorf("expected 3 alerts, got %d", mock.count())
	}
}

func TestAllChannelsFailingReturnsError(t *testing.T) {
	mock := newMockChannel("mock")
	mock.shouldErr = true
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	err := mgr.SendInfo("test", nil)
	if err == nil {
		t.Fatal("expected error when all channels fail")
	}
	if !strings.Contains(err.Error(), "mock") {
		t.Errorf("error should name the channel: %v", err)
	}
}

func TestPartialChannelFailureIsSuccess(t *testing.T) {
	broken := newMockChannel("broken")
	broken.shouldErr = true
	ok := newMockChannel("ok")
	mgr := NewManager([]Channel{broken, ok}, 5*time.Minute)

	if err := mgr.SendInfo("test", nil); err != nil {
		t.Errorf("should not error when one channel succeeds: %v", err)
	}
	if ok.count() != 1 {
		t.Error("surviving channel should receive the alert")
	}
}

func TestConcurrentSameAlertThrottledToOne(t *testing.T) {
	mock := newMockChannel("mock")
	mgr := NewManager([]Channel{mock}, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mgr.SendWarning("same event", nil)
		}()
	}
	wg.Wait()

	if mock.count() != 1 {
		t.Errorf("concurrent identical alerts should collapse to 1, got %d", mock.count())
	}
}

func TestThrottlerKeysIndependent(t *testing.T) {
	th := NewThrottler(time.Minute)

	if !th.Allow("a") {
		t.Error("first call should pass")
	}
	if th.Allow("a") {
		t.Error("repeat should be throttled")
	}
	if !th.Allow("b") {
		t.Error("different key should pass")
	}
}

func TestFormatFieldsStableOrder(t *testing.T) {
	got := formatFields(map[string]interface{}{"symbol": "TCS", "pnl": -500.0, "action": "CLOSE"})
	want := " action=CLOSE pnl=-500 symbol=TCS"
	if got != want {
		t.Errorf("formatFields = %q, want %q", got, want)
	}
}

func TestLogChannelWritesWithoutError(t *testing.T) {
	ch := NewLogChannel("file", nil)
	if ch.Name() != "file" {
		t.Errorf("name = %s, want file", ch.Name())
	}
	err := ch.Send(Alert{Level: LevelInfo, Message: "test", Fields: map[string]interface{}{"k": "v"}})
	if err != nil {
		t.Errorf("Send failed: %v", err)
	}
}

func TestConsoleChannelAllLevels(t *testing.T) {
	ch := NewConsoleChannel("console")
	for _, level := range []Level{LevelInfo, LevelWarning, LevelError, LevelCritical} {
		err := ch.Send(Alert{Level: level, Message: "test " + string(level), Timestamp: time.Now()})
		if err != nil {
			t.Errorf("Send %s failed: %v", level, err)
		}
	}
}
