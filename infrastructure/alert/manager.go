package alert

import (
	"fmt"
	"sync"
	"time"
)

// Level 告警级别
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Alert 一条告警。Fields 为附加上下文（symbol、pnl 等）。
type Alert struct {
	Level     Level
	Message   string
	Timestamp time.Time
	Fields    map[string]interface{}
}

// Channel 告警通道接口
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Throttler 按 level:message 维度限流，避免同一风险事件刷屏
type Throttler struct {
	mu       sync.Mutex
	lastSent map[string]time.Time
	interval time.Duration
}

// NewThrottler 创建限流器
func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
	}
}

// Allow 检查是否允许发送
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if last, ok := t.lastSent[key]; ok && now.Sub(last) < t.interval {
		return false
	}
	t.lastSent[key] = now
	return true
}

// Manager 把告警广播到所有通道
type Manager struct {
	mu       sync.RWMutex
	channels []Channel
	throttle *Throttler
}

// NewManager 创建告警管理器
func NewManager(channels []Channel, throttleInterval time.Duration) *Manager {
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
	}
}

// SendAlert 发送告警。被限流的告警静默丢弃。
// 只要有一个通道成功就视为成功。
func (m *Manager) SendAlert(alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	key := fmt.Sprintf("%s:%s", alert.Level, alert.Message)
	if !m.throttle.Allow(key) {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var lastErr error
	delivered := 0
	for _, ch := range m.channels {
		if err := ch.Send(alert); err != nil {
			lastErr = fmt.Errorf("channel %s failed: %w", ch.Name(), err)
			continue
		}
		delivered++
	}
	if delivered == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

func (m *Manager) send(level Level, message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{Level: level, Message: message, Fields: fields})
}

// SendInfo 发送INFO级别告警
func (m *Manager) SendInfo(message string, fields map[string]interface{}) error {
	return m.send(LevelInfo, message, fields)
}

// SendWarning 发送WARNING级别告警
func (m *Manager) SendWarning(message string, fields map[string]interface{}) error {
	return m.send(LevelWarning, message, fields)
}

// SendError 发送ERROR级别告警
func (m *Manager) SendError(message string, fields map[string]interface{}) error {
	return m.send(LevelError, message, fields)
}

// SendCritical 发送CRITICAL级别告警
func (m *Manager) SendCritical(message string, fields map[string]interface{}) error {
	return m.send(LevelCritical, message, fields)
}
