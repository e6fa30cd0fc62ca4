package intake

import (
	"sync"
	"time"
)

// SlidingWindow 按来源身份限流：60 秒滑动窗口内最多 limit 次请求。
// 只保护入口不被信号风暴击穿，与组合锁完全无关。
type SlidingWindow struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	sources map[string][]time.Time
}

// NewSlidingWindow 创建限流器；limit<=0 表示不限流。
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindow{
		limit:   limit,
		window:  window,
		now:     time.Now,
		sources: make(map[string][]time.Time),
	}
}

// Allow 判定一次来自 source 的请求是否放行，放行即计入窗口。
func (l *SlidingWindow) Allow(source string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	hits := l.sources[source]

	// 抛弃窗口外的记录
	kept := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.limit {
		l.sources[source] = kept
		return false
	}
	l.sources[source] = append(kept, now)
	return true
}

// Prune 清掉窗口内已无记录的来源，防止 map 无界增长。
func (l *SlidingWindow) Prune() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.window)
	for source, hits := range l.sources {
		alive := false
		for _, t := range hits {
			if t.After(cutoff) {
				alive = true
				break
			}
		}
		if !alive {
			delete(l.sources, source)
		}
	}
}
