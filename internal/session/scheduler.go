package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Clock 抽象时间便于测试。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// SystemClock 默认时钟。
var SystemClock Clock = realClock{}

// Resetter 交易日边界需要重置的组合状态。
type Resetter interface {
	ResetDaily()
}

// Scheduler 在配置时区的日界触发 ResetDaily。
// 重置是一个显式事件，走组合锁，绝不与在途准入交错。
type Scheduler struct {
	resetter Resetter
	location *time.Location
	boundary time.Duration // 距 00:00 的偏移，默认 0
	clock    Clock
	logger   *zap.Logger
}

// NewScheduler 创建调度器；loc 为空时使用本地时区。
func NewScheduler(r Resetter, loc *time.Location, boundary time.Duration, lg *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Scheduler{
		resetter: r,
		location: loc,
		boundary: boundary,
		clock:    SystemClock,
		logger:   lg,
	}
}

// NextBoundary 给定当前时刻，返回下一个日界。
func (s *Scheduler) NextBoundary(now time.Time) time.Time {
	local := now.In(s.location)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.location).Add(s.boundary)
	if !today.After(local) {
		return today.AddDate(0, 0, 1)
	}
	return today
}

// Run 阻塞运行直到 ctx 结束。
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := s.NextBoundary(s.clock.Now())
		wait := next.Sub(s.clock.Now())
		s.logger.Info("Daily reset scheduled",
			zap.Time("next_boundary", next),
			zap.Duration("in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.logger.Info("Daily reset firing", zap.Time("boundary", next))
		s.resetter.ResetDaily()
	}
}
