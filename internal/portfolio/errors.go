package portfolio

import "errors"

// 稳定的拒绝原因字符串。决策输出按这些常量逐字返回，便于审计比对。
const (
	ReasonMaxPositions        = "Maximum positions reached"
	ReasonDailyLoss           = "Daily loss limit reached"
	ReasonMaxTrades           = "Maximum trades per day reached"
	ReasonInsufficientCapital = "Insufficient capital"
	ReasonSectorExposure      = "Sector exposure limit exceeded"
	ReasonCorrelated          = "Correlated position already open"
	ReasonDuplicate           = "Position already open for symbol"
	ReasonBusy                = "Portfolio busy, retry"
	ReasonAllPassed           = "All checks passed"
)

// Rejection 承载稳定拒绝原因的错误类型。
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string { return r.Reason }

var (
	ErrMaxPositions        = &Rejection{Reason: ReasonMaxPositions}
	ErrDailyLoss           = &Rejection{Reason: ReasonDailyLoss}
	ErrMaxTrades           = &Rejection{Reason: ReasonMaxTrades}
	ErrInsufficientCapital = &Rejection{Reason: ReasonInsufficientCapital}
	ErrSectorExposure      = &Rejection{Reason: ReasonSectorExposure}
	ErrCorrelated          = &Rejection{Reason: ReasonCorrelated}
	ErrDuplicateSymbol     = &Rejection{Reason: ReasonDuplicate}
	// ErrBusy 在限定时间内拿不到组合锁，可重试。
	ErrBusy = &Rejection{Reason: ReasonBusy}
)

var (
	// ErrNoSuchPosition 平仓时目标仓位不存在。
	ErrNoSuchPosition = errors.New("no such position")
	// ErrNoReservation Commit/Release 时找不到对应预留，属于内部不变量破坏。
	ErrNoReservation = errors.New("no reservation for symbol")
)

// AsRejection 判断 err 是否为业务拒绝（区别于内部错误）。
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
