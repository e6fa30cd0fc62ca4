package risk

import "errors"

var (
	// ErrZeroRisk 入场价与止损价重合，无法按风险分配仓位。
	ErrZeroRisk = errors.New("zero risk per unit")
	// ErrInvalidConviction 信念等级不在风险表中。
	ErrInvalidConviction = errors.New("invalid conviction level")
	// ErrInvalidLevels 价格层级不满足方向不变量。
	ErrInvalidLevels = errors.New("invalid price levels")
	// ErrBadCapital 资金必须为正。
	ErrBadCapital = errors.New("capital must be positive")
)
