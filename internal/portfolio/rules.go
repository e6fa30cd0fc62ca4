package portfolio

// Request 一次准入请求。
type Request struct {
	Symbol     string
	Investment float64
	Sector     string
}

// View 规则可见的组合只读视图。实现方持有组合锁，规则本身不做任何同步。
type View interface {
	Capital() float64
	PositionCount() int
	DailyLossPercent() float64
	TradesToday() int
	AvailableCapital() float64
	SectorExposure(sector string) float64
	OpenSymbols() []string
}

// Rule 单条准入规则，不通过时返回 *Rejection。
type Rule interface {
	Check(v View, r Request) error
}

// RuleChain 按固定顺序执行规则，第一条失败即终止。
// 顺序即裁决顺序：相同组合状态下拒绝原因可复现。
type RuleChain []Rule

func (c RuleChain) Check(v View, r Request) error {
	for _, rule := range c {
		if rule == nil {
			continue
		}
		if err := rule.Check(v, r); err != nil {
			return err
		}
	}
	return nil
}

// MaxPositionsRule 并发持仓数上限。
type MaxPositionsRule struct {
	Max int
}

func (ru MaxPositionsRule) Check(v View, _ Request) error {
	if v.PositionCount() >= ru.Max {
		return ErrMaxPositions
	}
	return nil
}

// DailyLossRule 日亏损上限。达到上限后拒绝一切新开仓，平仓不受影响
// （退出动作根本不会进入规则链）。
type DailyLossRule struct {
	MaxPercent float64
}

func (ru DailyLossRule) Check(v View, _ Request) error {
	if v.DailyLossPercent() >= ru.MaxPercent {
		return ErrDailyLoss
	}
	return nil
}

// MaxTradesRule 当日开仓笔数上限；退出动作不计数。
type MaxTradesRule struct {
	Max int
}

func (ru MaxTradesRule) Check(v View, _ Request) error {
	if v.TradesToday() >= ru.Max {
		return ErrMaxTrades
	}
	return nil
}

// CapitalRule 可用资金校验。
type CapitalRule struct{}

func (CapitalRule) Check(v View, r Request) error {
	if r.Investment > v.AvailableCapital() {
		return ErrInsufficientCapital
	}
	return nil
}

// SectorExposureRule 单一板块敞口上限。
type SectorExposureRule struct {
	MaxPercent float64
}

func (ru SectorExposureRule) Check(v View, r Request) error {
	if r.Sector == "" || ru.MaxPercent <= 0 {
		return nil
	}
	capital := v.Capital()
	if capital <= 0 {
		return nil
	}
	if (v.SectorExposure(r.Sector)+r.Investment)/capital > ru.MaxPercent {
		return ErrSectorExposure
	}
	return nil
}

// CorrelationGroup 相关性分组（银行/IT/汽车等），来自配置。
type CorrelationGroup struct {
	Name        string
	Correlation float64
	Symbols     map[string]bool
}

// CorrelationRule 相关性检查。属于建议性风控而非硬资金约束，因此排在最后：
// 新符号与任一现有仓位同组且组内相关系数超过阈值即拒绝。
type CorrelationRule struct {
	Groups    []CorrelationGroup
	Threshold float64
}

func (ru CorrelationRule) Check(v View, r Request) error {
	if ru.Threshold <= 0 || len(ru.Groups) == 0 {
		return nil
	}
	for _, g := range ru.Groups {
		if g.Correlation <= ru.Threshold || !g.Symbols[r.Symbol] {
			continue
		}
		for _, open := range v.OpenSymbols() {
			if open != r.Symbol && g.Symbols[open] {
				return ErrCorrelated
			}
		}
	}
	return nil
}

// Limits 组合级风控限额，来自配置。
type Limits struct {
	MaxPositions             int
	MaxDailyLossPercent      float64
	MaxTradesPerDay          int
	MaxSectorExposurePercent float64
	MaxCorrelation           float64
	Groups                   []CorrelationGroup
}

// BuildChain 构造规则链；顺序固定，对应稳定的裁决顺序。
func BuildChain(l Limits) RuleChain {
	return RuleChain{
		MaxPositionsRule{Max: l.MaxPositions},
		DailyLossRule{MaxPercent: l.MaxDailyLossPercent},
		MaxTradesRule{Max: l.MaxTradesPerDay},
		CapitalRule{},
		SectorExposureRule{MaxPercent: l.MaxSectorExposurePercent},
		CorrelationRule{Groups: l.Groups, Threshold: l.MaxCorrelation},
	}
}
