package risk

import (
	"fmt"
	"math"

	"signal-gate-go/internal/signal"
)

// ConvictionTable 信念等级到单笔风险百分比的映射，属于配置而非业务常量。
type ConvictionTable map[signal.Conviction]float64

// DefaultConvictionTable 默认风险表（0.25% ~ 2.00%）。
func DefaultConvictionTable() ConvictionTable {
	return ConvictionTable{
		signal.ConvictionBelowLow:  0.0025,
		signal.ConvictionLow:       0.0050,
		signal.ConvictionMedium:    0.0100,
		signal.ConvictionHigh:      0.0150,
		signal.ConvictionAboveHigh: 0.0175,
		signal.ConvictionHighest:   0.0200,
	}
}

// Allocation 一次仓位分配的完整结果。
type Allocation struct {
	Capital      float64
	Conviction   signal.Conviction
	RiskPercent  float64 // 配置的风险百分比
	RiskAmount   float64 // capital * RiskPercent
	EntryPrice   float64
	StopLoss     float64
	RiskPerUnit  float64 // |entry - stop|
	MaxQtyByRisk int     // 风险预算允许的最大数量
	MaxQtyByCap  int     // 单仓资金占比允许的最大数量
	PositionSize int     // min(MaxQtyByRisk, MaxQtyByCap)；0 表示仓位过小，非错误

	TotalInvestment   float64 // PositionSize * entry
	ActualRiskAmount  float64 // PositionSize * RiskPerUnit
	ActualRiskPercent float64
}

// RRCheck 风险回报比校验结果。
type RRCheck struct {
	Valid    bool
	Ratio    float64
	MinRatio float64
}

// Calculator 纯函数式风险计算器，无共享状态，无 I/O。
type Calculator struct {
	table ConvictionTable
	// maxPositionPercent 单笔仓位最多占用的资金比例。
	// 1.0 表示只受资金总量约束，风险预算是唯一的主导项。
	maxPositionPercent float64
}

// NewCalculator 创建计算器；table 为 nil 时使用默认风险表，
// maxPositionPercent 不在 (0,1] 内时不做额外资金占比限制。
func NewCalculator(table ConvictionTable, maxPositionPercent float64) *Calculator {
	if table == nil {
		table = DefaultConvictionTable()
	}
	if maxPositionPercent <= 0 || maxPositionPercent > 1 {
		maxPositionPercent = 1.0
	}
	return &Calculator{table: table, maxPositionPercent: maxPositionPercent}
}

// RiskPercent 查询信念等级对应的风险百分比。
func (c *Calculator) RiskPercent(conviction signal.Conviction) (float64, error) {
	pct, ok := c.table[conviction]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrInvalidConviction, conviction)
	}
	return pct, nil
}

// ComputeAllocation 按风险预算计算仓位。确定性：相同输入永远得到相同输出。
// 数量永远向下取整，绝不超出风险预算；结果为 0 表示仓位过小，由调用方拒绝。
func (c *Calculator) ComputeAllocation(capital, entry, stop float64, conviction signal.Conviction) (Allocation, error) {
	if capital <= 0 {
		return Allocation{}, ErrBadCapital
	}
	if entry <= 0 || stop <= 0 {
		return Allocation{}, fmt.Errorf("%w: entry %.4f stop %.4f", ErrInvalidLevels, entry, stop)
	}
	riskPerUnit := math.Abs(entry - stop)
	if riskPerUnit == 0 {
		return Allocation{}, ErrZeroRisk
	}

	pct, err := c.RiskPercent(conviction)
	if err != nil {
		return Allocation{}, err
	}
	riskAmount := capital * pct

	maxByRisk := int(riskAmount / riskPerUnit)
	maxByCap := int(capital * c.maxPositionPercent / entry)
	size := maxByRisk
	if maxByCap < size {
		size = maxByCap
	}

	alloc := Allocation{
		Capital:           capital,
		Conviction:        conviction,
		RiskPercent:       pct,
		RiskAmount:        riskAmount,
		EntryPrice:        entry,
		StopLoss:          stop,
		RiskPerUnit:       riskPerUnit,
		MaxQtyByRisk:      maxByRisk,
		MaxQtyByCap:       maxByCap,
		PositionSize:      size,
		TotalInvestment:   float64(size) * entry,
		ActualRiskAmount:  float64(size) * riskPerUnit,
		ActualRiskPercent: float64(size) * riskPerUnit / capital,
	}
	return alloc, nil
}

// ValidateRiskReward 校验风险回报比；minRatio 为包含边界（>= 通过）。
func (c *Calculator) ValidateRiskReward(entry, stop, target, minRatio float64) (RRCheck, error) {
	riskPerUnit := math.Abs(entry - stop)
	if riskPerUnit == 0 {
		return RRCheck{MinRatio: minRatio}, ErrZeroRisk
	}
	ratio := math.Abs(target-entry) / riskPerUnit
	return RRCheck{
		Valid:    ratio >= minRatio,
		Ratio:    ratio,
		MinRatio: minRatio,
	}, nil
}
