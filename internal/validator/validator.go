package validator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"signal-gate-go/gateway"
	"signal-gate-go/internal/portfolio"
	"signal-gate-go/internal/risk"
	"signal-gate-go/internal/signal"
	"signal-gate-go/metrics"
)

// PipelineState 单个信号在决策流水线中的阶段，只前进不回退。
type PipelineState int

const (
	// StateReceived 信号已进入流水线
	StateReceived PipelineState = iota
	// StateStructureChecked 字段与价位关系校验通过
	StateStructureChecked
	// StateSized 仓位计算完成
	StateSized
	// StateRRChecked 风险回报比校验通过
	StateRRChecked
	// StatePortfolioChecked 组合准入通过（已持有预留）
	StatePortfolioChecked
	// StateDecided 终态
	StateDecided
)

// String 返回阶段名称
func (s PipelineState) String() string {
	switch s {
	case StateReceived:
		return "RECEIVED"
	case StateStructureChecked:
		return "STRUCTURE_CHECKED"
	case StateSized:
		return "SIZED"
	case StateRRChecked:
		return "RR_CHECKED"
	case StatePortfolioChecked:
		return "PORTFOLIO_CHECKED"
	case StateDecided:
		return "DECIDED"
	default:
		return "UNKNOWN"
	}
}

// 决策原因常量。组合侧的原因见 portfolio 包。
const (
	ReasonPositionTooSmall = "Position size too small"
	ReasonTargetRequired   = "Target price is required"
	ReasonOrderFailed      = "Order placement failed"
	ReasonNoPosition       = "No open position for symbol"
	ReasonInternal         = "Internal error"
)

// TradeDetails 批准决策附带的执行参数。
type TradeDetails struct {
	PositionSize     int     `json:"position_size"`
	InvestmentAmount float64 `json:"investment_amount"`
	RiskAmount       float64 `json:"risk_amount"`
	RiskPercent      float64 `json:"risk_percent"`
	RiskRewardRatio  float64 `json:"risk_reward_ratio"`
}

// TradeDecision 流水线输出。
// Success=false 仅表示协作方失败或内部不变量破坏，业务拒绝仍是 Success=true。
type TradeDecision struct {
	Approved bool
	Reason   string
	Success  bool
	Internal bool
	Details  *TradeDetails
	OrderID  string
	State    PipelineState
	Decided  time.Time
}

func rejected(reason string) TradeDecision {
	return TradeDecision{Reason: reason, Success: true, State: StateDecided, Decided: time.Now()}
}

// Config 流水线参数。
type Config struct {
	MinRiskReward float64           // 最低风险回报比
	RequireTarget bool              // true 时无目标价的开仓信号直接拒绝
	MaxRetries    int               // 下单最大重试次数
	RetryBackoff  time.Duration     // 重试退避基值，逐次翻倍
	Sectors       map[string]string // symbol→sector，信号未携带板块时的回落
}

// Validator 把风险计算与组合准入编排为单信号决策流水线。
// 同一信号在同一组合状态下永远得到同一决策。
type Validator struct {
	calc   *risk.Calculator
	store  *portfolio.Store
	exec   gateway.ExecutionClient
	logger *zap.Logger

	mu  sync.RWMutex
	cfg Config
}

// UpdateTunables 运行时更新可热更的阈值（配置热更新入口）。
func (v *Validator) UpdateTunables(minRiskReward float64, sectors map[string]string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if minRiskReward > 0 {
		v.cfg.MinRiskReward = minRiskReward
	}
	if sectors != nil {
		v.cfg.Sectors = sectors
	}
}

func (v *Validator) config() Config {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cfg
}

// New 创建 Validator。
func New(calc *risk.Calculator, store *portfolio.Store, exec gateway.ExecutionClient, cfg Config, lg *zap.Logger) *Validator {
	if lg == nil {
		lg = zap.NewNop()
	}
	if cfg.MinRiskReward <= 0 {
		cfg.MinRiskReward = 2.5
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	return &Validator{calc: calc, store: store, exec: exec, cfg: cfg, logger: lg}
}

// Validate 处理一个入站信号并产出终态决策。
// 外部调用（下单）发生在组合锁之外；慢券商不会阻塞其他信号的准入。
func (v *Validator) Validate(ctx context.Context, sig signal.TradingSignal) TradeDecision {
	state := StateReceived

	if sig.Action.IsExit() {
		return v.handleExit(ctx, sig)
	}

	// 结构校验
	if err := sig.ValidateStructure(); err != nil {
		return v.decide(sig, state, rejected(err.Error()))
	}
	state = StateStructureChecked

	// 仓位计算
	alloc, err := v.calc.ComputeAllocation(v.store.Capital(), sig.Price, sig.StopLoss, sig.Conviction)
	if err != nil {
		return v.decide(sig, state, rejected(err.Error()))
	}
	if alloc.PositionSize == 0 {
		return v.decide(sig, state, rejected(ReasonPositionTooSmall))
	}
	state = StateSized

	// 风险回报比；目标价缺省时跳过，除非配置要求必填
	rrRatio := 0.0
	if !sig.HasTarget() && v.config().RequireTarget {
		return v.decide(sig, state, rejected(ReasonTargetRequired))
	}
	if sig.HasTarget() {
		rr, err := v.calc.ValidateRiskReward(sig.Price, sig.StopLoss, sig.Target, v.config().MinRiskReward)
		if err != nil {
			return v.decide(sig, state, rejected(err.Error()))
		}
		if !rr.Valid {
			reason := fmt.Sprintf("Risk-reward ratio %.2f below minimum %.2f", rr.Ratio, rr.MinRatio)
			return v.decide(sig, state, rejected(reason))
		}
		rrRatio = rr.Ratio
	}
	state = StateRRChecked

	// 组合准入：预留仓位槽与资金，确认或回滚在下单之后
	sector := v.sectorFor(sig)
	if err := v.store.Reserve(portfolio.Request{
		Symbol:     sig.Symbol,
		Investment: alloc.TotalInvestment,
		Sector:     sector,
	}); err != nil {
		if rej, ok := portfolio.AsRejection(err); ok {
			return v.decide(sig, state, rejected(rej.Reason))
		}
		v.logger.Error("Reserve failed outside rejection taxonomy",
			zap.String("symbol", sig.Symbol), zap.Error(err))
		return v.decide(sig, state, TradeDecision{Reason: ReasonInternal, Internal: true, State: StateDecided, Decided: time.Now()})
	}
	state = StatePortfolioChecked

	// 下单；组合锁已释放
	quantity := alloc.PositionSize
	result, err := v.placeWithRetry(ctx, gateway.OrderRequest{
		Symbol:   sig.Symbol,
		Exchange: sig.Exchange,
		Action:   string(sig.Action),
		Quantity: quantity,
		Price:    sig.Price,
		StopLoss: sig.StopLoss,
		Target:   sig.Target,
		Strategy: sig.Strategy,
	})
	if err != nil {
		if rerr := v.store.Release(sig.Symbol, "order placement failed"); rerr != nil {
			v.logger.Error("Release after failed order", zap.String("symbol", sig.Symbol), zap.Error(rerr))
		}
		metrics.ExecutionFailures.Inc()
		v.logger.Warn("Order placement failed",
			zap.String("symbol", sig.Symbol),
			zap.Int("quantity", quantity),
			zap.Error(err))
		return v.decide(sig, state, TradeDecision{Reason: ReasonOrderFailed, State: StateDecided, Decided: time.Now()})
	}

	signedQty := quantity
	if sig.Action == signal.ActionSell {
		signedQty = -quantity
	}
	if err := v.store.Commit(portfolio.Position{
		Symbol:     sig.Symbol,
		Quantity:   signedQty,
		EntryPrice: sig.Price,
		StopLoss:   sig.StopLoss,
		Target:     sig.Target,
		Sector:     sector,
		EntryTime:  time.Now(),
	}); err != nil {
		// 预留丢失属于不变量破坏：订单已在券商侧成交，必须大声失败
		v.logger.Error("Commit failed after confirmed order",
			zap.String("symbol", sig.Symbol),
			zap.String("order_id", result.OrderID),
			zap.Error(err))
		return v.decide(sig, state, TradeDecision{Reason: ReasonInternal, Internal: true, State: StateDecided, Decided: time.Now()})
	}
	metrics.OrdersPlaced.Inc()

	return v.decide(sig, StateDecided, TradeDecision{
		Approved: true,
		Reason:   portfolio.ReasonAllPassed,
		Success:  true,
		OrderID:  result.OrderID,
		Details: &TradeDetails{
			PositionSize:     alloc.PositionSize,
			InvestmentAmount: alloc.TotalInvestment,
			RiskAmount:       alloc.ActualRiskAmount,
			RiskPercent:      alloc.ActualRiskPercent,
			RiskRewardRatio:  rrRatio,
		},
		State:   StateDecided,
		Decided: time.Now(),
	})
}

// handleExit 处理 CLOSE / CLOSE_ALL：平仓永远不被入场侧限额阻拦。
func (v *Validator) handleExit(ctx context.Context, sig signal.TradingSignal) TradeDecision {
	if sig.Action == signal.ActionCloseAll {
		return v.closeAll(ctx, sig)
	}

	pos, ok := v.store.GetPosition(sig.Symbol)
	if !ok {
		return v.decide(sig, StateReceived, rejected(ReasonNoPosition))
	}
	if err := v.closeOne(ctx, sig, pos); err != nil {
		metrics.ExecutionFailures.Inc()
		return v.decide(sig, StateReceived, TradeDecision{Reason: ReasonOrderFailed, State: StateDecided, Decided: time.Now()})
	}
	return v.decide(sig, StateDecided, TradeDecision{
		Approved: true,
		Reason:   "Position closed",
		Success:  true,
		State:    StateDecided,
		Decided:  time.Now(),
	})
}

func (v *Validator) closeAll(ctx context.Context, sig signal.TradingSignal) TradeDecision {
	symbols := v.store.OpenSymbols()
	closed := 0
	failed := 0
	for _, sym := range symbols {
		pos, ok := v.store.GetPosition(sym)
		if !ok {
			continue
		}
		if err := v.closeOne(ctx, sig, pos); err != nil {
			failed++
			continue
		}
		closed++
	}
	if failed > 0 {
		metrics.ExecutionFailures.Inc()
		return v.decide(sig, StateReceived, TradeDecision{
			Reason:  fmt.Sprintf("Closed %d positions, %d failed", closed, failed),
			State:   StateDecided,
			Decided: time.Now(),
		})
	}
	return v.decide(sig, StateDecided, TradeDecision{
		Approved: true,
		Reason:   fmt.Sprintf("Closed %d positions", closed),
		Success:  true,
		State:    StateDecided,
		Decided:  time.Now(),
	})
}

// closeOne 向执行端转发平仓单，确认后从组合移除。
func (v *Validator) closeOne(ctx context.Context, sig signal.TradingSignal, pos portfolio.Position) error {
	exitPrice := sig.Price
	if exitPrice <= 0 {
		exitPrice = pos.CurrentPrice
	}
	_, err := v.placeWithRetry(ctx, gateway.OrderRequest{
		Symbol:   pos.Symbol,
		Exchange: sig.Exchange,
		Action:   string(signal.ActionClose),
		Quantity: int(math.Abs(float64(pos.Quantity))),
		Price:    exitPrice,
		Strategy: sig.Strategy,
	})
	if err != nil {
		v.logger.Warn("Close order failed, position stays open",
			zap.String("symbol", pos.Symbol), zap.Error(err))
		return err
	}
	if _, err := v.store.Close(pos.Symbol, exitPrice, "signal"); err != nil {
		// 并发下可能已被平掉；订单已转发，记录后继续
		v.logger.Warn("Position vanished before close bookkeeping",
			zap.String("symbol", pos.Symbol), zap.Error(err))
	}
	metrics.OrdersPlaced.Inc()
	return nil
}

// placeWithRetry 有界重试 + 指数退避。明确拒单不重试。
func (v *Validator) placeWithRetry(ctx context.Context, req gateway.OrderRequest) (gateway.OrderResult, error) {
	var lastErr error
	cfg := v.config()
	backoff := cfg.RetryBackoff
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.ExecutionRetries.Inc()
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return gateway.OrderResult{}, ctx.Err()
			}
			backoff *= 2
		}
		result, err := v.exec.PlaceOrder(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, gateway.ErrOrderRejected) || ctx.Err() != nil {
			break
		}
	}
	return gateway.OrderResult{}, lastErr
}

func (v *Validator) sectorFor(sig signal.TradingSignal) string {
	if sig.Sector != "" {
		return sig.Sector
	}
	return v.config().Sectors[sig.Symbol]
}

// decide 统一出口：记录决策日志与指标。拒绝是正常结果，只记 Info。
func (v *Validator) decide(sig signal.TradingSignal, reached PipelineState, d TradeDecision) TradeDecision {
	metrics.RecordDecision(d.Approved, d.Reason)
	fields := []zap.Field{
		zap.String("symbol", sig.Symbol),
		zap.String("action", string(sig.Action)),
		zap.String("conviction", sig.Conviction.String()),
		zap.String("stage", reached.String()),
		zap.Bool("approved", d.Approved),
		zap.String("reason", d.Reason),
	}
	if d.OrderID != "" {
		fields = append(fields, zap.String("order_id", d.OrderID))
	}
	if d.Internal {
		v.logger.Error("Pipeline invariant violation", fields...)
	} else {
		v.logger.Info("Trade decision", fields...)
	}
	return d
}
