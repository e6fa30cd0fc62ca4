package portfolio

import (
	"errors"
	"math"
	"time"

	"signal-gate-go/metrics"
)

// EventSink 结构化事件回调，由上层接入日志。
// 回调在组合锁外执行，慢消费方不会拖长临界区。
type EventSink func(event string, fields map[string]interface{})

// storeEvent 临界区内收集、解锁后投递的事件。
type storeEvent struct {
	name   string
	fields map[string]interface{}
}

// Position 一笔已确认的持仓。仅由 Store 持有与变更。
type Position struct {
	Symbol       string
	Quantity     int // 正=多头，负=空头
	EntryPrice   float64
	CurrentPrice float64
	StopLoss     float64
	Target       float64
	Sector       string
	EntryTime    time.Time
}

// Investment 按入场价计算的投入金额。
func (p Position) Investment() float64 {
	return math.Abs(float64(p.Quantity)) * p.EntryPrice
}

// UnrealizedPnL 浮动盈亏。
func (p Position) UnrealizedPnL() float64 {
	return (p.CurrentPrice - p.EntryPrice) * float64(p.Quantity)
}

// TradeRecord 当日成交流水，用于 /status 审计展示。
type TradeRecord struct {
	Symbol   string
	Action   string
	Quantity int
	Price    float64
	Time     time.Time
	PnL      float64
	Closed   bool
}

// reservation 已通过准入但尚未被执行网关确认的占位。
// 占位计入持仓数/资金/板块敞口，防止并发双重准入。
type reservation struct {
	investment float64
	sector     string
	reservedAt time.Time
}

// Store 交易时段内的组合状态：持仓、日计数器、板块敞口。
// 唯一写入者；check-then-open 在同一临界区内完成。
type Store struct {
	capital     float64
	limits      Limits
	chain       RuleChain
	lockTimeout time.Duration

	// lockc 容量为1的通道锁，准入路径上支持限时获取。
	lockc chan struct{}

	positions      map[string]*Position
	reserved       map[string]reservation
	tradesToday    int
	dailyRealized  float64 // 当日已实现盈亏（净值）
	realizedLoss   float64 // 当日已实现亏损绝对额
	sectorExposure map[string]float64
	records        []TradeRecord

	sink EventSink
}

const defaultLockTimeout = 500 * time.Millisecond

// New 创建组合状态。capital 在时段开始时固定。
func New(capital float64, limits Limits, lockTimeout time.Duration, sink EventSink) *Store {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &Store{
		capital:        capital,
		limits:         limits,
		chain:          BuildChain(limits),
		lockTimeout:    lockTimeout,
		lockc:          make(chan struct{}, 1),
		positions:      make(map[string]*Position),
		reserved:       make(map[string]reservation),
		sectorExposure: make(map[string]float64),
		sink:           sink,
	}
}

// lock 阻塞获取组合锁。
func (s *Store) lock() { s.lockc <- struct{}{} }

// tryLock 限时获取组合锁，超时返回 ErrBusy（可重试拒绝）。
func (s *Store) tryLock() error {
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()
	select {
	case s.lockc <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrBusy
	}
}

func (s *Store) unlock() { <-s.lockc }

// Capital 时段资金。
func (s *Store) Capital() float64 { return s.capital }

// Limits 返回配置的限额。
func (s *Store) Limits() Limits {
	s.lock()
	defer s.unlock()
	return s.limits
}

// UpdateLimits 运行时替换限额（配置热更新入口）。
// 只影响后续准入，已有持仓不回溯校验。
func (s *Store) UpdateLimits(l Limits) {
	var events []storeEvent
	defer s.emit(&events)
	s.lock()
	defer s.unlock()
	s.limits = l
	s.chain = BuildChain(l)
	events = append(events, storeEvent{"limits_updated", map[string]interface{}{
		"max_positions":      l.MaxPositions,
		"max_trades_per_day": l.MaxTradesPerDay,
		"max_daily_loss_pct": l.MaxDailyLossPercent,
	}})
}

// CanOpen 只读准入检查，不改变任何状态。
// 并发准入的真正防线在 Reserve；CanOpen 用于监控与预检。
func (s *Store) CanOpen(symbol string, investment float64, sector string) (bool, string) {
	if err := s.tryLock(); err != nil {
		return false, ReasonBusy
	}
	defer s.unlock()
	if err := s.admitLocked(Request{Symbol: symbol, Investment: investment, Sector: sector}); err != nil {
		if r, ok := AsRejection(err); ok {
			return false, r.Reason
		}
		return false, err.Error()
	}
	return true, ReasonAllPassed
}

// Reserve 原子的 check-then-hold：通过全部规则后登记占位并计入 trades_today。
// 占位随后由 Commit 转为持仓或由 Release 撤销。
func (s *Store) Reserve(req Request) error {
	var events []storeEvent
	defer s.emit(&events)
	if err := s.tryLock(); err != nil {
		return err
	}
	defer s.unlock()

	if err := s.admitLocked(req); err != nil {
		if errors.Is(err, ErrDailyLoss) {
			events = append(events, storeEvent{"daily_loss_limit", map[string]interface{}{
				"symbol":         req.Symbol,
				"daily_loss_pct": s.dailyLossLocked() / s.capital,
				"limit_pct":      s.limits.MaxDailyLossPercent,
			}})
		}
		return err
	}
	s.reserved[req.Symbol] = reservation{
		investment: req.Investment,
		sector:     req.Sector,
		reservedAt: time.Now(),
	}
	if req.Sector != "" {
		s.sectorExposure[req.Sector] += req.Investment
	}
	s.tradesToday++
	s.publishMetricsLocked()
	events = append(events, storeEvent{"position_reserved", map[string]interface{}{
		"symbol":       req.Symbol,
		"investment":   req.Investment,
		"sector":       req.Sector,
		"trades_today": s.tradesToday,
	}})
	return nil
}

// admitLocked 在持锁状态下执行重复持仓检查与规则链。
func (s *Store) admitLocked(req Request) error {
	if _, open := s.positions[req.Symbol]; open {
		return ErrDuplicateSymbol
	}
	if _, held := s.reserved[req.Symbol]; held {
		return ErrDuplicateSymbol
	}
	return s.chain.Check(lockedView{s}, req)
}

// Commit 执行网关确认后，把占位转为正式持仓。
// 找不到占位属于内部不变量破坏，返回 ErrNoReservation。
func (s *Store) Commit(pos Position) error {
	var events []storeEvent
	defer s.emit(&events)
	s.lock()
	defer s.unlock()

	res, ok := s.reserved[pos.Symbol]
	if !ok {
		return ErrNoReservation
	}
	if _, open := s.positions[pos.Symbol]; open {
		return ErrDuplicateSymbol
	}
	delete(s.reserved, pos.Symbol)

	// 板块敞口改按真实投入计（占位用的是预估值）
	if res.sector != "" {
		s.sectorExposure[res.sector] += pos.Investment() - res.investment
	}
	if pos.CurrentPrice == 0 {
		pos.CurrentPrice = pos.EntryPrice
	}
	p := pos
	s.positions[pos.Symbol] = &p

	action := "BUY"
	if pos.Quantity < 0 {
		action = "SELL"
	}
	s.records = append(s.records, TradeRecord{
		Symbol:   pos.Symbol,
		Action:   action,
		Quantity: int(math.Abs(float64(pos.Quantity))),
		Price:    pos.EntryPrice,
		Time:     pos.EntryTime,
	})
	s.publishMetricsLocked()
	events = append(events, storeEvent{"position_opened", map[string]interface{}{
		"symbol":      pos.Symbol,
		"quantity":    pos.Quantity,
		"entry_price": pos.EntryPrice,
		"sector":      pos.Sector,
		"positions":   len(s.positions),
	}})
	return nil
}

// Release 执行失败时撤销占位并回退 trades_today。
func (s *Store) Release(symbol, reason string) error {
	var events []storeEvent
	defer s.emit(&events)
	s.lock()
	defer s.unlock()

	res, ok := s.reserved[symbol]
	if !ok {
		return ErrNoReservation
	}
	delete(s.reserved, symbol)
	if res.sector != "" {
		s.sectorExposure[res.sector] -= res.investment
		if s.sectorExposure[res.sector] < 0 {
			s.sectorExposure[res.sector] = 0
		}
	}
	if s.tradesToday > 0 {
		s.tradesToday--
	}
	s.publishMetricsLocked()
	events = append(events, storeEvent{"reservation_released", map[string]interface{}{
		"symbol": symbol,
		"reason": reason,
	}})
	return nil
}

// UpdatePrice 外部行情推送；symbol 不存在时为 no-op。
func (s *Store) UpdatePrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	s.lock()
	defer s.unlock()
	pos, ok := s.positions[symbol]
	if !ok {
		return
	}
	pos.CurrentPrice = price
	metrics.PriceUpdates.Inc()
	s.publishMetricsLocked()
}

// Close 平仓：移除仓位，折算当日盈亏，释放板块敞口。
func (s *Store) Close(symbol string, exitPrice float64, reason string) (float64, error) {
	var events []storeEvent
	defer s.emit(&events)
	s.lock()
	defer s.unlock()

	pos, ok := s.positions[symbol]
	if !ok {
		return 0, ErrNoSuchPosition
	}
	pnl := (exitPrice - pos.EntryPrice) * float64(pos.Quantity)
	s.dailyRealized += pnl
	if pnl < 0 {
		s.realizedLoss += -pnl
	}
	if pos.Sector != "" {
		s.sectorExposure[pos.Sector] -= pos.Investment()
		if s.sectorExposure[pos.Sector] < 0 {
			s.sectorExposure[pos.Sector] = 0
		}
	}
	delete(s.positions, symbol)

	// 回填当日流水中的盈亏
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].Symbol == symbol && !s.records[i].Closed {
			s.records[i].PnL = pnl
			s.records[i].Closed = true
			break
		}
	}
	s.publishMetricsLocked()
	events = append(events, storeEvent{"position_closed", map[string]interface{}{
		"symbol":     symbol,
		"exit_price": exitPrice,
		"pnl":        pnl,
		"reason":     reason,
		"positions":  len(s.positions),
	}})
	return pnl, nil
}

// ResetDaily 交易日边界重置。由时段调度器作为显式事件触发，走同一把锁。
func (s *Store) ResetDaily() {
	var events []storeEvent
	defer s.emit(&events)
	s.lock()
	defer s.unlock()
	events = append(events, storeEvent{"daily_reset", map[string]interface{}{
		"trades_today":   s.tradesToday,
		"daily_realized": s.dailyRealized,
	}})
	s.tradesToday = 0
	s.dailyRealized = 0
	s.realizedLoss = 0
	s.records = nil
	metrics.DailyResets.Inc()
	s.publishMetricsLocked()
}

// HasPosition 是否存在指定持仓。
func (s *Store) HasPosition(symbol string) bool {
	s.lock()
	defer s.unlock()
	_, ok := s.positions[symbol]
	return ok
}

// OpenSymbols 当前持仓符号列表（不含占位）。
func (s *Store) OpenSymbols() []string {
	s.lock()
	defer s.unlock()
	out := make([]string, 0, len(s.positions))
	for sym := range s.positions {
		out = append(out, sym)
	}
	return out
}

// GetPosition 返回持仓副本。
func (s *Store) GetPosition(symbol string) (Position, bool) {
	s.lock()
	defer s.unlock()
	pos, ok := s.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Summary 组合快照，供 /status 与监控只读消费。
type Summary struct {
	Capital               float64       `json:"capital"`
	UsedCapital           float64       `json:"used_capital"`
	AvailableCapital      float64       `json:"available_capital"`
	CapitalUtilization    float64       `json:"capital_utilization_percent"`
	ActivePositions       int           `json:"active_positions"`
	MaxPositions          int           `json:"max_positions"`
	TradesToday           int           `json:"trades_today"`
	MaxTradesPerDay       int           `json:"max_trades_per_day"`
	UnrealizedPnL         float64       `json:"unrealized_pnl"`
	DailyRealizedPnL      float64       `json:"daily_realized_pnl"`
	DailyLossPercent      float64       `json:"daily_loss_percent"`
	DailyLossLimitPercent float64       `json:"daily_loss_limit_percent"`
	RiskRemainingPercent  float64       `json:"risk_remaining_percent"`
	CanTradeMore          bool          `json:"can_trade_more"`
	TodaysTrades          []TradeRecord `json:"todays_trades,omitempty"`
}

// Snapshot 导出当前状态快照。
func (s *Store) Snapshot() Summary {
	s.lock()
	defer s.unlock()

	used := s.usedCapitalLocked()
	unrealized := 0.0
	for _, pos := range s.positions {
		unrealized += pos.UnrealizedPnL()
	}
	lossPct := s.dailyLossLocked() / s.capital * 100
	limitPct := s.limits.MaxDailyLossPercent * 100
	remaining := limitPct - lossPct
	if remaining < 0 {
		remaining = 0
	}
	records := make([]TradeRecord, len(s.records))
	copy(records, s.records)

	return Summary{
		Capital:               s.capital,
		UsedCapital:           used,
		AvailableCapital:      s.capital - used,
		CapitalUtilization:    used / s.capital * 100,
		ActivePositions:       len(s.positions),
		MaxPositions:          s.limits.MaxPositions,
		TradesToday:           s.tradesToday,
		MaxTradesPerDay:       s.limits.MaxTradesPerDay,
		UnrealizedPnL:         unrealized,
		DailyRealizedPnL:      s.dailyRealized,
		DailyLossPercent:      lossPct,
		DailyLossLimitPercent: limitPct,
		RiskRemainingPercent:  remaining,
		CanTradeMore:          s.tradesToday < s.limits.MaxTradesPerDay && lossPct < limitPct,
		TodaysTrades:          records,
	}
}

// usedCapitalLocked 持仓加占位的已投入资金。
func (s *Store) usedCapitalLocked() float64 {
	used := 0.0
	for _, pos := range s.positions {
		used += pos.Investment()
	}
	for _, res := range s.reserved {
		used += res.investment
	}
	return used
}

// dailyLossLocked 当日亏损 = 已实现亏损 + 当前浮亏。
func (s *Store) dailyLossLocked() float64 {
	loss := s.realizedLoss
	for _, pos := range s.positions {
		if pnl := pos.UnrealizedPnL(); pnl < 0 {
			loss += -pnl
		}
	}
	return loss
}

// lockedView 在持锁前提下给规则链提供只读视图。
type lockedView struct{ s *Store }

func (v lockedView) Capital() float64 { return v.s.capital }

func (v lockedView) PositionCount() int { return len(v.s.positions) + len(v.s.reserved) }

func (v lockedView) DailyLossPercent() float64 {
	return v.s.dailyLossLocked() / v.s.capital
}

func (v lockedView) TradesToday() int { return v.s.tradesToday }

func (v lockedView) AvailableCapital() float64 {
	return v.s.capital - v.s.usedCapitalLocked()
}

func (v lockedView) SectorExposure(sector string) float64 {
	return v.s.sectorExposure[sector]
}

func (v lockedView) OpenSymbols() []string {
	out := make([]string, 0, len(v.s.positions)+len(v.s.reserved))
	for sym := range v.s.positions {
		out = append(out, sym)
	}
	for sym := range v.s.reserved {
		out = append(out, sym)
	}
	return out
}

func (s *Store) publishMetricsLocked() {
	metrics.UpdatePortfolioMetrics(
		len(s.positions)+len(s.reserved),
		s.tradesToday,
		s.dailyLossLocked()/s.capital,
		s.capital-s.usedCapitalLocked(),
	)
	for sector, value := range s.sectorExposure {
		metrics.SectorExposure.WithLabelValues(sector).Set(value)
	}
}

// emit 投递收集到的事件。通过 defer 注册在加锁之前，因此总在解锁之后运行。
func (s *Store) emit(events *[]storeEvent) {
	if s.sink == nil {
		return
	}
	for _, e := range *events {
		s.sink(e.name, e.fields)
	}
}
