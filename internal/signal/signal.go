package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Action 信号动作，入站 JSON 中的 action 字段。
type Action string

const (
	ActionBuy      Action = "BUY"
	ActionSell     Action = "SELL"
	ActionClose    Action = "CLOSE"
	ActionCloseAll Action = "CLOSE_ALL"
)

// ParseAction 严格解析动作枚举，未知值直接报错而不是默认 BUY。
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToUpper(strings.TrimSpace(s))) {
	case ActionBuy:
		return ActionBuy, nil
	case ActionSell:
		return ActionSell, nil
	case ActionClose:
		return ActionClose, nil
	case ActionCloseAll:
		return ActionCloseAll, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// IsExit CLOSE/CLOSE_ALL 属于退出动作，跳过开仓侧校验。
func (a Action) IsExit() bool {
	return a == ActionClose || a == ActionCloseAll
}

// Conviction 信念等级，映射到单笔风险百分比。
type Conviction int

const (
	ConvictionBelowLow Conviction = iota
	ConvictionLow
	ConvictionMedium
	ConvictionHigh
	ConvictionAboveHigh
	ConvictionHighest
)

// String 返回等级名称。
func (c Conviction) String() string {
	switch c {
	case ConvictionBelowLow:
		return "BELOW_LOW"
	case ConvictionLow:
		return "LOW"
	case ConvictionMedium:
		return "MEDIUM"
	case ConvictionHigh:
		return "HIGH"
	case ConvictionAboveHigh:
		return "ABOVE_HIGH"
	case ConvictionHighest:
		return "HIGHEST"
	default:
		return "UNKNOWN"
	}
}

// ParseConviction 解析信念等级；空串按 MEDIUM 处理，未知值报错。
func ParseConviction(s string) (Conviction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return ConvictionMedium, nil
	case "BELOW_LOW":
		return ConvictionBelowLow, nil
	case "LOW":
		return ConvictionLow, nil
	case "MEDIUM":
		return ConvictionMedium, nil
	case "HIGH":
		return ConvictionHigh, nil
	case "ABOVE_HIGH":
		return ConvictionAboveHigh, nil
	case "HIGHEST":
		return ConvictionHighest, nil
	default:
		return ConvictionMedium, fmt.Errorf("unknown conviction %q", s)
	}
}

// TradingSignal 一条入站交易提案。StopLoss/Target 为 0 表示未提供。
type TradingSignal struct {
	Symbol     string
	Exchange   string
	Action     Action
	Price      float64
	StopLoss   float64
	Target     float64
	Conviction Conviction
	Sector     string
	Timeframe  string
	Strategy   string
	Timestamp  time.Time
}

// payload 入站 webhook 的 JSON 结构。
type payload struct {
	Symbol     string   `json:"symbol"`
	Exchange   string   `json:"exchange"`
	Action     string   `json:"action"`
	Price      float64  `json:"price"`
	StopLoss   *float64 `json:"stop_loss"`
	Target     *float64 `json:"target"`
	Conviction string   `json:"conviction"`
	Sector     string   `json:"sector"`
	Timeframe  string   `json:"timeframe"`
	Strategy   string   `json:"strategy"`
	Timestamp  string   `json:"timestamp"`
	APIKey     string   `json:"api_key"`
}

var (
	ErrMissingSymbol = errors.New("symbol is required")
	ErrBadPrice      = errors.New("price must be positive")
	ErrBadStopLoss   = errors.New("stop_loss must be positive")
	ErrBadTarget     = errors.New("target must be positive")
	// ErrInvalidLevels 方向不变量被破坏：BUY 要求 stop < price < target，SELL 相反。
	ErrInvalidLevels = errors.New("invalid price levels for action")
	// ErrMissingStop 开仓动作必须带止损。
	ErrMissingStop = errors.New("stop_loss is required for entries")
)

// Parse 解析并规范化 webhook 载荷，返回信号与载荷中的 api_key。
// 解析失败属于输入错误（HTTP 4xx），不会进入决策管线。
func Parse(raw []byte, now time.Time) (TradingSignal, string, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return TradingSignal{}, "", fmt.Errorf("decode payload: %w", err)
	}

	sig := TradingSignal{
		Symbol:    strings.ToUpper(strings.TrimSpace(p.Symbol)),
		Exchange:  strings.ToUpper(strings.TrimSpace(p.Exchange)),
		Price:     p.Price,
		Sector:    strings.TrimSpace(p.Sector),
		Timeframe: p.Timeframe,
		Strategy:  p.Strategy,
	}
	if sig.Symbol == "" {
		return TradingSignal{}, p.APIKey, ErrMissingSymbol
	}

	action, err := ParseAction(p.Action)
	if err != nil {
		return TradingSignal{}, p.APIKey, err
	}
	sig.Action = action

	conviction, err := ParseConviction(p.Conviction)
	if err != nil {
		return TradingSignal{}, p.APIKey, err
	}
	sig.Conviction = conviction

	if p.StopLoss != nil {
		if *p.StopLoss <= 0 {
			return TradingSignal{}, p.APIKey, ErrBadStopLoss
		}
		sig.StopLoss = *p.StopLoss
	}
	if p.Target != nil {
		if *p.Target <= 0 {
			return TradingSignal{}, p.APIKey, ErrBadTarget
		}
		sig.Target = *p.Target
	}

	// timestamp 缺省取接收时刻
	sig.Timestamp = now
	if p.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, strings.Replace(p.Timestamp, "Z", "+00:00", 1)); err == nil {
			sig.Timestamp = ts
		} else if ts, err := time.Parse("2006-01-02T15:04:05", p.Timestamp); err == nil {
			sig.Timestamp = ts
		}
	}

	// 结构校验失败时仍返回已解析的信号：
	// 价位一致性违例要进入决策管线终结为拒绝，而不是输入错误
	if err := sig.ValidateStructure(); err != nil {
		return sig, p.APIKey, err
	}
	return sig, p.APIKey, nil
}

// ValidateStructure 校验结构不变量。违例只拒绝，绝不静默修正。
func (s TradingSignal) ValidateStructure() error {
	if s.Price <= 0 {
		return ErrBadPrice
	}
	if s.Action.IsExit() {
		return nil
	}
	if s.StopLoss <= 0 {
		return ErrMissingStop
	}
	switch s.Action {
	case ActionBuy:
		if s.StopLoss >= s.Price {
			return fmt.Errorf("%w: for BUY stop_loss %.2f must be below entry %.2f", ErrInvalidLevels, s.StopLoss, s.Price)
		}
		if s.Target > 0 && s.Target <= s.Price {
			return fmt.Errorf("%w: for BUY target %.2f must be above entry %.2f", ErrInvalidLevels, s.Target, s.Price)
		}
	case ActionSell:
		if s.StopLoss <= s.Price {
			return fmt.Errorf("%w: for SELL stop_loss %.2f must be above entry %.2f", ErrInvalidLevels, s.StopLoss, s.Price)
		}
		if s.Target > 0 && s.Target >= s.Price {
			return fmt.Errorf("%w: for SELL target %.2f must be below entry %.2f", ErrInvalidLevels, s.Target, s.Price)
		}
	}
	return nil
}

// HasTarget target 为可选字段。
func (s TradingSignal) HasTarget() bool { return s.Target > 0 }
