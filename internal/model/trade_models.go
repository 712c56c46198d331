package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrMissingColumn = errors.New("missing column")

// Action 定义了信号类型: -1 卖出, 0 观望, +1 买入
type Action int

const (
	ActionSell Action = -1
	ActionHold Action = 0
	ActionBuy  Action = 1
)

func (a Action) String() string {
	switch a {
	case ActionBuy:
		return "buy"
	case ActionSell:
		return "sell"
	default:
		return "hold"
	}
}

// ParseAction 严格解析 "buy" / "sell" / "hold" (忽略大小写和首尾空白)
func ParseAction(s string) (Action, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return ActionBuy, true
	case "sell":
		return ActionSell, true
	case "hold":
		return ActionHold, true
	}
	return ActionHold, false
}

// Signal 是策略层向账本发出的请求，不保证一定成交
type Signal struct {
	Action Action
	Size   float64 // 请求数量 (币本位)
	Reason string
}

var HoldSignal = Signal{Action: ActionHold}

func (s Signal) String() string {
	return fmt.Sprintf("SIGNAL [%s] Size: %.6f | %s", s.Action, s.Size, s.Reason)
}

// TradeRecord 回测中每个非 hold 信号对应一条记录 (包括被账本拒绝的)
type TradeRecord struct {
	Step           int
	Timestamp      time.Time
	Action         Action
	Price          float64
	Size           float64
	Filled         bool
	Balance        float64
	Position       float64
	PortfolioValue float64
}

// DecisionSource 标记决策来自预言机还是阈值回退
type DecisionSource string

const (
	SourceOracle   DecisionSource = "oracle"
	SourceFallback DecisionSource = "fallback"
)

// TradeLogEntry 实盘模拟每一步的记录
type TradeLogEntry struct {
	Step           int
	Action         Action
	Price          float64
	PredictedProb  float64
	Balance        float64
	Position       float64
	PortfolioValue float64
	Source         DecisionSource
}
