package strategy

import (
	"fmt"
	"strings"

	"conflux-trader/internal/model"
)

// Kind 是策略的封闭标签集合
type Kind int

const (
	KindMomentum Kind = iota
	KindMeanReversion
	KindBreakout
	KindTrendFollowing
	KindRSI
	KindVolume
)

var kindNames = [...]string{
	KindMomentum:       "momentum",
	KindMeanReversion:  "mean_reversion",
	KindBreakout:       "breakout",
	KindTrendFollowing: "trend_following",
	KindRSI:            "rsi",
	KindVolume:         "volume",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind 解析配置或命令行里的策略名
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range kindNames {
		if name == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown strategy kind %q", s)
}

// Kinds 按固定顺序返回全部策略标签
func Kinds() []Kind {
	out := make([]Kind, len(kindNames))
	for i := range kindNames {
		out[i] = Kind(i)
	}
	return out
}

// Book 是策略可见的账户视图，卖出数量以它为准
type Book interface {
	Balance() float64
	Position() float64
}

// Strategy 是规则策略的统一接口
// ShouldTrade 只读 frame 和 book，不修改任何状态
type Strategy interface {
	Kind() Kind
	Name() string
	// WarmUp 之前的索引总是返回 (hold, 0)
	WarmUp() int
	ShouldTrade(frame *model.Frame, idx int, book Book) (model.Signal, error)
}

// New 是唯一的构造入口
func New(kind Kind) (Strategy, error) {
	switch kind {
	case KindMomentum:
		return &Momentum{Window: 5, BuyThreshold: 0.02, SellThreshold: -0.01}, nil
	case KindMeanReversion:
		return &MeanReversion{}, nil
	case KindBreakout:
		return &Breakout{}, nil
	case KindTrendFollowing:
		return &TrendFollowing{}, nil
	case KindRSI:
		return &RSI{Oversold: 30, Overbought: 70}, nil
	case KindVolume:
		return &Volume{Multiplier: 1.5}, nil
	default:
		return nil, fmt.Errorf("unknown strategy kind %d", int(kind))
	}
}

// All 按 Kinds 顺序构造全部策略
func All() []Strategy {
	out := make([]Strategy, 0, len(kindNames))
	for _, k := range Kinds() {
		s, _ := New(k)
		out = append(out, s)
	}
	return out
}

// buySignal 用 10% 余额按当前价格计算买入数量，余额为零时不交易
func buySignal(book Book, price float64, reason string) model.Signal {
	balance := book.Balance()
	if balance <= 0 || price <= 0 {
		return model.HoldSignal
	}
	return model.Signal{Action: model.ActionBuy, Size: balance * 0.1 / price, Reason: reason}
}

// sellSignal 卖出一半持仓；空仓时数量为 0，由账户拒绝
func sellSignal(book Book, reason string) model.Signal {
	size := 0.0
	if pos := book.Position(); pos > 0 {
		size = pos * 0.5
	}
	return model.Signal{Action: model.ActionSell, Size: size, Reason: reason}
}

// columnsAt 一次取出若干列在 idx 处的值
func columnsAt(frame *model.Frame, idx int, names ...string) ([]float64, error) {
	out := make([]float64, len(names))
	for i, name := range names {
		col, err := frame.Column(name)
		if err != nil {
			return nil, err
		}
		out[i] = col[idx]
	}
	return out, nil
}

func checkIndex(frame *model.Frame, idx int) error {
	if idx < 0 || idx >= frame.Len() {
		return fmt.Errorf("index %d out of range [0, %d)", idx, frame.Len())
	}
	return nil
}
