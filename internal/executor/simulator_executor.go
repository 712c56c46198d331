package executor

import (
	"errors"
	"fmt"

	"conflux-trader/internal/model"

	"go.uber.org/zap"
)

var (
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientPosition = errors.New("insufficient position")
	ErrInvalidSize          = errors.New("trade size must be positive")
	ErrInvalidPrice         = errors.New("trade price must be positive")
)

// Ledger 是单一所有者的模拟账户 (现金 + 持仓)，无手续费、不允许做空
// 不加锁：每个回测和每次实盘模拟都持有自己的 Ledger
type Ledger struct {
	initial  float64
	balance  float64
	position float64
	logger   *zap.Logger
}

var _ Executor = (*Ledger)(nil)

// NewLedger 构造函数
func NewLedger(initial float64, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		initial: initial,
		balance: initial,
		logger:  logger,
	}
}

// Buy 成本超过余额或数量非正时拒绝，账户不变
func (l *Ledger) Buy(price, size float64) error {
	if size <= 0 {
		return ErrInvalidSize
	}
	if price <= 0 {
		return ErrInvalidPrice
	}
	cost := price * size
	if cost > l.balance {
		return fmt.Errorf("%w: need %.4f, have %.4f", ErrInsufficientBalance, cost, l.balance)
	}

	l.balance -= cost
	l.position += size

	l.logger.Debug("Ledger BUY filled",
		zap.Float64("price", price),
		zap.Float64("size", size),
		zap.Float64("balance", l.balance),
		zap.Float64("position", l.position))
	return nil
}

// Sell 数量超过持仓或非正时拒绝，账户不变
func (l *Ledger) Sell(price, size float64) error {
	if size <= 0 {
		return ErrInvalidSize
	}
	if price <= 0 {
		return ErrInvalidPrice
	}
	if size > l.position {
		return fmt.Errorf("%w: want %.8f, hold %.8f", ErrInsufficientPosition, size, l.position)
	}

	l.balance += price * size
	l.position -= size

	l.logger.Debug("Ledger SELL filled",
		zap.Float64("price", price),
		zap.Float64("size", size),
		zap.Float64("balance", l.balance),
		zap.Float64("position", l.position))
	return nil
}

// Execute 把动作分派到 Buy / Sell；Hold 不动账户且视为未成交
func (l *Ledger) Execute(action model.Action, price, size float64) (bool, error) {
	var err error
	switch action {
	case model.ActionBuy:
		err = l.Buy(price, size)
	case model.ActionSell:
		err = l.Sell(price, size)
	case model.ActionHold:
		return false, nil
	default:
		return false, fmt.Errorf("unknown action %d", action)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *Ledger) Balance() float64 {
	return l.balance
}

func (l *Ledger) Position() float64 {
	return l.position
}

func (l *Ledger) InitialBalance() float64 {
	return l.initial
}

// PortfolioValue 总是现算，不缓存
func (l *Ledger) PortfolioValue(price float64) float64 {
	return l.balance + l.position*price
}

// ReturnPct 以百分比表示的收益率
func (l *Ledger) ReturnPct(price float64) float64 {
	if l.initial == 0 {
		return 0
	}
	return (l.PortfolioValue(price) - l.initial) / l.initial * 100
}
