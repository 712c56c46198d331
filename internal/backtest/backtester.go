package backtest

import (
	"fmt"
	"strconv"

	"conflux-trader/internal/executor"
	"conflux-trader/internal/metrics"
	"conflux-trader/internal/model"
	"conflux-trader/internal/strategy"

	"go.uber.org/zap"
)

// Result 是单个策略回测的完整输出
type Result struct {
	Strategy        strategy.Kind
	Trades          []model.TradeRecord // 所有非 hold 信号，包括被拒绝的
	PortfolioValues []float64           // 每个索引一个值
	InitialBalance  float64
	FinalValue      float64
	ReturnPct       float64
	MaxDrawdownPct  float64
	Filled          int
	Rejected        int
}

// SignalSteps 返回产生非 hold 信号的索引，按时间顺序
func (r *Result) SignalSteps() []int {
	steps := make([]int, len(r.Trades))
	for i, t := range r.Trades {
		steps[i] = t.Step
	}
	return steps
}

// Backtester 按时间顺序回放 frame，每次 Run 使用独立的 Ledger
type Backtester struct {
	initialBalance float64
	logger         *zap.Logger
}

func NewBacktester(initialBalance float64, logger *zap.Logger) *Backtester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backtester{initialBalance: initialBalance, logger: logger}
}

// Run 1. 逐个索引询问策略  2. 非 hold 信号提交到账户并记录  3. 记录每个索引的净值
func (b *Backtester) Run(s strategy.Strategy, frame *model.Frame) (*Result, error) {
	log := b.logger.With(zap.String("strategy", s.Name()))
	var ledger executor.Executor = executor.NewLedger(b.initialBalance, log)

	res := &Result{
		Strategy:        s.Kind(),
		PortfolioValues: make([]float64, 0, frame.Len()),
		InitialBalance:  b.initialBalance,
	}

	peak := b.initialBalance
	for idx := 0; idx < frame.Len(); idx++ {
		sig, err := s.ShouldTrade(frame, idx, ledger)
		if err != nil {
			return nil, fmt.Errorf("%s at index %d: %w", s.Name(), idx, err)
		}

		price := frame.Price(idx)
		if sig.Action != model.ActionHold {
			filled, execErr := ledger.Execute(sig.Action, price, sig.Size)
			if filled {
				res.Filled++
			} else {
				res.Rejected++
				log.Debug("Trade rejected", zap.Int("step", idx), zap.Stringer("action", sig.Action), zap.Error(execErr))
			}
			metrics.BacktestTrades.WithLabelValues(s.Name(), strconv.FormatBool(filled)).Inc()

			res.Trades = append(res.Trades, model.TradeRecord{
				Step:           idx,
				Timestamp:      frame.Bars[idx].Timestamp,
				Action:         sig.Action,
				Price:          price,
				Size:           sig.Size,
				Filled:         filled,
				Balance:        ledger.Balance(),
				Position:       ledger.Position(),
				PortfolioValue: ledger.PortfolioValue(price),
			})
		}

		value := ledger.PortfolioValue(price)
		res.PortfolioValues = append(res.PortfolioValues, value)
		if value > peak {
			peak = value
		}
		if peak > 0 {
			if dd := (peak - value) / peak * 100; dd > res.MaxDrawdownPct {
				res.MaxDrawdownPct = dd
			}
		}
	}

	if n := frame.Len(); n > 0 {
		res.FinalValue = res.PortfolioValues[n-1]
	} else {
		res.FinalValue = b.initialBalance
	}
	res.ReturnPct = (res.FinalValue - b.initialBalance) / b.initialBalance * 100

	log.Info("Backtest finished",
		zap.Int("steps", frame.Len()),
		zap.Int("filled", res.Filled),
		zap.Int("rejected", res.Rejected),
		zap.Float64("final_value", res.FinalValue),
		zap.Float64("return_pct", res.ReturnPct),
		zap.Float64("max_drawdown_pct", res.MaxDrawdownPct))
	return res, nil
}
