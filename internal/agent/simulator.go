package agent

import (
	"context"
	"errors"
	"fmt"
	"math"

	"conflux-trader/internal/executor"
	"conflux-trader/internal/metrics"
	"conflux-trader/internal/model"

	"go.uber.org/zap"
)

var (
	ErrLengthMismatch  = errors.New("window count does not match row count")
	ErrMissingFeatures = errors.New("rows are missing feature columns")
	ErrFeatureCount    = errors.New("window feature count mismatch")
	ErrEmptyInput      = errors.New("no windows to simulate")
)

// Predictor 给出窗口之后价格上涨的概率
type Predictor interface {
	Predict(window [][]float64) (float64, error)
}

// Validate 在模拟开始前检查输入；任何不一致都是致命错误
// rows 的第 i 行是第 i 个窗口对应的交易行
func Validate(windows [][][]float64, rows *model.Frame, features []string) error {
	if len(windows) != rows.Len() {
		return fmt.Errorf("%w: %d windows, %d rows", ErrLengthMismatch, len(windows), rows.Len())
	}
	if len(windows) == 0 {
		return ErrEmptyInput
	}

	var missing []string
	for _, name := range features {
		if _, err := rows.Column(name); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingFeatures, missing)
	}

	for i, w := range windows {
		for r, row := range w {
			if len(row) != len(features) {
				return fmt.Errorf("%w: window %d row %d has %d features, want %d",
					ErrFeatureCount, i, r, len(row), len(features))
			}
		}
	}
	return nil
}

// SimConfig 实盘模拟参数
type SimConfig struct {
	InitialBalance float64
	UnitSize       float64
	ProgressEvery  int // 每隔多少步打印一次进度，0 表示 10
}

// PredictionStats 是本次模拟中模型概率的分布
type PredictionStats struct {
	Count   int     `json:"count"`
	Mean    float64 `json:"mean"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Std     float64 `json:"std"`
	Above55 int     `json:"above_055"`
	Below45 int     `json:"below_045"`
}

func predictionStats(probs []float64) PredictionStats {
	st := PredictionStats{Count: len(probs)}
	if len(probs) == 0 {
		return st
	}
	st.Min, st.Max = math.Inf(1), math.Inf(-1)
	var sum float64
	for _, p := range probs {
		sum += p
		st.Min = math.Min(st.Min, p)
		st.Max = math.Max(st.Max, p)
		if p > 0.55 {
			st.Above55++
		}
		if p < 0.45 {
			st.Below45++
		}
	}
	st.Mean = sum / float64(len(probs))
	var ss float64
	for _, p := range probs {
		ss += (p - st.Mean) * (p - st.Mean)
	}
	st.Std = math.Sqrt(ss / float64(len(probs)))
	return st
}

// Summary 模拟结束时的账户和统计，ROI 只由账户状态计算
type Summary struct {
	Steps          int             `json:"steps"`
	InitialBalance float64         `json:"initial_balance"`
	FinalBalance   float64         `json:"final_balance"`
	FinalPosition  float64         `json:"final_position"`
	FinalPrice     float64         `json:"final_price"`
	FinalPortfolio float64         `json:"final_portfolio"`
	ROI            float64         `json:"roi"`
	StartPrice     float64         `json:"start_price"`
	PriceChangePct float64         `json:"price_change_pct"`
	OracleCount    int             `json:"oracle_decisions"`
	FallbackCount  int             `json:"fallback_decisions"`
	Predictions    PredictionStats `json:"predictions"`
}

type Result struct {
	Log     []model.TradeLogEntry
	Summary Summary
}

// Simulator 用决策引擎逐步驱动单一账户，每步至多一笔单位数量交易
type Simulator struct {
	engine    *Engine
	predictor Predictor
	cfg       SimConfig
	logger    *zap.Logger
}

func NewSimulator(engine *Engine, predictor Predictor, cfg SimConfig, logger *zap.Logger) (*Simulator, error) {
	if engine == nil || predictor == nil {
		return nil, errors.New("simulator needs an engine and a predictor")
	}
	if cfg.InitialBalance <= 0 || cfg.UnitSize <= 0 {
		return nil, fmt.Errorf("invalid simulator config %+v", cfg)
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{engine: engine, predictor: predictor, cfg: cfg, logger: logger}, nil
}

// Run 1. 校验输入  2. 逐窗口预测并决策  3. 按决策下单并记录日志  4. 汇总
func (s *Simulator) Run(ctx context.Context, windows [][][]float64, rows *model.Frame, features []string) (*Result, error) {
	if err := Validate(windows, rows, features); err != nil {
		return nil, err
	}

	var ledger executor.Executor = executor.NewLedger(s.cfg.InitialBalance, s.logger)
	startPrice, endPrice := rows.Price(0), rows.Price(rows.Len()-1)
	s.logger.Info("Live simulation starting",
		zap.Int("steps", len(windows)),
		zap.Float64("start_price", startPrice),
		zap.Float64("end_price", endPrice),
		zap.Float64("price_change_pct", (endPrice/startPrice-1)*100))

	res := &Result{Log: make([]model.TradeLogEntry, 0, len(windows))}
	probs := make([]float64, 0, len(windows))

	for step, w := range windows {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("simulation stopped at step %d: %w", step, err)
		}

		p, err := s.predictor.Predict(w)
		if err != nil {
			return nil, fmt.Errorf("predict step %d: %w", step, err)
		}
		probs = append(probs, p)

		price := rows.Price(step)
		d := s.engine.Decide(ctx, p, price, step)
		if d.Source == model.SourceOracle {
			res.Summary.OracleCount++
		} else {
			res.Summary.FallbackCount++
		}

		if _, err := ledger.Execute(d.Action, price, s.cfg.UnitSize); err != nil {
			s.logger.Debug("Order not filled", zap.Int("step", step), zap.Stringer("action", d.Action), zap.Error(err))
		}

		value := ledger.PortfolioValue(price)
		metrics.PortfolioValue.Set(value)
		res.Log = append(res.Log, model.TradeLogEntry{
			Step:           step,
			Action:         d.Action,
			Price:          price,
			PredictedProb:  p,
			Balance:        ledger.Balance(),
			Position:       ledger.Position(),
			PortfolioValue: value,
			Source:         d.Source,
		})

		if (step+1)%s.cfg.ProgressEvery == 0 {
			s.logger.Info("Live simulation progress",
				zap.Int("step", step+1),
				zap.Stringer("action", d.Action),
				zap.String("source", string(d.Source)),
				zap.Float64("price", price),
				zap.Float64("prob", p),
				zap.Float64("portfolio", value))
		}
	}

	final := ledger.PortfolioValue(endPrice)
	res.Summary.Steps = len(windows)
	res.Summary.InitialBalance = ledger.InitialBalance()
	res.Summary.FinalBalance = ledger.Balance()
	res.Summary.FinalPosition = ledger.Position()
	res.Summary.FinalPrice = endPrice
	res.Summary.FinalPortfolio = final
	res.Summary.ROI = (final - ledger.InitialBalance()) / ledger.InitialBalance()
	res.Summary.StartPrice = startPrice
	res.Summary.PriceChangePct = (endPrice/startPrice - 1) * 100
	res.Summary.Predictions = predictionStats(probs)

	st := res.Summary.Predictions
	s.logger.Info("Live simulation finished",
		zap.Float64("initial_balance", res.Summary.InitialBalance),
		zap.Float64("final_balance", res.Summary.FinalBalance),
		zap.Float64("final_position", res.Summary.FinalPosition),
		zap.Float64("final_portfolio", final),
		zap.Float64("roi_pct", res.Summary.ROI*100),
		zap.Int("oracle_decisions", res.Summary.OracleCount),
		zap.Int("fallback_decisions", res.Summary.FallbackCount),
		zap.Float64("prob_mean", st.Mean),
		zap.Float64("prob_min", st.Min),
		zap.Float64("prob_max", st.Max),
		zap.Float64("prob_std", st.Std),
		zap.Int("prob_above_055", st.Above55),
		zap.Int("prob_below_045", st.Below45))
	return res, nil
}
