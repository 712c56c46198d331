package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"conflux-trader/internal/metrics"
	"conflux-trader/internal/model"
	"conflux-trader/internal/oracle"

	"go.uber.org/zap"
)

// FallbackReason 说明为什么使用了阈值规则
type FallbackReason string

const (
	ReasonNone         FallbackReason = ""
	ReasonNotScheduled FallbackReason = "not_scheduled"
	ReasonUnavailable  FallbackReason = "unavailable"
	ReasonError        FallbackReason = "error"
	ReasonTimeout      FallbackReason = "timeout"
	ReasonUnrecognized FallbackReason = "unrecognized"
)

// Decision 是决策引擎的单步输出
type Decision struct {
	Action model.Action
	Source model.DecisionSource
	Reason FallbackReason
}

// Threshold 概率高于 0.5+eps 买入，低于 0.5-eps 卖出，否则观望
func Threshold(p, eps float64) model.Action {
	switch {
	case p > 0.5+eps:
		return model.ActionBuy
	case p < 0.5-eps:
		return model.ActionSell
	default:
		return model.ActionHold
	}
}

// Engine 在计划内咨询顾问，其他情况走阈值规则
type Engine struct {
	advisor  oracle.Advisor
	schedule Schedule
	epsilon  float64
	timeout  time.Duration
	logger   *zap.Logger
}

// NewEngine advisor 为 nil 等同于 oracle.Unavailable
func NewEngine(advisor oracle.Advisor, schedule Schedule, epsilon float64, timeout time.Duration, logger *zap.Logger) (*Engine, error) {
	if epsilon <= 0 || epsilon >= 0.5 {
		return nil, fmt.Errorf("epsilon must be in (0, 0.5), got %v", epsilon)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("oracle timeout must be positive, got %v", timeout)
	}
	if advisor == nil {
		advisor = oracle.Unavailable{}
	}
	if schedule == nil {
		schedule = Never{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{advisor: advisor, schedule: schedule, epsilon: epsilon, timeout: timeout, logger: logger}, nil
}

// Decide 对第 step 步给出动作；顾问失败从不中断流程
func (e *Engine) Decide(ctx context.Context, p, price float64, step int) Decision {
	d := e.decide(ctx, p, price, step)
	metrics.Decisions.WithLabelValues(d.Action.String(), string(d.Source)).Inc()
	return d
}

func (e *Engine) decide(ctx context.Context, p, price float64, step int) Decision {
	if !e.schedule.Due(step) {
		return e.fallback(p, ReasonNotScheduled)
	}

	// 1. 带超时咨询顾问
	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	reply, err := e.consult(cctx, oracle.Request{Price: price, Probability: p, Step: step})

	// 2. 失败分类
	if err != nil {
		reason := ReasonError
		switch {
		case errors.Is(err, oracle.ErrUnavailable):
			reason = ReasonUnavailable
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded):
			reason = ReasonTimeout
		}
		metrics.OracleFailures.WithLabelValues(string(reason)).Inc()
		e.logger.Warn("Oracle consultation failed, using threshold",
			zap.Int("step", step), zap.String("reason", string(reason)), zap.Error(err))
		return e.fallback(p, reason)
	}

	// 3. 只接受恰好 buy/sell/hold 的回复
	action, ok := oracle.ParseAdvice(reply)
	if !ok {
		metrics.OracleFailures.WithLabelValues(string(ReasonUnrecognized)).Inc()
		e.logger.Warn("Oracle reply not recognized, using threshold",
			zap.Int("step", step), zap.String("reply", reply))
		return e.fallback(p, ReasonUnrecognized)
	}
	return Decision{Action: action, Source: model.SourceOracle}
}

type advice struct {
	reply string
	err   error
}

// consult 在独立 goroutine 中调用顾问，超时后不再等待其返回
func (e *Engine) consult(ctx context.Context, req oracle.Request) (string, error) {
	done := make(chan advice, 1)
	go func() {
		reply, err := e.advisor.Advise(ctx, req)
		done <- advice{reply: reply, err: err}
	}()

	select {
	case a := <-done:
		return a.reply, a.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (e *Engine) fallback(p float64, reason FallbackReason) Decision {
	return Decision{Action: Threshold(p, e.epsilon), Source: model.SourceFallback, Reason: reason}
}
