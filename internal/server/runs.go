package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"conflux-trader/internal/agent"
	"conflux-trader/internal/pipeline"
	"conflux-trader/internal/service"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrRunActive = errors.New("a live run is already in progress")

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// TradeRunner 执行一次实盘模拟
type TradeRunner interface {
	Run(ctx context.Context) (*pipeline.TradeReport, error)
}

// RunnerFactory 按请求中的覆盖项构造 TradeRunner
type RunnerFactory func(trading service.TradingConfig) (TradeRunner, error)

// StartTradeRequest 的零值字段沿用配置文件
type StartTradeRequest struct {
	Label     string  `json:"label" default:"manual" validate:"max=64"`
	Schedule  string  `json:"schedule" validate:"omitempty,oneof=every_n first_k never"`
	Frequency int     `json:"frequency" validate:"gte=0"`
	FirstK    int     `json:"first_k" validate:"gte=0"`
	Epsilon   float64 `json:"epsilon" validate:"omitempty,gt=0,lt=0.5"`
	UnitSize  float64 `json:"unit_size" validate:"omitempty,gt=0"`
	ResetLogs *bool   `json:"reset_logs" default:"true"`
}

// Apply 把请求中的非零字段覆盖到 base 上
func (r StartTradeRequest) Apply(base service.TradingConfig) service.TradingConfig {
	if r.Schedule != "" {
		base.Schedule = r.Schedule
	}
	if r.Frequency > 0 {
		base.Frequency = r.Frequency
	}
	if r.FirstK > 0 {
		base.FirstK = r.FirstK
	}
	if r.Epsilon > 0 {
		base.Epsilon = r.Epsilon
	}
	if r.UnitSize > 0 {
		base.UnitSize = r.UnitSize
	}
	return base
}

// Run 是一次实盘模拟的状态快照
type Run struct {
	ID         string                `json:"id"`
	Label      string                `json:"label"`
	Status     RunStatus             `json:"status"`
	Trading    service.TradingConfig `json:"trading"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt *time.Time            `json:"finished_at,omitempty"`
	Error      string                `json:"error,omitempty"`
	Summary    *agent.Summary        `json:"summary,omitempty"`
	TradeLog   string                `json:"trade_log,omitempty"`
}

// runManager 同一时间至多一个运行
type runManager struct {
	mu      sync.Mutex
	current *Run
	wg      sync.WaitGroup
	logger  *zap.Logger
}

func (m *runManager) start(ctx context.Context, label string, trading service.TradingConfig, runner TradeRunner) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.Status == RunRunning {
		return *m.current, ErrRunActive
	}
	run := &Run{
		ID:        uuid.NewString(),
		Label:     label,
		Status:    RunRunning,
		Trading:   trading,
		StartedAt: time.Now().UTC(),
	}
	m.current = run

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		log := m.logger.With(zap.String("run_id", run.ID))
		log.Info("Live run started", zap.String("label", label))

		rep, err := runner.Run(ctx)

		m.mu.Lock()
		defer m.mu.Unlock()
		now := time.Now().UTC()
		run.FinishedAt = &now
		if err != nil {
			run.Status = RunFailed
			run.Error = err.Error()
			log.Error("Live run failed", zap.Error(err))
			return
		}
		run.Status = RunSucceeded
		run.Summary = &rep.Summary
		run.TradeLog = rep.TradeLog
		log.Info("Live run finished", zap.Float64("roi", rep.Summary.ROI))
	}()
	return *run, nil
}

// snapshot 返回当前运行的副本，没有运行过时返回 false
func (m *runManager) snapshot() (Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Run{}, false
	}
	return *m.current, true
}

func (m *runManager) wait() {
	m.wg.Wait()
}
