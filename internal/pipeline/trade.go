package pipeline

import (
	"context"
	"fmt"
	"time"

	"conflux-trader/internal/agent"
	"conflux-trader/internal/data"
	"conflux-trader/internal/learning"
	"conflux-trader/internal/metrics"
	"conflux-trader/internal/oracle"
	"conflux-trader/internal/report"
	"conflux-trader/internal/service"
	"conflux-trader/pkg/ta"

	"go.uber.org/zap"
)

// TradeReport 是一次实盘模拟的输出
type TradeReport struct {
	Summary  agent.Summary `json:"summary"`
	TradeLog string        `json:"trade_log"`
}

// TradePipeline 加载全局模型，在留出窗口上驱动决策引擎
type TradePipeline struct {
	cfg     *service.Config
	layout  Layout
	advisor oracle.Advisor
	logger  *zap.Logger
}

// NewTradePipeline advisor 为 nil 时按配置构造
func NewTradePipeline(cfg *service.Config, advisor oracle.Advisor, logger *zap.Logger) *TradePipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if advisor == nil {
		advisor = oracle.New(oracle.Config{
			Enabled:     cfg.Oracle.Enabled,
			BaseURL:     cfg.Oracle.BaseURL,
			Model:       cfg.Oracle.Model,
			APIKey:      cfg.Oracle.APIKey,
			Temperature: cfg.Oracle.Temperature,
			Timeout:     cfg.Oracle.Timeout,
		}, logger)
	}
	return &TradePipeline{cfg: cfg, layout: NewLayout(cfg), advisor: advisor, logger: logger}
}

// Run 1. 加载模型并校验特征契约  2. 重建留出窗口  3. 模拟  4. 导出交易日志
func (p *TradePipeline) Run(ctx context.Context) (*TradeReport, error) {
	defer metrics.ObserveStage("trade", time.Now())

	artifact, err := learning.LoadArtifact(p.layout.Artifact)
	if err != nil {
		return nil, err
	}
	if err := artifact.CheckFeatures(ta.FeatureNames); err != nil {
		return nil, err
	}
	clf, err := artifact.Classifier()
	if err != nil {
		return nil, err
	}

	frame, err := data.LoadFrameCSV(p.layout.ProcessedData())
	if err != nil {
		return nil, fmt.Errorf("load processed data: %w", err)
	}
	matrix, err := frame.Matrix(artifact.Features)
	if err != nil {
		return nil, err
	}
	ds, err := learning.BuildWindows(matrix, frame.Prices(), artifact.Architecture.Window)
	if err != nil {
		return nil, err
	}
	held, err := artifact.HeldOut(frame.Len(), ds)
	if err != nil {
		return nil, err
	}
	scaled, err := artifact.Scaler.Transform(held)
	if err != nil {
		return nil, err
	}
	rows, err := rowsAt(frame, scaled.End, artifact.Features)
	if err != nil {
		return nil, err
	}

	schedule, err := agent.ParseSchedule(p.cfg.Trading.Schedule, p.cfg.Trading.Frequency, p.cfg.Trading.FirstK)
	if err != nil {
		return nil, err
	}
	engine, err := agent.NewEngine(p.advisor, schedule, p.cfg.Trading.Epsilon, p.cfg.Oracle.Timeout, p.logger)
	if err != nil {
		return nil, err
	}
	sim, err := agent.NewSimulator(engine, clf, agent.SimConfig{
		InitialBalance: p.cfg.Trading.InitialBalance,
		UnitSize:       p.cfg.Trading.UnitSize,
	}, p.logger)
	if err != nil {
		return nil, err
	}

	p.logger.Info("Trade run prepared",
		zap.String("artifact", p.layout.Artifact),
		zap.Int("held_out_windows", scaled.Len()),
		zap.Stringer("schedule", schedule))
	res, err := sim.Run(ctx, scaled.X, rows, artifact.Features)
	if err != nil {
		return nil, err
	}

	if err := report.WriteTradeLog(p.layout.TradeLog(), res.Log); err != nil {
		return nil, err
	}
	return &TradeReport{Summary: res.Summary, TradeLog: p.layout.TradeLog()}, nil
}
