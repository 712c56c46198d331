package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conflux",
			Subsystem: "agent",
			Name:      "decisions_total",
			Help:      "Live decisions by action and source",
		},
		[]string{"action", "source"},
	)

	OracleFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conflux",
			Subsystem: "oracle",
			Name:      "failures_total",
			Help:      "Oracle consultations that fell back to the threshold rule",
		},
		[]string{"reason"},
	)

	OracleLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "conflux",
			Subsystem: "oracle",
			Name:      "latency_seconds",
			Help:      "Latency of oracle requests",
			Buckets:   prometheus.DefBuckets,
		},
	)

	BacktestTrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conflux",
			Subsystem: "backtest",
			Name:      "trades_total",
			Help:      "Backtest trade attempts by strategy and fill status",
		},
		[]string{"strategy", "filled"},
	)

	TrainingLoss = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "conflux",
			Subsystem: "training",
			Name:      "final_loss",
			Help:      "Final epoch loss of each local model",
		},
		[]string{"strategy"},
	)

	PortfolioValue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "conflux",
			Subsystem: "agent",
			Name:      "portfolio_value",
			Help:      "Portfolio value of the current live run",
		},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conflux",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Control surface requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "conflux",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)
)

// Register 把全部指标注册到默认 Registry，可以重复调用
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			Decisions, OracleFailures, OracleLatency, BacktestTrades,
			TrainingLoss, PortfolioValue, HTTPRequests, StageDuration,
		)
	})
}

// ObserveStage 用法: defer metrics.ObserveStage("backtest", time.Now())
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
