package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"conflux-trader/internal/backtest"
	"conflux-trader/internal/data"
	"conflux-trader/internal/learning"
	"conflux-trader/internal/metrics"
	"conflux-trader/internal/model"
	"conflux-trader/internal/report"
	"conflux-trader/internal/service"
	"conflux-trader/internal/strategy"
	"conflux-trader/pkg/ta"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// LocalModel 是单个策略本地训练的结果
type LocalModel struct {
	Strategy   string              `json:"strategy"`
	Samples    int                 `json:"samples"`
	Episodes   bool                `json:"episodes"` // false 表示回退到完整训练集
	FinalLoss  float64             `json:"final_loss"`
	Evaluation learning.Evaluation `json:"evaluation"`

	params learning.Params
}

// TrainReport 汇总一次联邦训练
type TrainReport struct {
	Bars          int                     `json:"bars"`
	TrainSamples  int                     `json:"train_samples"`
	TestSamples   int                     `json:"test_samples"`
	Backtests     []*backtest.Result      `json:"-"`
	Skipped       map[string]string       `json:"skipped,omitempty"`
	Local         []LocalModel            `json:"local"`
	Global        learning.Evaluation     `json:"global"`
	Contributions []learning.Contribution `json:"contributions"`
	ArtifactPath  string                  `json:"artifact_path"`
	CID           string                  `json:"cid,omitempty"`
}

// TrainPipeline 串起 行情 -> 指标 -> 回测 -> 本地训练 -> 聚合 -> 模型文件
type TrainPipeline struct {
	cfg        service.TrainingConfig
	query      data.Query
	layout     Layout
	provider   data.Provider
	calculator *ta.TACalculator
	uploader   *learning.Uploader
	strategies []strategy.Strategy
	logger     *zap.Logger
}

// NewTrainPipeline uploader 为 nil 时不上传
func NewTrainPipeline(cfg *service.Config, provider data.Provider, uploader *learning.Uploader, logger *zap.Logger) *TrainPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrainPipeline{
		cfg:        cfg.Training,
		query:      data.Query{Coin: cfg.Data.Coin, VsCurrency: cfg.Data.VsCurrency, Days: cfg.Data.Days},
		layout:     NewLayout(cfg),
		provider:   provider,
		calculator: ta.NewTACalculator(logger),
		uploader:   uploader,
		strategies: strategy.All(),
		logger:     logger,
	}
}

// WithStrategies 替换参与训练的策略集合
func (p *TrainPipeline) WithStrategies(strategies ...strategy.Strategy) *TrainPipeline {
	p.strategies = strategies
	return p
}

func (p *TrainPipeline) Run(ctx context.Context) (*TrainReport, error) {
	// 1. 行情数据
	frame, err := p.prepare(ctx)
	if err != nil {
		return nil, err
	}
	rep := &TrainReport{Bars: frame.Len(), Skipped: make(map[string]string)}

	// 2. 回测 (前 backtest_ratio 的行)
	results := p.backtestAll(frame, rep)
	if len(results) == 0 {
		return nil, fmt.Errorf("all strategies failed in backtest: %w", learning.ErrNoModels)
	}

	// 3. 滑动窗口 + 时间顺序切分 + 标准化
	trainSet, testSet, scaler, err := p.datasets(frame)
	if err != nil {
		return nil, err
	}
	rep.TrainSamples, rep.TestSamples = trainSet.Len(), testSet.Len()

	// 4. 本地训练
	arch := learning.Architecture{Window: p.cfg.Window, Features: len(ta.FeatureNames), Hidden: p.cfg.Hidden}
	rep.Local = p.trainLocal(ctx, arch, results, trainSet, testSet, rep)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(rep.Local) == 0 {
		return nil, fmt.Errorf("no local model trained: %w", learning.ErrNoModels)
	}

	// 5. 聚合并评估全局模型
	start := time.Now()
	locals := make([]learning.Params, len(rep.Local))
	accuracy := make(map[string]float64, len(rep.Local))
	for i, m := range rep.Local {
		locals[i] = m.params
		accuracy[m.Strategy] = m.Evaluation.Accuracy
	}
	globalParams, err := learning.Aggregate(locals)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	global, err := learning.NewClassifier(arch, rand.New(rand.NewSource(p.cfg.Seed)))
	if err != nil {
		return nil, err
	}
	if err := global.LoadParams(globalParams); err != nil {
		return nil, fmt.Errorf("load global params: %w", err)
	}
	if rep.Global, err = learning.Evaluate(global, testSet); err != nil {
		return nil, fmt.Errorf("evaluate global model: %w", err)
	}
	metrics.ObserveStage("aggregate", start)
	p.logger.Info("Global model aggregated",
		zap.Int("local_models", len(locals)),
		zap.Float64("accuracy", rep.Global.Accuracy),
		zap.Float64("precision", rep.Global.Precision),
		zap.Float64("recall", rep.Global.Recall),
		zap.Float64("f1", rep.Global.F1))

	// 6. 模型文件 + 可选上传
	artifact := &learning.Artifact{
		Architecture: arch,
		Features:     append([]string(nil), ta.FeatureNames...),
		Scaler:       scaler,
		Params:       globalParams,
		Split: learning.Split{
			Rows:    frame.Len(),
			Windows: trainSet.Len() + testSet.Len(),
			Cut:     trainSet.Len(),
		},
	}
	if err := learning.SaveArtifact(p.layout.Artifact, artifact); err != nil {
		return nil, err
	}
	rep.ArtifactPath = p.layout.Artifact
	p.logger.Info("Global model saved", zap.String("path", p.layout.Artifact))
	rep.CID = p.upload(ctx)

	// 7. 贡献分
	if rep.Contributions, err = learning.Contributions(accuracy); err != nil {
		return nil, err
	}
	if err := report.WriteContributions(p.layout.Contributions(), rep.Contributions); err != nil {
		return nil, err
	}
	for _, c := range rep.Contributions {
		p.logger.Info("Strategy contribution", zap.String("strategy", c.Strategy), zap.Float64("score", c.Score))
	}
	return rep, nil
}

// prepare 1. 拉取行情并保存原始数据  2. 计算指标并保存处理后的数据
func (p *TrainPipeline) prepare(ctx context.Context) (*model.Frame, error) {
	defer metrics.ObserveStage("prepare", time.Now())

	bars, err := p.provider.Fetch(ctx, p.query)
	if err != nil {
		return nil, fmt.Errorf("fetch market data: %w", err)
	}
	frame, err := model.NewFrame(bars)
	if err != nil {
		return nil, err
	}
	if err := data.SaveFrameCSV(p.layout.RawData(), frame, nil); err != nil {
		return nil, err
	}
	if err := p.calculator.Enrich(frame); err != nil {
		return nil, fmt.Errorf("compute features: %w", err)
	}
	columns := append(append([]string{}, ta.FeatureNames...), ta.AuxiliaryNames...)
	if err := data.SaveFrameCSV(p.layout.ProcessedData(), frame, columns); err != nil {
		return nil, err
	}
	p.logger.Info("Market data prepared",
		zap.String("query", p.query.String()),
		zap.Int("bars", frame.Len()),
		zap.String("processed", p.layout.ProcessedData()))
	return frame, nil
}

// backtestAll 逐个策略回测；出错或 panic 的策略记录后跳过
func (p *TrainPipeline) backtestAll(frame *model.Frame, rep *TrainReport) []*backtest.Result {
	defer metrics.ObserveStage("backtest", time.Now())

	rows := int(float64(frame.Len()) * p.cfg.BacktestRatio)
	rows = min(max(rows, p.cfg.MinBacktestRows), frame.Len())
	window := frame.Slice(0, rows)
	bt := backtest.NewBacktester(p.cfg.InitialBalance, p.logger)

	var results []*backtest.Result
	for _, s := range p.strategies {
		res, err := runIsolated(bt, s, window)
		if err != nil {
			p.logger.Error("Backtest failed, strategy excluded", zap.String("strategy", s.Name()), zap.Error(err))
			rep.Skipped[s.Name()] = err.Error()
			continue
		}
		if err := report.WriteBacktestTrades(p.layout.Backtest(s.Name()), res.Trades); err != nil {
			p.logger.Warn("Write backtest trades failed", zap.String("strategy", s.Name()), zap.Error(err))
		}
		results = append(results, res)
	}
	rep.Backtests = results
	return results
}

func runIsolated(bt *backtest.Backtester, s strategy.Strategy, frame *model.Frame) (res *backtest.Result, err error) {
	var pc panics.Catcher
	pc.Try(func() {
		res, err = bt.Run(s, frame)
	})
	if rec := pc.Recovered(); rec != nil {
		return nil, fmt.Errorf("panic in %s: %w", s.Name(), rec.AsError())
	}
	return res, err
}

func (p *TrainPipeline) datasets(frame *model.Frame) (train, test *learning.Dataset, scaler *learning.Scaler, err error) {
	matrix, err := frame.Matrix(ta.FeatureNames)
	if err != nil {
		return nil, nil, nil, err
	}
	ds, err := learning.BuildWindows(matrix, frame.Prices(), p.cfg.Window)
	if err != nil {
		return nil, nil, nil, err
	}
	rawTrain, rawTest := ds.Split(p.cfg.TrainRatio)
	if rawTrain.Len() == 0 || rawTest.Len() == 0 {
		return nil, nil, nil, fmt.Errorf("%w: split of %d windows leaves an empty side", learning.ErrDatasetTooShort, ds.Len())
	}
	if scaler, err = learning.FitScaler(rawTrain); err != nil {
		return nil, nil, nil, err
	}
	if train, err = scaler.Transform(rawTrain); err != nil {
		return nil, nil, nil, err
	}
	if test, err = scaler.Transform(rawTest); err != nil {
		return nil, nil, nil, err
	}
	p.logger.Info("Datasets built",
		zap.Int("window", p.cfg.Window),
		zap.Int("train", train.Len()),
		zap.Int("test", test.Len()),
		zap.Int("train_positives", train.Positives()))
	return train, test, scaler, nil
}

// episodes 取策略产生信号的窗口；不足一批时回退到完整训练集
func (p *TrainPipeline) episodes(res *backtest.Result, train *learning.Dataset) (*learning.Dataset, bool) {
	if !p.cfg.Episodes {
		return train, false
	}
	ds := train.SelectEnds(res.SignalSteps())
	if ds.Len() < p.cfg.BatchSize {
		p.logger.Warn("Too few strategy episodes, training on the full set",
			zap.String("strategy", res.Strategy.String()),
			zap.Int("episodes", ds.Len()),
			zap.Int("batch_size", p.cfg.BatchSize))
		return train, false
	}
	return ds, true
}

type localOutcome struct {
	index int
	model LocalModel
	err   error
}

// trainLocal 在有界协程池中训练，每个任务持有自己的模型和随机源，结果按策略顺序返回
func (p *TrainPipeline) trainLocal(ctx context.Context, arch learning.Architecture, results []*backtest.Result,
	train, test *learning.Dataset, rep *TrainReport) []LocalModel {
	defer metrics.ObserveStage("train", time.Now())

	workers := max(p.cfg.Parallelism, 1)
	tp := pool.NewWithResults[localOutcome]().WithMaxGoroutines(workers)
	for i, res := range results {
		tp.Go(func() localOutcome {
			name := res.Strategy.String()
			out := localOutcome{index: i}
			var pc panics.Catcher
			pc.Try(func() {
				out.model, out.err = p.trainOne(ctx, arch, res, train, test, p.cfg.Seed+int64(i))
			})
			if rec := pc.Recovered(); rec != nil {
				out.err = fmt.Errorf("panic while training %s: %w", name, rec.AsError())
			}
			return out
		})
	}
	outcomes := tp.Wait()
	sort.Slice(outcomes, func(a, b int) bool { return outcomes[a].index < outcomes[b].index })

	var models []LocalModel
	for _, o := range outcomes {
		name := results[o.index].Strategy.String()
		if o.err != nil {
			if !errors.Is(o.err, context.Canceled) {
				p.logger.Error("Local training failed, strategy excluded", zap.String("strategy", name), zap.Error(o.err))
			}
			rep.Skipped[name] = o.err.Error()
			continue
		}
		models = append(models, o.model)
	}
	return models
}

func (p *TrainPipeline) trainOne(ctx context.Context, arch learning.Architecture, res *backtest.Result,
	train, test *learning.Dataset, seed int64) (LocalModel, error) {
	name := res.Strategy.String()
	log := p.logger.With(zap.String("strategy", name))

	ds, fromEpisodes := p.episodes(res, train)
	clf, err := learning.NewClassifier(arch, rand.New(rand.NewSource(seed)))
	if err != nil {
		return LocalModel{}, err
	}
	trainer := learning.NewTrainer(learning.TrainConfig{
		Epochs:       p.cfg.Epochs,
		BatchSize:    p.cfg.BatchSize,
		LearningRate: p.cfg.LearningRate,
	}, log)

	log.Info("Local training started", zap.Int("samples", ds.Len()), zap.Bool("episodes", fromEpisodes))
	out, err := trainer.Train(ctx, clf, ds)
	if err != nil {
		return LocalModel{}, err
	}
	ev, err := learning.Evaluate(clf, test)
	if err != nil {
		return LocalModel{}, err
	}
	metrics.TrainingLoss.WithLabelValues(name).Set(out.FinalLoss())
	log.Info("Local model evaluated",
		zap.Float64("final_loss", out.FinalLoss()),
		zap.Float64("accuracy", ev.Accuracy),
		zap.Float64("precision", ev.Precision),
		zap.Float64("recall", ev.Recall),
		zap.Float64("f1", ev.F1))

	return LocalModel{
		Strategy:   name,
		Samples:    ds.Len(),
		Episodes:   fromEpisodes,
		FinalLoss:  out.FinalLoss(),
		Evaluation: ev,
		params:     out.Params,
	}, nil
}

// upload 上传失败只记录日志
func (p *TrainPipeline) upload(ctx context.Context) string {
	if p.uploader == nil {
		return ""
	}
	cid, err := p.uploader.Upload(ctx, p.layout.Artifact)
	if err != nil {
		p.logger.Warn("Model upload failed", zap.Error(err))
		return ""
	}
	if err := report.WriteCID(p.layout.CID(), cid); err != nil {
		p.logger.Warn("Write model CID failed", zap.Error(err))
	}
	p.logger.Info("Global model uploaded", zap.String("cid", cid))
	return cid
}
