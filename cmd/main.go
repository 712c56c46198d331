package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"conflux-trader/internal/data"
	"conflux-trader/internal/learning"
	"conflux-trader/internal/metrics"
	"conflux-trader/internal/pipeline"
	"conflux-trader/internal/server"
	"conflux-trader/internal/service"
	"conflux-trader/pkg/httpclient"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	mode := flag.String("mode", "train", "run mode: train | trade | serve")
	configPath := flag.String("config", "config", "config directory (config.yaml, ../.env)")
	flag.Parse()

	cfg, err := service.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	// 控制面读取的日志缓冲与标准输出共用同一个 Logger
	logs := service.NewLogBuffer(0)
	level, _ := zapcore.ParseLevel(cfg.Log.Level)
	if err := service.InitLogger(cfg.Log.Level, service.NewBufferCore(logs, level)); err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer service.Logger.Sync()
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := service.Logger.With(zap.String("mode", *mode))
	switch *mode {
	case "train":
		err = runTrain(ctx, cfg, logger)
	case "trade":
		err = runTrade(ctx, cfg, logger)
	case "serve":
		err = runServe(ctx, cfg, logs, logger)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		logger.Error("Run failed", zap.Error(err))
		_ = service.Logger.Sync()
		os.Exit(1)
	}
}

func runTrain(ctx context.Context, cfg *service.Config, logger *zap.Logger) error {
	provider, closeProvider, err := newProvider(cfg, logger)
	if err != nil {
		return err
	}
	defer closeProvider()

	var uploader *learning.Uploader
	if cfg.Artifact.UploadURL != "" {
		uploader = learning.NewUploader(cfg.Artifact.UploadURL, httpclient.NewClient(httpclient.WithTimeout(cfg.Data.Timeout)))
	}

	rep, err := pipeline.NewTrainPipeline(cfg, provider, uploader, logger).Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("Federated training finished",
		zap.Int("local_models", len(rep.Local)),
		zap.Int("skipped", len(rep.Skipped)),
		zap.Float64("global_accuracy", rep.Global.Accuracy),
		zap.String("artifact", rep.ArtifactPath),
		zap.String("cid", rep.CID))
	return nil
}

func runTrade(ctx context.Context, cfg *service.Config, logger *zap.Logger) error {
	rep, err := pipeline.NewTradePipeline(cfg, nil, logger).Run(ctx)
	if err != nil {
		if errors.Is(err, learning.ErrArtifactNotFound) {
			logger.Error("No global model found, run with -mode train first", zap.String("path", cfg.Artifact.Path))
		}
		return err
	}
	logger.Info("Trade run finished",
		zap.Float64("roi_pct", rep.Summary.ROI*100),
		zap.String("trade_log", rep.TradeLog))
	return nil
}

func runServe(ctx context.Context, cfg *service.Config, logs *service.LogBuffer, logger *zap.Logger) error {
	factory := func(trading service.TradingConfig) (server.TradeRunner, error) {
		runCfg := *cfg
		runCfg.Trading = trading
		if err := service.Validate(&runCfg); err != nil {
			return nil, err
		}
		return pipeline.NewTradePipeline(&runCfg, nil, logger), nil
	}
	srv := server.NewServer(cfg.Server, cfg.Trading, factory, logs, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// newProvider 组装 CoinGecko -> 缓存 -> 合成样本回退
func newProvider(cfg *service.Config, logger *zap.Logger) (data.Provider, func(), error) {
	interval, err := service.ParseIntervalDuration(cfg.Data.Interval)
	if err != nil {
		return nil, nil, err
	}
	client := httpclient.NewClient(
		httpclient.WithTimeout(cfg.Data.Timeout),
		httpclient.WithHeader("Accept", "application/json"),
	)
	var provider data.Provider = data.NewCoinGecko(cfg.Data.BaseURL, interval, client, logger)

	var cache data.SeriesCache = data.NewMemoryCache()
	closeFn := func() {}
	if cfg.Data.Cache.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Data.Cache.Addr,
			Password: cfg.Data.Cache.Password,
			DB:       cfg.Data.Cache.DB,
		})
		cache = data.NewRedisCache(rdb)
		closeFn = func() { _ = rdb.Close() }
		logger.Info("Redis series cache enabled", zap.String("addr", cfg.Data.Cache.Addr))
	}
	provider = &data.CachedProvider{Next: provider, Cache: cache, TTL: cfg.Data.Cache.TTL, Logger: logger}

	return &data.FallbackProvider{
		Primary:  provider,
		Fallback: &data.SampleProvider{Seed: cfg.Training.Seed},
		Logger:   logger,
	}, closeFn, nil
}
