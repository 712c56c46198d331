package data

import (
	"context"
	"fmt"

	"conflux-trader/internal/model"

	"go.uber.org/zap"
)

// Query 描述一次行情请求
type Query struct {
	Coin       string
	VsCurrency string
	Days       int
}

func (q Query) String() string {
	return fmt.Sprintf("%s/%s/%dd", q.Coin, q.VsCurrency, q.Days)
}

// Provider 返回按时间递增排列的 Bar
type Provider interface {
	Fetch(ctx context.Context, q Query) ([]model.Bar, error)
}

// FallbackProvider 主数据源失败时改用备用数据源 (通常是合成样本)
type FallbackProvider struct {
	Primary  Provider
	Fallback Provider
	Logger   *zap.Logger
}

func (p *FallbackProvider) Fetch(ctx context.Context, q Query) ([]model.Bar, error) {
	bars, err := p.Primary.Fetch(ctx, q)
	if err == nil && len(bars) > 0 {
		return bars, nil
	}
	if err == nil {
		err = fmt.Errorf("empty series for %s", q)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Warn("Primary market data unavailable, using fallback series",
		zap.String("query", q.String()), zap.Error(err))
	return p.Fallback.Fetch(ctx, q)
}
