package data

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"conflux-trader/internal/model"
	"conflux-trader/pkg/httpclient"

	"go.uber.org/zap"
)

// CoinGecko 调用 /coins/{id}/market_chart 获取价格、成交量和市值
type CoinGecko struct {
	baseURL  string
	interval time.Duration
	client   *httpclient.Client
	logger   *zap.Logger
}

// marketChart 中每个点是 [毫秒时间戳, 数值]
type marketChart struct {
	Prices       [][2]float64 `json:"prices"`
	TotalVolumes [][2]float64 `json:"total_volumes"`
	MarketCaps   [][2]float64 `json:"market_caps"`
}

// NewCoinGecko interval > 0 时把结果重采样到该周期
func NewCoinGecko(baseURL string, interval time.Duration, client *httpclient.Client, logger *zap.Logger) *CoinGecko {
	if client == nil {
		client = httpclient.NewClient()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CoinGecko{
		baseURL:  strings.TrimRight(baseURL, "/"),
		interval: interval,
		client:   client,
		logger:   logger,
	}
}

func (c *CoinGecko) Fetch(ctx context.Context, q Query) ([]model.Bar, error) {
	var chart marketChart
	err := c.client.SendAndParse(ctx, &httpclient.RequestOptions{
		URL: fmt.Sprintf("%s/coins/%s/market_chart", c.baseURL, url.PathEscape(q.Coin)),
		QueryParams: map[string]string{
			"vs_currency": q.VsCurrency,
			"days":        strconv.Itoa(q.Days),
		},
	}, &chart)
	if err != nil {
		return nil, fmt.Errorf("coingecko market_chart %s: %w", q, err)
	}

	bars, err := chart.bars()
	if err != nil {
		return nil, fmt.Errorf("coingecko market_chart %s: %w", q, err)
	}
	if c.interval > 0 {
		bars = Resample(bars, c.interval)
	}

	c.logger.Info("Fetched market data",
		zap.String("query", q.String()),
		zap.Int("points", len(chart.Prices)),
		zap.Int("bars", len(bars)))
	return bars, nil
}

// bars 按索引对齐三条序列，丢弃时间戳不递增的点
func (m *marketChart) bars() ([]model.Bar, error) {
	n := len(m.Prices)
	if n == 0 {
		return nil, fmt.Errorf("empty price series")
	}
	if len(m.TotalVolumes) != n || len(m.MarketCaps) != n {
		return nil, fmt.Errorf("series length mismatch: prices %d, volumes %d, market caps %d",
			n, len(m.TotalVolumes), len(m.MarketCaps))
	}

	out := make([]model.Bar, 0, n)
	for i, p := range m.Prices {
		ts := time.UnixMilli(int64(p[0])).UTC()
		if len(out) > 0 && !ts.After(out[len(out)-1].Timestamp) {
			continue
		}
		out = append(out, model.Bar{
			Timestamp: ts,
			Price:     p[1],
			Volume:    m.TotalVolumes[i][1],
			MarketCap: m.MarketCaps[i][1],
		})
	}
	return out, nil
}
