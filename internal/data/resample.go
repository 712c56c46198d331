package data

import (
	"time"

	"conflux-trader/internal/model"
)

// Resample 把 Bar 聚合到固定周期
// 1. 时间戳对齐到周期起点  2. 同一周期内取最后一个点 (收盘)  3. 周期起点作为新 Bar 的时间戳
// CoinGecko 的成交量和市值本身是滚动值，因此同样取最后一个
func Resample(bars []model.Bar, interval time.Duration) []model.Bar {
	if interval <= 0 || len(bars) == 0 {
		return bars
	}

	out := make([]model.Bar, 0, len(bars))
	var current model.Bar
	var currentStart time.Time

	for _, b := range bars {
		start := b.Timestamp.Truncate(interval)
		if !currentStart.IsZero() && start.After(currentStart) {
			// 上一根已完成
			out = append(out, current)
		}
		current = model.Bar{
			Timestamp: start,
			Price:     b.Price,
			Volume:    b.Volume,
			MarketCap: b.MarketCap,
		}
		currentStart = start
	}
	out = append(out, current)
	return out
}
