package data

import (
	"context"
	"math"
	"math/rand"
	"time"

	"conflux-trader/internal/model"
)

// SampleProvider 生成可复现的合成日线 (几何随机游走)
type SampleProvider struct {
	Seed       int64
	StartPrice float64
	// End 是最后一根 Bar 的日期，为零值时取当天
	End time.Time
}

func (s *SampleProvider) Fetch(ctx context.Context, q Query) ([]model.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	days := q.Days
	if days <= 0 {
		days = 90
	}
	start := s.StartPrice
	if start <= 0 {
		start = 30000
	}
	end := s.End
	if end.IsZero() {
		end = time.Now().UTC()
	}
	end = end.Truncate(24 * time.Hour)

	rng := rand.New(rand.NewSource(s.Seed))
	bars := make([]model.Bar, days)
	price := start
	for i := range bars {
		if i > 0 {
			price *= 1 + 0.0005 + 0.02*rng.NormFloat64()
			price = math.Max(price, 0.01)
		}
		volume := math.Abs(1000 + 100*rng.NormFloat64())
		bars[i] = model.Bar{
			Timestamp: end.AddDate(0, 0, i-days+1),
			Price:     price,
			Volume:    volume,
			MarketCap: price * volume * math.Abs(10+rng.NormFloat64()),
		}
	}
	return bars, nil
}
