package ta

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"conflux-trader/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomWalk(t *testing.T, n int, seed int64) *model.Frame {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]model.Bar, n)
	price := 100.0
	for i := range bars {
		price += rng.NormFloat64()
		if price < 1 {
			price = 1
		}
		vol := 1000 + 100*rng.NormFloat64()
		bars[i] = model.Bar{
			Timestamp: start.Add(time.Duration(i) * 24 * time.Hour),
			Price:     price,
			Volume:    vol,
			MarketCap: price * vol * (10 + rng.NormFloat64()),
		}
	}
	frame, err := model.NewFrame(bars)
	require.NoError(t, err)
	return frame
}

func TestEnrichProducesFiniteColumns(t *testing.T) {
	frame := randomWalk(t, 200, 7)
	require.NoError(t, NewTACalculator(nil).Enrich(frame))

	require.Len(t, FeatureNames, 20)
	for _, name := range append(append([]string{}, FeatureNames...), AuxiliaryNames...) {
		col, err := frame.Column(name)
		require.NoError(t, err, name)
		require.Len(t, col, frame.Len(), name)
		for i, v := range col {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%s[%d] = %v", name, i, v)
		}
	}
}

func TestEnrichKnownValues(t *testing.T) {
	frame := randomWalk(t, 80, 3)
	require.NoError(t, NewTACalculator(nil).Enrich(frame))

	prices := frame.Prices()
	sma20, err := frame.Column("sma_20")
	require.NoError(t, err)

	var sum float64
	for _, p := range prices[40:60] {
		sum += p
	}
	assert.InDelta(t, sum/20, sma20[59], 1e-9)
	// 预热区间后向填充为第一个有效值
	assert.Equal(t, sma20[19], sma20[0])

	returns, err := frame.Column("returns")
	require.NoError(t, err)
	assert.InDelta(t, prices[10]/prices[9]-1, returns[10], 1e-12)
	assert.Equal(t, returns[1], returns[0])

	ratio, err := frame.Column("price_to_sma_20")
	require.NoError(t, err)
	assert.InDelta(t, prices[59]/sma20[59], ratio[59], 1e-9)
}

func TestEnrichTooShort(t *testing.T) {
	frame := randomWalk(t, MinBars-1, 1)
	err := NewTACalculator(nil).Enrich(frame)
	assert.ErrorIs(t, err, ErrSeriesTooShort)
}

func TestFillForwardThenBackward(t *testing.T) {
	nan := math.NaN()
	got := fill([]float64{nan, nan, 2, math.Inf(1), 3, nan})
	assert.Equal(t, []float64{2, 2, 2, 2, 3, 3}, got)

	assert.Equal(t, []float64{0, 0}, fill([]float64{nan, nan}))
}
