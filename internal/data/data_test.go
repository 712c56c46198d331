package data

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"conflux-trader/internal/model"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = 24 * time.Hour

type countingProvider struct {
	bars  []model.Bar
	err   error
	calls int
}

func (p *countingProvider) Fetch(context.Context, Query) ([]model.Bar, error) {
	p.calls++
	return p.bars, p.err
}

func TestCoinGeckoFetch(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/bitcoin/market_chart", r.URL.Path)
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currency"))
		assert.Equal(t, "3", r.URL.Query().Get("days"))
		h := int64(time.Hour / time.Millisecond)
		fmt.Fprintf(w, `{
			"prices": [[%d, 100], [%d, 101], [%d, 102], [%d, 103]],
			"total_volumes": [[%d, 10], [%d, 11], [%d, 12], [%d, 13]],
			"market_caps": [[%d, 1000], [%d, 1010], [%d, 1020], [%d, 1030]]
		}`, base, base+h, base+25*h, base+26*h,
			base, base+h, base+25*h, base+26*h,
			base, base+h, base+25*h, base+26*h)
	}))
	defer srv.Close()

	cg := NewCoinGecko(srv.URL, day, nil, nil)
	bars, err := cg.Fetch(context.Background(), Query{Coin: "bitcoin", VsCurrency: "usd", Days: 3})
	require.NoError(t, err)

	// 重采样为日线，每天取最后一个点
	require.Len(t, bars, 2)
	assert.Equal(t, 101.0, bars[0].Price)
	assert.Equal(t, 11.0, bars[0].Volume)
	assert.Equal(t, 103.0, bars[1].Price)
	assert.Equal(t, 1030.0, bars[1].MarketCap)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), bars[1].Timestamp)
}

func TestCoinGeckoLengthMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"prices": [[1, 1], [2, 2]], "total_volumes": [[1, 1]], "market_caps": [[1, 1], [2, 2]]}`))
	}))
	defer srv.Close()

	_, err := NewCoinGecko(srv.URL, 0, nil, nil).Fetch(context.Background(), Query{Coin: "x", VsCurrency: "usd", Days: 1})
	assert.ErrorContains(t, err, "length mismatch")
}

func TestFallbackProvider(t *testing.T) {
	primary := &countingProvider{err: errors.New("429")}
	sample := &SampleProvider{Seed: 1, End: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)}
	p := &FallbackProvider{Primary: primary, Fallback: sample}

	bars, err := p.Fetch(context.Background(), Query{Days: 30})
	require.NoError(t, err)
	assert.Len(t, bars, 30)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), bars[29].Timestamp)
	_, err = model.NewFrame(bars)
	assert.NoError(t, err)
}

func TestSampleProviderDeterministic(t *testing.T) {
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	a, err := (&SampleProvider{Seed: 3, End: end}).Fetch(context.Background(), Query{Days: 100})
	require.NoError(t, err)
	b, err := (&SampleProvider{Seed: 3, End: end}).Fetch(context.Background(), Query{Days: 100})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	for _, bar := range a {
		assert.Greater(t, bar.Price, 0.0)
		assert.Greater(t, bar.Volume, 0.0)
	}
}

func TestResample(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []model.Bar{
		{Timestamp: t0.Add(1 * time.Hour), Price: 1},
		{Timestamp: t0.Add(23 * time.Hour), Price: 2},
		{Timestamp: t0.Add(24 * time.Hour), Price: 3},
		{Timestamp: t0.Add(72 * time.Hour), Price: 4},
	}
	out := Resample(bars, day)
	require.Len(t, out, 3)
	assert.Equal(t, []float64{2, 3, 4}, []float64{out[0].Price, out[1].Price, out[2].Price})
	assert.Equal(t, t0, out[0].Timestamp)

	assert.Equal(t, bars, Resample(bars, 0))
}

func TestFrameCSVRoundTrip(t *testing.T) {
	bars, err := (&SampleProvider{Seed: 2, End: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}).
		Fetch(context.Background(), Query{Days: 5})
	require.NoError(t, err)
	frame, err := model.NewFrame(bars)
	require.NoError(t, err)
	require.NoError(t, frame.SetColumn("rsi", []float64{10, 20.5, 30, 1e-9, 50}))

	path := filepath.Join(t.TempDir(), "data", "bitcoin_processed_data.csv")
	require.NoError(t, SaveFrameCSV(path, frame, []string{"rsi"}))

	loaded, err := LoadFrameCSV(path)
	require.NoError(t, err)
	assert.Equal(t, frame.Bars, loaded.Bars)
	rsi, err := loaded.Column("rsi")
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20.5, 30, 1e-9, 50}, rsi)

	assert.ErrorIs(t, SaveFrameCSV(path, frame, []string{"adx"}), model.ErrMissingColumn)
}

func TestCachedProviderMemory(t *testing.T) {
	next := &countingProvider{bars: []model.Bar{{Timestamp: time.Unix(0, 0).UTC(), Price: 1}}}
	cache := NewMemoryCache()
	p := &CachedProvider{Next: next, Cache: cache, TTL: time.Minute}
	q := Query{Coin: "bitcoin", VsCurrency: "usd", Days: 1}

	for i := 0; i < 3; i++ {
		bars, err := p.Fetch(context.Background(), q)
		require.NoError(t, err)
		assert.Len(t, bars, 1)
	}
	assert.Equal(t, 1, next.calls)

	// 过期后重新拉取
	cache.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err := p.Fetch(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestCachedProviderSurvivesRedisOutage(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	next := &countingProvider{bars: []model.Bar{{Timestamp: time.Unix(0, 0).UTC(), Price: 1}}}
	p := &CachedProvider{Next: next, Cache: NewRedisCache(rdb), TTL: time.Minute}

	bars, err := p.Fetch(context.Background(), Query{Coin: "bitcoin", VsCurrency: "usd", Days: 1})
	require.NoError(t, err)
	assert.Len(t, bars, 1)
	assert.Equal(t, 1, next.calls)
}
