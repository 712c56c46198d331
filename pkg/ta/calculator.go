package ta

import (
	"errors"
	"fmt"
	"math"

	"conflux-trader/internal/model"

	"github.com/markcheno/go-talib"
	"go.uber.org/zap"
)

// FeatureNames 是模型输入特征，顺序属于契约的一部分，会写入模型文件
var FeatureNames = []string{
	"returns", "log_returns", "rsi", "stoch", "stoch_signal",
	"cci", "adx", "macd", "macd_signal", "macd_diff",
	"bollinger_pband", "bollinger_wband", "atr", "daily_volatility",
	"force_index", "ease_of_movement", "volume_price_trend",
	"mkt_cap_ratio", "price_to_sma_20", "volume_to_sma_20",
}

// AuxiliaryNames 只供策略使用，不进入模型
var AuxiliaryNames = []string{
	"sma_20", "sma_50", "ema_12", "ema_26",
	"bollinger_high", "bollinger_low", "bollinger_mid",
	"volume_sma_20", "volume_ema_20", "mkt_cap_sma_20",
}

// MinBars 计算所有指标所需的最小 K 线数量 (SMA 50)
const MinBars = 50

var ErrSeriesTooShort = errors.New("series too short for indicators")

// TACalculator 负责在整段行情上一次性计算所有指标
type TACalculator struct {
	Logger *zap.Logger
}

// NewTACalculator 初始化技术指标计算器
func NewTACalculator(logger *zap.Logger) *TACalculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TACalculator{Logger: logger}
}

// Enrich 把 20 个特征列和辅助列写入 frame
// 行情只有单一价格序列，需要高低收的指标都以 price 代替
// 每列在预热区间内先置为 NaN，最后统一前向填充再后向填充
func (tc *TACalculator) Enrich(frame *model.Frame) error {
	n := frame.Len()
	if n < MinBars {
		return fmt.Errorf("%w: have %d bars, need %d", ErrSeriesTooShort, n, MinBars)
	}

	price := frame.Prices()
	volume := make([]float64, n)
	mktCap := make([]float64, n)
	for i, b := range frame.Bars {
		volume[i] = b.Volume
		mktCap[i] = b.MarketCap
	}

	cols := make(map[string][]float64, len(FeatureNames)+len(AuxiliaryNames))

	// --- 基础收益 ---
	returns := make([]float64, n)
	logReturns := make([]float64, n)
	for i := 1; i < n; i++ {
		returns[i] = price[i]/price[i-1] - 1
		logReturns[i] = math.Log(price[i]) - math.Log(price[i-1])
	}
	cols["returns"] = warm(returns, 1)
	cols["log_returns"] = warm(logReturns, 1)

	// --- 均线 ---
	sma20 := talib.Sma(price, 20)
	cols["sma_20"] = warm(sma20, 19)
	cols["sma_50"] = warm(talib.Sma(price, 50), 49)
	cols["ema_12"] = warm(talib.Ema(price, 12), 11)
	cols["ema_26"] = warm(talib.Ema(price, 26), 25)

	// --- 动量 ---
	cols["rsi"] = warm(talib.Rsi(price, 14), 14)
	stoch, stochSignal := stochastic(price, 14, 3)
	cols["stoch"] = warm(stoch, 13)
	cols["stoch_signal"] = warm(stochSignal, 15)
	cols["cci"] = warm(talib.Cci(price, price, price, 20), 19)
	cols["adx"] = warm(talib.Adx(price, price, price, 14), 27)

	// --- MACD (12, 26, 9) ---
	macd, macdSignal, macdHist := talib.Macd(price, 12, 26, 9)
	cols["macd"] = warm(macd, 33)
	cols["macd_signal"] = warm(macdSignal, 33)
	cols["macd_diff"] = warm(macdHist, 33)

	// --- 布林带 (20, 2) ---
	upper, mid, lower := talib.BBands(price, 20, 2, 2, talib.SMA)
	pband := make([]float64, n)
	wband := make([]float64, n)
	for i := range price {
		pband[i] = (price[i] - lower[i]) / (upper[i] - lower[i])
		wband[i] = (upper[i] - lower[i]) / mid[i] * 100
	}
	cols["bollinger_high"] = warm(upper, 19)
	cols["bollinger_low"] = warm(lower, 19)
	cols["bollinger_mid"] = warm(mid, 19)
	cols["bollinger_pband"] = warm(pband, 19)
	cols["bollinger_wband"] = warm(wband, 19)

	// --- 波动率 ---
	cols["atr"] = warm(talib.Atr(price, price, price, 14), 14)
	cols["daily_volatility"] = warm(rollingSampleStd(returns, 20, 1), 20)

	// --- 成交量 ---
	volSma20 := talib.Sma(volume, 20)
	cols["volume_sma_20"] = warm(volSma20, 19)
	cols["volume_ema_20"] = warm(talib.Ema(volume, 20), 19)
	cols["force_index"] = warm(forceIndex(price, volume, 13), 13)
	cols["ease_of_movement"] = warm(easeOfMovement(price, volume, 14), 14)
	cols["volume_price_trend"] = warm(volumePriceTrend(price, volume), 1)

	// --- 市值与比值 ---
	capSma20 := talib.Sma(mktCap, 20)
	capRatio := make([]float64, n)
	priceToSma := make([]float64, n)
	volumeToSma := make([]float64, n)
	for i := range price {
		capRatio[i] = mktCap[i] / capSma20[i]
		priceToSma[i] = price[i] / sma20[i]
		volumeToSma[i] = volume[i] / volSma20[i]
	}
	cols["mkt_cap_sma_20"] = warm(capSma20, 19)
	cols["mkt_cap_ratio"] = warm(capRatio, 19)
	cols["price_to_sma_20"] = warm(priceToSma, 19)
	cols["volume_to_sma_20"] = warm(volumeToSma, 19)

	for _, name := range append(append([]string{}, FeatureNames...), AuxiliaryNames...) {
		values, ok := cols[name]
		if !ok {
			return fmt.Errorf("indicator %s not computed", name)
		}
		if err := frame.SetColumn(name, fill(values)); err != nil {
			return fmt.Errorf("set column %s: %w", name, err)
		}
	}

	tc.Logger.Debug("Indicators computed",
		zap.Int("bars", n),
		zap.Int("features", len(FeatureNames)),
		zap.Int("auxiliary", len(AuxiliaryNames)))
	return nil
}

// warm 把预热区间标记为 NaN (talib 在该区间输出 0)
func warm(values []float64, lookback int) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	for i := 0; i < lookback && i < len(out); i++ {
		out[i] = math.NaN()
	}
	return out
}

// fill 把 NaN/Inf 前向填充，开头剩余部分再后向填充；全部无效时置 0
func fill(values []float64) []float64 {
	out := make([]float64, len(values))
	first := -1
	last := math.NaN()
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = last
			continue
		}
		out[i] = v
		last = v
		if first < 0 {
			first = i
		}
	}
	if first < 0 {
		for i := range out {
			out[i] = 0
		}
		return out
	}
	for i := 0; i < first; i++ {
		out[i] = out[first]
	}
	return out
}

// stochastic 计算 %K 和 3 周期 SMA 的 %D，高低价都取收盘价
func stochastic(price []float64, period, signal int) ([]float64, []float64) {
	hi := talib.Max(price, period)
	lo := talib.Min(price, period)
	k := make([]float64, len(price))
	for i := range price {
		k[i] = 100 * (price[i] - lo[i]) / (hi[i] - lo[i])
	}
	d := make([]float64, len(price))
	for i := period - 1 + signal - 1; i < len(price); i++ {
		var sum float64
		for j := i - signal + 1; j <= i; j++ {
			sum += k[j]
		}
		d[i] = sum / float64(signal)
	}
	return k, d
}

// rollingSampleStd 计算 values[start:] 上的滚动样本标准差 (ddof=1)
func rollingSampleStd(values []float64, period, start int) []float64 {
	out := make([]float64, len(values))
	for i := start + period - 1; i < len(values); i++ {
		var mean float64
		for j := i - period + 1; j <= i; j++ {
			mean += values[j]
		}
		mean /= float64(period)
		var ss float64
		for j := i - period + 1; j <= i; j++ {
			d := values[j] - mean
			ss += d * d
		}
		out[i] = math.Sqrt(ss / float64(period-1))
	}
	return out
}

func forceIndex(price, volume []float64, period int) []float64 {
	n := len(price)
	raw := make([]float64, n-1)
	for i := 1; i < n; i++ {
		raw[i-1] = (price[i] - price[i-1]) * volume[i]
	}
	smoothed := talib.Ema(raw, period)
	out := make([]float64, n)
	copy(out[1:], smoothed)
	return out
}

// easeOfMovement 高低价相同时距离项为 0，结果恒为 0
func easeOfMovement(price, volume []float64, period int) []float64 {
	n := len(price)
	raw := make([]float64, n-1)
	for i := 1; i < n; i++ {
		high, low := price[i], price[i]
		prevMid := price[i-1]
		if volume[i] == 0 {
			continue
		}
		raw[i-1] = ((high+low)/2 - prevMid) * (high - low) * 1e8 / volume[i]
	}
	smoothed := talib.Sma(raw, period)
	out := make([]float64, n)
	copy(out[1:], smoothed)
	return out
}

func volumePriceTrend(price, volume []float64) []float64 {
	out := make([]float64, len(price))
	for i := 1; i < len(price); i++ {
		out[i] = out[i-1] + volume[i]*(price[i]-price[i-1])/price[i-1]
	}
	return out
}
