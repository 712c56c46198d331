package strategy

import (
	"conflux-trader/internal/model"
)

// Momentum 比较当前价格与 Window 步之前的价格
type Momentum struct {
	Window        int
	BuyThreshold  float64
	SellThreshold float64
}

func (s *Momentum) Kind() Kind   { return KindMomentum }
func (s *Momentum) Name() string { return KindMomentum.String() }
func (s *Momentum) WarmUp() int  { return s.Window }

func (s *Momentum) ShouldTrade(frame *model.Frame, idx int, book Book) (model.Signal, error) {
	if err := checkIndex(frame, idx); err != nil {
		return model.HoldSignal, err
	}
	if idx < s.WarmUp() {
		return model.HoldSignal, nil
	}

	price := frame.Price(idx)
	past := frame.Price(idx - s.Window)
	momentum := (price - past) / past

	switch {
	case momentum > s.BuyThreshold:
		return buySignal(book, price, "momentum up"), nil
	case momentum < s.SellThreshold:
		return sellSignal(book, "momentum down"), nil
	}
	return model.HoldSignal, nil
}

// MeanReversion 价格和两条均线依次排列时逆向交易
type MeanReversion struct{}

func (s *MeanReversion) Kind() Kind   { return KindMeanReversion }
func (s *MeanReversion) Name() string { return KindMeanReversion.String() }
func (s *MeanReversion) WarmUp() int  { return 50 }

func (s *MeanReversion) ShouldTrade(frame *model.Frame, idx int, book Book) (model.Signal, error) {
	if err := checkIndex(frame, idx); err != nil {
		return model.HoldSignal, err
	}
	if idx < s.WarmUp() {
		return model.HoldSignal, nil
	}
	v, err := columnsAt(frame, idx, "sma_20", "sma_50")
	if err != nil {
		return model.HoldSignal, err
	}
	price, sma20, sma50 := frame.Price(idx), v[0], v[1]

	switch {
	case price < sma20 && sma20 < sma50:
		return buySignal(book, price, "below sma_20 < sma_50"), nil
	case price > sma20 && sma20 > sma50:
		return sellSignal(book, "above sma_20 > sma_50"), nil
	}
	return model.HoldSignal, nil
}

// Breakout 突破布林带上轨买入，跌破下轨卖出
type Breakout struct{}

func (s *Breakout) Kind() Kind   { return KindBreakout }
func (s *Breakout) Name() string { return KindBreakout.String() }
func (s *Breakout) WarmUp() int  { return 20 }

func (s *Breakout) ShouldTrade(frame *model.Frame, idx int, book Book) (model.Signal, error) {
	if err := checkIndex(frame, idx); err != nil {
		return model.HoldSignal, err
	}
	if idx < s.WarmUp() {
		return model.HoldSignal, nil
	}
	v, err := columnsAt(frame, idx, "bollinger_high", "bollinger_low")
	if err != nil {
		return model.HoldSignal, err
	}
	price := frame.Price(idx)

	switch {
	case price > v[0]:
		return buySignal(book, price, "above bollinger_high"), nil
	case price < v[1]:
		return sellSignal(book, "below bollinger_low"), nil
	}
	return model.HoldSignal, nil
}

// TrendFollowing 在 EMA12 / EMA26 交叉时交易
type TrendFollowing struct{}

func (s *TrendFollowing) Kind() Kind   { return KindTrendFollowing }
func (s *TrendFollowing) Name() string { return KindTrendFollowing.String() }
func (s *TrendFollowing) WarmUp() int  { return 26 }

func (s *TrendFollowing) ShouldTrade(frame *model.Frame, idx int, book Book) (model.Signal, error) {
	if err := checkIndex(frame, idx); err != nil {
		return model.HoldSignal, err
	}
	if idx < s.WarmUp() {
		return model.HoldSignal, nil
	}
	cur, err := columnsAt(frame, idx, "ema_12", "ema_26")
	if err != nil {
		return model.HoldSignal, err
	}
	prev, err := columnsAt(frame, idx-1, "ema_12", "ema_26")
	if err != nil {
		return model.HoldSignal, err
	}

	switch {
	case prev[0] <= prev[1] && cur[0] > cur[1]:
		return buySignal(book, frame.Price(idx), "ema_12 crossed above ema_26"), nil
	case prev[0] >= prev[1] && cur[0] < cur[1]:
		return sellSignal(book, "ema_12 crossed below ema_26"), nil
	}
	return model.HoldSignal, nil
}

// RSI 超卖买入，超买卖出
type RSI struct {
	Oversold   float64
	Overbought float64
}

func (s *RSI) Kind() Kind   { return KindRSI }
func (s *RSI) Name() string { return KindRSI.String() }
func (s *RSI) WarmUp() int  { return 14 }

func (s *RSI) ShouldTrade(frame *model.Frame, idx int, book Book) (model.Signal, error) {
	if err := checkIndex(frame, idx); err != nil {
		return model.HoldSignal, err
	}
	if idx < s.WarmUp() {
		return model.HoldSignal, nil
	}
	v, err := columnsAt(frame, idx, "rsi")
	if err != nil {
		return model.HoldSignal, err
	}

	switch {
	case v[0] < s.Oversold:
		return buySignal(book, frame.Price(idx), "rsi oversold"), nil
	case v[0] > s.Overbought:
		return sellSignal(book, "rsi overbought"), nil
	}
	return model.HoldSignal, nil
}

// Volume 放量时顺着当步价格方向交易
type Volume struct {
	Multiplier float64
}

func (s *Volume) Kind() Kind   { return KindVolume }
func (s *Volume) Name() string { return KindVolume.String() }
func (s *Volume) WarmUp() int  { return 20 }

func (s *Volume) ShouldTrade(frame *model.Frame, idx int, book Book) (model.Signal, error) {
	if err := checkIndex(frame, idx); err != nil {
		return model.HoldSignal, err
	}
	if idx < s.WarmUp() {
		return model.HoldSignal, nil
	}
	v, err := columnsAt(frame, idx, "volume_sma_20")
	if err != nil {
		return model.HoldSignal, err
	}

	price := frame.Price(idx)
	change := price/frame.Price(idx-1) - 1
	if frame.Volume(idx) <= v[0]*s.Multiplier {
		return model.HoldSignal, nil
	}

	switch {
	case change > 0:
		return buySignal(book, price, "volume spike, price up"), nil
	case change < 0:
		return sellSignal(book, "volume spike, price down"), nil
	}
	return model.HoldSignal, nil
}
