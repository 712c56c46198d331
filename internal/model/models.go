package model

import (
	"fmt"
	"time"
)

// Bar 代表一个时间步的原始市场数据 (价格 / 成交量 / 市值)
type Bar struct {
	Timestamp time.Time
	Price     float64
	Volume    float64
	MarketCap float64
}

// Frame 是按时间排序的 Bar 序列，附带若干等长的命名列 (特征列和辅助列)
// Enrich 之后不再修改
type Frame struct {
	Bars    []Bar
	Columns map[string][]float64
}

// NewFrame 校验时间戳严格递增后构造 Frame
func NewFrame(bars []Bar) (*Frame, error) {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return nil, fmt.Errorf("bars not strictly increasing at index %d (%s <= %s)",
				i, bars[i].Timestamp.Format(time.RFC3339), bars[i-1].Timestamp.Format(time.RFC3339))
		}
	}
	return &Frame{Bars: bars, Columns: make(map[string][]float64)}, nil
}

func (f *Frame) Len() int {
	return len(f.Bars)
}

func (f *Frame) Price(i int) float64 {
	return f.Bars[i].Price
}

func (f *Frame) Volume(i int) float64 {
	return f.Bars[i].Volume
}

// Prices 返回价格序列的副本
func (f *Frame) Prices() []float64 {
	out := make([]float64, len(f.Bars))
	for i, b := range f.Bars {
		out[i] = b.Price
	}
	return out
}

// SetColumn 写入一列，长度必须与 Bars 一致
func (f *Frame) SetColumn(name string, values []float64) error {
	if len(values) != len(f.Bars) {
		return fmt.Errorf("column %s has %d rows, frame has %d", name, len(values), len(f.Bars))
	}
	if f.Columns == nil {
		f.Columns = make(map[string][]float64)
	}
	f.Columns[name] = values
	return nil
}

// Column 按名称查询列
func (f *Frame) Column(name string) ([]float64, error) {
	col, ok := f.Columns[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
	}
	return col, nil
}

// Matrix 按给定的列顺序构造 行 x 特征 矩阵
func (f *Frame) Matrix(names []string) ([][]float64, error) {
	cols := make([][]float64, len(names))
	for j, name := range names {
		col, err := f.Column(name)
		if err != nil {
			return nil, err
		}
		cols[j] = col
	}

	rows := make([][]float64, f.Len())
	for i := range rows {
		row := make([]float64, len(names))
		for j := range cols {
			row[j] = cols[j][i]
		}
		rows[i] = row
	}
	return rows, nil
}

// Slice 返回 [from, to) 的子 Frame，列数据共享底层数组 (只读使用)
func (f *Frame) Slice(from, to int) *Frame {
	out := &Frame{Bars: f.Bars[from:to], Columns: make(map[string][]float64, len(f.Columns))}
	for name, col := range f.Columns {
		out.Columns[name] = col[from:to]
	}
	return out
}
