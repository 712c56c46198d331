package learning

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var ErrDatasetTooShort = errors.New("not enough rows for one window")

// Dataset 是 (窗口, 标签) 样本集合
// End[i] 是第 i 个窗口最后一行在原始 frame 中的索引
type Dataset struct {
	X   [][][]float64
	Y   []float64
	End []int
}

func (d *Dataset) Len() int {
	return len(d.Y)
}

// BuildWindows 用长度为 window 的滑动窗口切分特征矩阵
// 标签为 1 当且仅当窗口后一步的价格高于窗口最后一步的价格
func BuildWindows(matrix [][]float64, prices []float64, window int) (*Dataset, error) {
	if window < 1 {
		return nil, fmt.Errorf("invalid window %d", window)
	}
	if len(matrix) != len(prices) {
		return nil, fmt.Errorf("matrix has %d rows, prices has %d", len(matrix), len(prices))
	}
	n := len(matrix) - window
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d rows, window %d", ErrDatasetTooShort, len(matrix), window)
	}

	ds := &Dataset{
		X:   make([][][]float64, n),
		Y:   make([]float64, n),
		End: make([]int, n),
	}
	for i := 0; i < n; i++ {
		ds.X[i] = matrix[i : i+window]
		if prices[i+window] > prices[i+window-1] {
			ds.Y[i] = 1
		}
		ds.End[i] = i + window - 1
	}
	return ds, nil
}

// Split 按时间顺序切分，前 ratio 为训练集
func (d *Dataset) Split(ratio float64) (*Dataset, *Dataset) {
	cut := int(float64(d.Len()) * ratio)
	return d.slice(0, cut), d.slice(cut, d.Len())
}

func (d *Dataset) slice(from, to int) *Dataset {
	return &Dataset{X: d.X[from:to], Y: d.Y[from:to], End: d.End[from:to]}
}

// SelectEnds 只保留最后一行落在 steps 中的窗口，保持原顺序
func (d *Dataset) SelectEnds(steps []int) *Dataset {
	want := make(map[int]struct{}, len(steps))
	for _, s := range steps {
		want[s] = struct{}{}
	}
	out := &Dataset{}
	for i, end := range d.End {
		if _, ok := want[end]; ok {
			out.X = append(out.X, d.X[i])
			out.Y = append(out.Y, d.Y[i])
			out.End = append(out.End, end)
		}
	}
	return out
}

// Tail 返回最后 n 个样本
func (d *Dataset) Tail(n int) *Dataset {
	if n >= d.Len() {
		return d
	}
	return d.slice(d.Len()-n, d.Len())
}

// Positives 统计标签为 1 的样本数
func (d *Dataset) Positives() int {
	n := 0
	for _, y := range d.Y {
		if y == 1 {
			n++
		}
	}
	return n
}

// Scaler 按特征标准化 (总体标准差)，标准差为 0 的特征除以 1
type Scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// FitScaler 在所有窗口的所有行上拟合
func FitScaler(d *Dataset) (*Scaler, error) {
	if d.Len() == 0 || len(d.X[0]) == 0 {
		return nil, errors.New("fit scaler on empty dataset")
	}
	features := len(d.X[0][0])

	// 1. 按特征收集列
	cols := make([][]float64, features)
	for _, w := range d.X {
		for _, row := range w {
			if len(row) != features {
				return nil, fmt.Errorf("%w: row has %d features, want %d", ErrShapeMismatch, len(row), features)
			}
			for j, v := range row {
				cols[j] = append(cols[j], v)
			}
		}
	}

	// 2. 总体均值和标准差
	mean := make([]float64, features)
	std := make([]float64, features)
	for j, col := range cols {
		mean[j], std[j] = stat.PopMeanStdDev(col, nil)
		if std[j] == 0 {
			std[j] = 1
		}
	}
	return &Scaler{Mean: mean, Std: std}, nil
}

func (s *Scaler) Features() int {
	return len(s.Mean)
}

// TransformWindow 返回标准化后的新窗口，不修改输入
func (s *Scaler) TransformWindow(w [][]float64) ([][]float64, error) {
	out := make([][]float64, len(w))
	for i, row := range w {
		if len(row) != len(s.Mean) {
			return nil, fmt.Errorf("%w: row has %d features, scaler has %d", ErrShapeMismatch, len(row), len(s.Mean))
		}
		scaled := make([]float64, len(row))
		floats.SubTo(scaled, row, s.Mean)
		floats.Div(scaled, s.Std)
		out[i] = scaled
	}
	return out, nil
}

// Transform 返回标准化后的新数据集
func (s *Scaler) Transform(d *Dataset) (*Dataset, error) {
	out := &Dataset{
		X:   make([][][]float64, d.Len()),
		Y:   append([]float64(nil), d.Y...),
		End: append([]int(nil), d.End...),
	}
	for i, w := range d.X {
		scaled, err := s.TransformWindow(w)
		if err != nil {
			return nil, fmt.Errorf("window %d: %w", i, err)
		}
		out.X[i] = scaled
	}
	return out, nil
}
