package learning

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrNoModels      = errors.New("no models to aggregate")
	ErrShapeMismatch = errors.New("parameter shape mismatch")
)

// Tensor 是按行优先存储的稠密张量
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

func NewTensor(shape ...int) Tensor {
	return Tensor{Shape: append([]int(nil), shape...), Data: make([]float64, shapeSize(shape))}
}

func (t Tensor) Clone() Tensor {
	return Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float64(nil), t.Data...),
	}
}

func shapeSize(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Params 是 张量名 -> 张量 的参数集合
type Params map[string]Tensor

func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, t := range p {
		out[k] = t.Clone()
	}
	return out
}

// Keys 返回排序后的张量名
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CheckCompatible 要求键集合和每个张量的形状完全一致
func (p Params) CheckCompatible(other Params) error {
	if len(p) != len(other) {
		return fmt.Errorf("%w: %d tensors vs %d", ErrShapeMismatch, len(p), len(other))
	}
	for k, t := range p {
		o, ok := other[k]
		if !ok {
			return fmt.Errorf("%w: missing tensor %s", ErrShapeMismatch, k)
		}
		if !sameShape(t.Shape, o.Shape) || len(t.Data) != len(o.Data) {
			return fmt.Errorf("%w: tensor %s %v vs %v", ErrShapeMismatch, k, t.Shape, o.Shape)
		}
	}
	return nil
}
