package learning

import (
	"fmt"
	"sort"
)

// Aggregate 对多个本地模型的参数逐元素求算术平均 (不加权)
// 每个元素先排序再求和，结果与输入顺序无关 (逐位相同)
func Aggregate(models []Params) (Params, error) {
	if len(models) == 0 {
		return nil, ErrNoModels
	}
	ref := models[0]
	for i, m := range models[1:] {
		if err := ref.CheckCompatible(m); err != nil {
			return nil, fmt.Errorf("model %d: %w", i+1, err)
		}
	}

	n := float64(len(models))
	values := make([]float64, len(models))
	out := make(Params, len(ref))
	for _, key := range ref.Keys() {
		t := NewTensor(ref[key].Shape...)
		for e := range t.Data {
			for m := range models {
				values[m] = models[m][key].Data[e]
			}
			sort.Float64s(values)
			var sum float64
			for _, v := range values {
				sum += v
			}
			t.Data[e] = sum / n
		}
		out[key] = t
	}
	return out, nil
}
