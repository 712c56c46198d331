package learning

import (
	"fmt"
	"sort"
)

// Evaluation 是阈值 0.5 下的二分类指标
type Evaluation struct {
	Samples   int     `json:"samples"`
	Correct   int     `json:"correct"`
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// Evaluate 用 c 预测 ds 并计算指标；分母为 0 的指标记为 0
func Evaluate(c *Classifier, ds *Dataset) (Evaluation, error) {
	probs, err := c.PredictBatch(ds.X)
	if err != nil {
		return Evaluation{}, err
	}
	return Score(probs, ds.Y), nil
}

func Score(probs, labels []float64) Evaluation {
	var tp, fp, fn, correct int
	for i, p := range probs {
		pred := 0.0
		if p > 0.5 {
			pred = 1
		}
		y := labels[i]
		switch {
		case pred == 1 && y == 1:
			tp++
		case pred == 1 && y == 0:
			fp++
		case pred == 0 && y == 1:
			fn++
		}
		if pred == y {
			correct++
		}
	}

	ev := Evaluation{Samples: len(probs), Correct: correct}
	if len(probs) > 0 {
		ev.Accuracy = float64(correct) / float64(len(probs))
	}
	if tp+fp > 0 {
		ev.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		ev.Recall = float64(tp) / float64(tp+fn)
	}
	if ev.Precision+ev.Recall > 0 {
		ev.F1 = 2 * ev.Precision * ev.Recall / (ev.Precision + ev.Recall)
	}
	return ev
}

// Contribution 是单个策略对全局模型的贡献分
type Contribution struct {
	Strategy string
	Score    float64
}

// Contributions 把各策略的准确率归一化到总和为 10，按策略名排序
func Contributions(accuracy map[string]float64) ([]Contribution, error) {
	if len(accuracy) == 0 {
		return nil, ErrNoModels
	}
	names := make([]string, 0, len(accuracy))
	var sum float64
	for name, acc := range accuracy {
		if acc < 0 {
			return nil, fmt.Errorf("negative accuracy for %s", name)
		}
		names = append(names, name)
		sum += acc
	}
	sort.Strings(names)

	out := make([]Contribution, len(names))
	for i, name := range names {
		score := 0.0
		if sum > 0 {
			score = accuracy[name] / sum * 10
		}
		out[i] = Contribution{Strategy: name, Score: score}
	}
	return out, nil
}
