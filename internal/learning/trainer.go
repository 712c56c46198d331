package learning

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var ErrNotEnoughSamples = errors.New("not enough samples for one batch")

// TrainConfig 本地训练参数
type TrainConfig struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	LogEvery     int // 每隔多少个 epoch 打印一次损失，0 表示 5
}

// TrainResult 本地训练输出
type TrainResult struct {
	Params      Params
	LossHistory []float64 // 每个 epoch 的平均批损失
}

func (r *TrainResult) FinalLoss() float64 {
	if len(r.LossHistory) == 0 {
		return math.NaN()
	}
	return r.LossHistory[len(r.LossHistory)-1]
}

// Trainer 用 Adam + BCE 做小批量训练，批次按时间顺序切分，末尾不足一批的样本丢弃
type Trainer struct {
	cfg    TrainConfig
	logger *zap.Logger
}

func NewTrainer(cfg TrainConfig, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 5
	}
	return &Trainer{cfg: cfg, logger: logger}
}

// adam 保存每个参数张量的一阶和二阶矩
type adam struct {
	lr, beta1, beta2, eps float64
	step                  int
	m, v                  map[string][]float64
	sq                    map[string][]float64 // g*g 的暂存
}

func newAdam(lr float64, params Params) *adam {
	a := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-8,
		m:  make(map[string][]float64, len(params)),
		v:  make(map[string][]float64, len(params)),
		sq: make(map[string][]float64, len(params))}
	for k, t := range params {
		a.m[k] = make([]float64, len(t.Data))
		a.v[k] = make([]float64, len(t.Data))
		a.sq[k] = make([]float64, len(t.Data))
	}
	return a
}

func (a *adam) update(params Params, grads map[string][]float64) {
	a.step++
	c1 := 1 - math.Pow(a.beta1, float64(a.step))
	c2 := 1 - math.Pow(a.beta2, float64(a.step))
	for _, k := range params.Keys() {
		g, ok := grads[k]
		if !ok {
			continue
		}
		p := params[k].Data
		m, v, sq := a.m[k], a.v[k], a.sq[k]

		// m = b1*m + (1-b1)*g ; v = b2*v + (1-b2)*g^2
		floats.Scale(a.beta1, m)
		floats.AddScaled(m, 1-a.beta1, g)
		floats.MulTo(sq, g, g)
		floats.Scale(a.beta2, v)
		floats.AddScaled(v, 1-a.beta2, sq)

		for i := range p {
			p[i] -= a.lr * (m[i] / c1) / (math.Sqrt(v[i]/c2) + a.eps)
		}
	}
}

// Train 在 ds 上训练 c，c 的参数被原地更新
func (t *Trainer) Train(ctx context.Context, c *Classifier, ds *Dataset) (*TrainResult, error) {
	if t.cfg.Epochs < 1 || t.cfg.BatchSize < 1 || t.cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("invalid train config %+v", t.cfg)
	}
	nBatches := ds.Len() / t.cfg.BatchSize
	if nBatches == 0 {
		return nil, fmt.Errorf("%w: have %d, batch size %d", ErrNotEnoughSamples, ds.Len(), t.cfg.BatchSize)
	}

	// 1. 预先展平所有窗口
	inputs := make([][]float64, ds.Len())
	for i, w := range ds.X {
		x, err := c.flatten(w)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		inputs[i] = x
	}

	arch := c.arch
	in := arch.InputSize()
	grads := map[string][]float64{
		fc1Weight: make([]float64, arch.Hidden*in),
		fc1Bias:   make([]float64, arch.Hidden),
		fc2Weight: make([]float64, arch.Hidden),
		fc2Bias:   make([]float64, 1),
	}
	gw1 := mat.NewDense(arch.Hidden, in, grads[fc1Weight])
	hidden := make([]float64, arch.Hidden)
	dh := make([]float64, arch.Hidden)
	dhVec := mat.NewVecDense(arch.Hidden, dh)
	opt := newAdam(t.cfg.LearningRate, c.params)
	history := make([]float64, 0, t.cfg.Epochs)

	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var total float64
		for b := 0; b < nBatches; b++ {
			for _, g := range grads {
				clear(g)
			}

			// 2. 前向 + 反向，梯度取批内平均
			var batchLoss float64
			start := b * t.cfg.BatchSize
			for s := start; s < start+t.cfg.BatchSize; s++ {
				x, y := inputs[s], ds.Y[s]
				z, p := c.forward(x, hidden)
				batchLoss += bceWithLogit(z, y)

				// dL/dz = p - y；dh 只在 ReLU 激活处非零
				dz := p - y
				grads[fc2Bias][0] += dz
				floats.AddScaled(grads[fc2Weight], dz, hidden)
				floats.ScaleTo(dh, dz, c.params[fc2Weight].Data)
				for h, a := range hidden {
					if a <= 0 {
						dh[h] = 0
					}
				}
				floats.Add(grads[fc1Bias], dh)
				gw1.RankOne(gw1, 1, dhVec, mat.NewVecDense(in, x))
			}
			scale := 1 / float64(t.cfg.BatchSize)
			for _, g := range grads {
				floats.Scale(scale, g)
			}

			// 3. Adam 更新
			opt.update(c.params, grads)
			total += batchLoss * scale
		}

		avg := total / float64(nBatches)
		history = append(history, avg)
		if (epoch+1)%t.cfg.LogEvery == 0 {
			t.logger.Info("Training progress",
				zap.Int("epoch", epoch+1),
				zap.Int("epochs", t.cfg.Epochs),
				zap.Float64("loss", avg))
		}
	}

	return &TrainResult{Params: c.Params(), LossHistory: history}, nil
}
