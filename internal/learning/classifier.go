package learning

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	fc1Weight = "fc1.weight"
	fc1Bias   = "fc1.bias"
	fc2Weight = "fc2.weight"
	fc2Bias   = "fc2.bias"
)

// Architecture 固定的模型结构，所有本地模型必须一致
type Architecture struct {
	Window   int `json:"window"`
	Features int `json:"features"`
	Hidden   int `json:"hidden"`
}

func (a Architecture) InputSize() int {
	return a.Window * a.Features
}

func (a Architecture) Validate() error {
	if a.Window < 1 || a.Features < 1 || a.Hidden < 1 {
		return fmt.Errorf("invalid architecture %+v", a)
	}
	return nil
}

// shapes 返回每个参数张量的形状
func (a Architecture) shapes() map[string][]int {
	return map[string][]int{
		fc1Weight: {a.Hidden, a.InputSize()},
		fc1Bias:   {a.Hidden},
		fc2Weight: {1, a.Hidden},
		fc2Bias:   {1},
	}
}

// Classifier 是两层全连接网络：窗口展平 -> ReLU 隐层 -> sigmoid 输出 (上涨概率)
type Classifier struct {
	arch   Architecture
	params Params
}

// NewClassifier 使用 Xavier 均匀分布初始化权重，偏置为 0
func NewClassifier(arch Architecture, rng *rand.Rand) (*Classifier, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	params := make(Params, 4)
	for name, shape := range arch.shapes() {
		params[name] = NewTensor(shape...)
	}
	initUniform(params[fc1Weight].Data, arch.InputSize(), arch.Hidden, rng)
	initUniform(params[fc2Weight].Data, arch.Hidden, 1, rng)
	return &Classifier{arch: arch, params: params}, nil
}

func initUniform(data []float64, fanIn, fanOut int, rng *rand.Rand) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
}

func (c *Classifier) Architecture() Architecture {
	return c.arch
}

// Params 返回参数副本
func (c *Classifier) Params() Params {
	return c.params.Clone()
}

// LoadParams 严格校验键和形状后替换参数
func (c *Classifier) LoadParams(p Params) error {
	for name, shape := range c.arch.shapes() {
		t, ok := p[name]
		if !ok {
			return fmt.Errorf("%w: missing tensor %s", ErrShapeMismatch, name)
		}
		if !sameShape(t.Shape, shape) || len(t.Data) != shapeSize(shape) {
			return fmt.Errorf("%w: tensor %s has shape %v, want %v", ErrShapeMismatch, name, t.Shape, shape)
		}
	}
	if len(p) != len(c.arch.shapes()) {
		return fmt.Errorf("%w: %d tensors, want %d", ErrShapeMismatch, len(p), len(c.arch.shapes()))
	}
	c.params = p.Clone()
	return nil
}

// Predict 返回窗口之后价格上涨的概率
func (c *Classifier) Predict(window [][]float64) (float64, error) {
	x, err := c.flatten(window)
	if err != nil {
		return 0, err
	}
	hidden := make([]float64, c.arch.Hidden)
	_, p := c.forward(x, hidden)
	return p, nil
}

// PredictBatch 依次预测多个窗口
func (c *Classifier) PredictBatch(windows [][][]float64) ([]float64, error) {
	out := make([]float64, len(windows))
	hidden := make([]float64, c.arch.Hidden)
	for i, w := range windows {
		x, err := c.flatten(w)
		if err != nil {
			return nil, fmt.Errorf("window %d: %w", i, err)
		}
		_, out[i] = c.forward(x, hidden)
	}
	return out, nil
}

func (c *Classifier) flatten(window [][]float64) ([]float64, error) {
	if len(window) != c.arch.Window {
		return nil, fmt.Errorf("%w: window has %d rows, want %d", ErrShapeMismatch, len(window), c.arch.Window)
	}
	x := make([]float64, 0, c.arch.InputSize())
	for i, row := range window {
		if len(row) != c.arch.Features {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrShapeMismatch, i, len(row), c.arch.Features)
		}
		x = append(x, row...)
	}
	return x, nil
}

// layers 把参数张量包装成 gonum 矩阵，底层数据共享不拷贝
func (c *Classifier) layers() (w1 *mat.Dense, b1, w2 []float64, b2 float64) {
	w1 = mat.NewDense(c.arch.Hidden, c.arch.InputSize(), c.params[fc1Weight].Data)
	return w1, c.params[fc1Bias].Data, c.params[fc2Weight].Data, c.params[fc2Bias].Data[0]
}

// forward 把隐层激活写入 hidden，返回输出 logit 和概率
func (c *Classifier) forward(x, hidden []float64) (float64, float64) {
	w1, b1, w2, b2 := c.layers()

	// h = relu(W1·x + b1)
	h := mat.NewVecDense(len(hidden), hidden)
	h.MulVec(w1, mat.NewVecDense(len(x), x))
	floats.Add(hidden, b1)
	for i, v := range hidden {
		if v < 0 {
			hidden[i] = 0
		}
	}

	z := b2 + floats.Dot(w2, hidden)
	return z, sigmoid(z)
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// bceWithLogit 数值稳定的二元交叉熵
func bceWithLogit(z, y float64) float64 {
	return math.Max(z, 0) - z*y + math.Log1p(math.Exp(-math.Abs(z)))
}
