package learning

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomParams(rng *rand.Rand) Params {
	p := Params{
		"a": NewTensor(2, 3),
		"b": NewTensor(4),
	}
	for _, t := range p {
		for i := range t.Data {
			t.Data[i] = rng.NormFloat64()
		}
	}
	return p
}

func TestAggregateMean(t *testing.T) {
	a := Params{"w": {Shape: []int{2}, Data: []float64{1, 2}}}
	b := Params{"w": {Shape: []int{2}, Data: []float64{3, 6}}}

	got, err := Aggregate([]Params{a, b})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4}, got["w"].Data)
	assert.Equal(t, []int{2}, got["w"].Shape)
}

func TestAggregateOrderInsensitive(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	models := make([]Params, 6)
	for i := range models {
		models[i] = randomParams(rng)
	}
	want, err := Aggregate(models)
	require.NoError(t, err)

	for trial := 0; trial < 20; trial++ {
		shuffled := append([]Params(nil), models...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got, err := Aggregate(shuffled)
		require.NoError(t, err)
		for k := range want {
			assert.Equal(t, want[k].Data, got[k].Data)
		}
	}
}

func TestAggregateSingleIdentity(t *testing.T) {
	p := randomParams(rand.New(rand.NewSource(9)))
	got, err := Aggregate([]Params{p})
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestAggregateErrors(t *testing.T) {
	_, err := Aggregate(nil)
	assert.ErrorIs(t, err, ErrNoModels)

	a := Params{"w": NewTensor(2)}
	b := Params{"w": NewTensor(3)}
	_, err = Aggregate([]Params{a, b})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	c := Params{"v": NewTensor(2)}
	_, err = Aggregate([]Params{a, c})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestBuildWindowsLabels(t *testing.T) {
	prices := []float64{1, 2, 3, 2, 5}
	matrix := make([][]float64, len(prices))
	for i, p := range prices {
		matrix[i] = []float64{p, -p}
	}

	ds, err := BuildWindows(matrix, prices, 2)
	require.NoError(t, err)
	require.Equal(t, 3, ds.Len())
	// 标签比较 price[i+w] 与 price[i+w-1]
	assert.Equal(t, []float64{1, 0, 1}, ds.Y)
	assert.Equal(t, []int{1, 2, 3}, ds.End)
	assert.Equal(t, [][]float64{{2, -2}, {3, -3}}, ds.X[1])

	sel := ds.SelectEnds([]int{3, 1})
	assert.Equal(t, []int{1, 3}, sel.End)

	train, test := ds.Split(0.8)
	assert.Equal(t, 2, train.Len())
	assert.Equal(t, 1, test.Len())

	_, err = BuildWindows(matrix, prices, 5)
	assert.ErrorIs(t, err, ErrDatasetTooShort)
}

func TestScaler(t *testing.T) {
	ds := &Dataset{
		X: [][][]float64{{{1, 5}, {3, 5}}},
		Y: []float64{0},
	}
	s, err := FitScaler(ds)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 5}, s.Mean)
	assert.Equal(t, []float64{1, 1}, s.Std) // 第二个特征标准差为 0，按 1 处理

	out, err := s.Transform(ds)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{-1, 0}, {1, 0}}, out.X[0])
	// 输入不被修改
	assert.Equal(t, [][]float64{{1, 5}, {3, 5}}, ds.X[0])
}

// separable 构造一个线性可分的数据集：第一个特征的符号决定标签
func separable(n, window, features int, seed int64) *Dataset {
	rng := rand.New(rand.NewSource(seed))
	ds := &Dataset{}
	for i := 0; i < n; i++ {
		w := make([][]float64, window)
		for r := range w {
			row := make([]float64, features)
			for j := range row {
				row[j] = rng.NormFloat64()
			}
			w[r] = row
		}
		y := 0.0
		if w[window-1][0] > 0 {
			y = 1
		}
		ds.X = append(ds.X, w)
		ds.Y = append(ds.Y, y)
		ds.End = append(ds.End, i)
	}
	return ds
}

func TestTrainerReducesLoss(t *testing.T) {
	arch := Architecture{Window: 3, Features: 4, Hidden: 8}
	c, err := NewClassifier(arch, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	ds := separable(256, 3, 4, 2)

	tr := NewTrainer(TrainConfig{Epochs: 40, BatchSize: 32, LearningRate: 0.01}, nil)
	res, err := tr.Train(context.Background(), c, ds)
	require.NoError(t, err)

	require.Len(t, res.LossHistory, 40)
	assert.Less(t, res.FinalLoss(), res.LossHistory[0])

	ev, err := Evaluate(c, ds)
	require.NoError(t, err)
	assert.Greater(t, ev.Accuracy, 0.8)
}

func TestTrainerNotEnoughSamples(t *testing.T) {
	arch := Architecture{Window: 2, Features: 2, Hidden: 2}
	c, err := NewClassifier(arch, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	tr := NewTrainer(TrainConfig{Epochs: 1, BatchSize: 32, LearningRate: 0.001}, nil)
	_, err = tr.Train(context.Background(), c, separable(31, 2, 2, 3))
	assert.ErrorIs(t, err, ErrNotEnoughSamples)
}

func TestTrainerDeterministic(t *testing.T) {
	arch := Architecture{Window: 2, Features: 3, Hidden: 4}
	ds := separable(64, 2, 3, 4)
	run := func() Params {
		c, err := NewClassifier(arch, rand.New(rand.NewSource(7)))
		require.NoError(t, err)
		res, err := NewTrainer(TrainConfig{Epochs: 3, BatchSize: 32, LearningRate: 0.001}, nil).
			Train(context.Background(), c, ds)
		require.NoError(t, err)
		return res.Params
	}
	assert.Equal(t, run(), run())
}

func TestLoadParamsStrict(t *testing.T) {
	arch := Architecture{Window: 2, Features: 2, Hidden: 3}
	c, err := NewClassifier(arch, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	p := c.Params()
	p[fc1Bias] = NewTensor(4)
	assert.ErrorIs(t, c.LoadParams(p), ErrShapeMismatch)

	p = c.Params()
	delete(p, fc2Bias)
	assert.ErrorIs(t, c.LoadParams(p), ErrShapeMismatch)

	p = c.Params()
	p["extra"] = NewTensor(1)
	assert.ErrorIs(t, c.LoadParams(p), ErrShapeMismatch)

	_, err = c.Predict([][]float64{{1, 2}})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestArtifactRoundTrip(t *testing.T) {
	arch := Architecture{Window: 3, Features: 2, Hidden: 5}
	c, err := NewClassifier(arch, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	features := []string{"returns", "rsi"}
	ds := separable(10, 3, 2, 6)
	scaler, err := FitScaler(ds)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "models", "global.json")
	require.NoError(t, SaveArtifact(path, &Artifact{
		Architecture: arch, Features: features, Scaler: scaler, Params: c.Params(),
		Split: Split{Rows: 13, Windows: 10, Cut: 8},
	}))

	loaded, err := LoadArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, c.Params(), loaded.Params)
	assert.Equal(t, scaler, loaded.Scaler)
	require.NoError(t, loaded.CheckFeatures(features))
	assert.ErrorIs(t, loaded.CheckFeatures([]string{"rsi", "returns"}), ErrFeatureContract)

	restored, err := loaded.Classifier()
	require.NoError(t, err)
	want, err := c.PredictBatch(ds.X)
	require.NoError(t, err)
	got, err := restored.PredictBatch(ds.X)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSaveArtifactRejectsNonFinite(t *testing.T) {
	arch := Architecture{Window: 2, Features: 2, Hidden: 2}
	c, err := NewClassifier(arch, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	scaler := &Scaler{Mean: []float64{0, 0}, Std: []float64{1, 1}}
	split := Split{Rows: 12, Windows: 10, Cut: 8}
	path := filepath.Join(t.TempDir(), "global.json")

	p := c.Params()
	p[fc2Bias].Data[0] = math.NaN()
	err = SaveArtifact(path, &Artifact{Architecture: arch, Scaler: scaler, Params: p, Split: split})
	assert.ErrorIs(t, err, ErrNonFinite)
	assert.NoFileExists(t, path)

	bad := &Scaler{Mean: []float64{0, math.Inf(1)}, Std: []float64{1, 1}}
	err = SaveArtifact(path, &Artifact{Architecture: arch, Scaler: bad, Params: c.Params(), Split: split})
	assert.ErrorIs(t, err, ErrNonFinite)
}

func TestArtifactSplit(t *testing.T) {
	arch := Architecture{Window: 2, Features: 1, Hidden: 2}
	c, err := NewClassifier(arch, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	scaler := &Scaler{Mean: []float64{0}, Std: []float64{1}}
	dir := t.TempDir()

	// 切分与窗口数不一致的文件拒绝加载
	badPath := filepath.Join(dir, "bad.json")
	require.NoError(t, SaveArtifact(badPath, &Artifact{
		Architecture: arch, Scaler: scaler, Params: c.Params(), Split: Split{Rows: 10, Windows: 10, Cut: 8},
	}))
	_, err = LoadArtifact(badPath)
	assert.ErrorIs(t, err, ErrSplitMismatch)

	path := filepath.Join(dir, "global.json")
	require.NoError(t, SaveArtifact(path, &Artifact{
		Architecture: arch, Scaler: scaler, Params: c.Params(), Split: Split{Rows: 7, Windows: 5, Cut: 3},
	}))
	a, err := LoadArtifact(path)
	require.NoError(t, err)

	prices := []float64{1, 2, 3, 4, 5, 6, 7}
	matrix := make([][]float64, len(prices))
	for i, p := range prices {
		matrix[i] = []float64{p}
	}
	ds, err := BuildWindows(matrix, prices, 2)
	require.NoError(t, err)

	held, err := a.HeldOut(len(prices), ds)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5}, held.End)

	short, err := BuildWindows(matrix[:6], prices[:6], 2)
	require.NoError(t, err)
	_, err = a.HeldOut(6, short)
	assert.ErrorIs(t, err, ErrSplitMismatch)
}

func TestLoadArtifactMissing(t *testing.T) {
	_, err := LoadArtifact(filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestScoreAndContributions(t *testing.T) {
	ev := Score([]float64{0.9, 0.8, 0.2, 0.1}, []float64{1, 0, 1, 0})
	assert.Equal(t, 0.5, ev.Accuracy)
	assert.Equal(t, 0.5, ev.Precision)
	assert.Equal(t, 0.5, ev.Recall)
	assert.Equal(t, 0.5, ev.F1)

	ev = Score([]float64{0.1, 0.2}, []float64{1, 0})
	assert.Zero(t, ev.Precision)
	assert.Zero(t, ev.F1)

	cs, err := Contributions(map[string]float64{"rsi": 0.6, "momentum": 0.4})
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.Equal(t, "momentum", cs[0].Strategy)
	assert.InDelta(t, 4.0, cs[0].Score, 1e-12)
	assert.InDelta(t, 6.0, cs[1].Score, 1e-12)

	_, err = Contributions(nil)
	assert.ErrorIs(t, err, ErrNoModels)
}

func TestSigmoidStable(t *testing.T) {
	assert.Equal(t, 0.5, sigmoid(0))
	assert.False(t, math.IsNaN(sigmoid(-1000)))
	assert.InDelta(t, 1.0, sigmoid(1000), 1e-12)
	assert.InDelta(t, math.Log(2), bceWithLogit(0, 1), 1e-12)
}

func TestUploader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload", r.URL.Path)
		f, hdr, err := r.FormFile("file")
		if assert.NoError(t, err) {
			defer f.Close()
			assert.Equal(t, "model.json", hdr.Filename)
		}
		_, _ = w.Write([]byte(`{"cid":"bafy123"}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	cid, err := NewUploader(srv.URL+"/", nil).Upload(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "bafy123", cid)
}
