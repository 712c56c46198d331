package learning

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
)

const ArtifactVersion = 2

var (
	ErrArtifactNotFound = errors.New("model artifact not found")
	ErrFeatureContract  = errors.New("feature list differs from artifact")
	ErrNonFinite        = errors.New("artifact contains NaN or Inf")
	ErrSplitMismatch    = errors.New("data does not match the training split")
)

// Split 记录训练时的切分：Rows 行数据切出 Windows 个窗口，前 Cut 个用于训练
type Split struct {
	Rows    int `json:"rows"`
	Windows int `json:"windows"`
	Cut     int `json:"cut"`
}

// Artifact 是全局模型文件：结构、特征契约、标准化参数和权重
type Artifact struct {
	Version      int          `json:"version"`
	Architecture Architecture `json:"architecture"`
	Features     []string     `json:"features"`
	Scaler       *Scaler      `json:"scaler"`
	Params       Params       `json:"params"`
	Split        Split        `json:"split"`
}

// SaveArtifact 先写临时文件再重命名
func SaveArtifact(path string, a *Artifact) error {
	if a.Version == 0 {
		a.Version = ArtifactVersion
	}
	if err := a.checkFinite(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}

// LoadArtifact 读取模型文件，文件不存在时返回 ErrArtifactNotFound
func LoadArtifact(path string) (*Artifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, path)
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if a.Version != ArtifactVersion {
		return nil, fmt.Errorf("unsupported artifact version %d", a.Version)
	}
	if a.Scaler == nil || a.Scaler.Features() != a.Architecture.Features {
		return nil, fmt.Errorf("artifact scaler does not match %d features", a.Architecture.Features)
	}
	sp := a.Split
	if sp.Cut < 1 || sp.Cut >= sp.Windows || sp.Rows != sp.Windows+a.Architecture.Window {
		return nil, fmt.Errorf("%w: invalid split %+v for window %d", ErrSplitMismatch, sp, a.Architecture.Window)
	}
	return &a, nil
}

// checkFinite 编码前检查权重和标准化参数
func (a *Artifact) checkFinite() error {
	for _, k := range a.Params.Keys() {
		if i := firstNonFinite(a.Params[k].Data); i >= 0 {
			return fmt.Errorf("%w: tensor %s[%d]", ErrNonFinite, k, i)
		}
	}
	if a.Scaler != nil {
		if i := firstNonFinite(a.Scaler.Mean); i >= 0 {
			return fmt.Errorf("%w: scaler mean[%d]", ErrNonFinite, i)
		}
		if i := firstNonFinite(a.Scaler.Std); i >= 0 {
			return fmt.Errorf("%w: scaler std[%d]", ErrNonFinite, i)
		}
	}
	return nil
}

func firstNonFinite(xs []float64) int {
	for i, v := range xs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return i
		}
	}
	return -1
}

// HeldOut 按训练时的切分取留出窗口，数据行数或窗口数变化时报错
func (a *Artifact) HeldOut(rows int, ds *Dataset) (*Dataset, error) {
	if rows != a.Split.Rows || ds.Len() != a.Split.Windows {
		return nil, fmt.Errorf("%w: have %d rows / %d windows, trained on %d / %d",
			ErrSplitMismatch, rows, ds.Len(), a.Split.Rows, a.Split.Windows)
	}
	return ds.slice(a.Split.Cut, ds.Len()), nil
}

// CheckFeatures 要求特征名和顺序完全一致
func (a *Artifact) CheckFeatures(features []string) error {
	if !slices.Equal(a.Features, features) {
		return fmt.Errorf("%w: artifact %v, consumer %v", ErrFeatureContract, a.Features, features)
	}
	return nil
}

// Classifier 按文件中的结构重建模型并装载权重
func (a *Artifact) Classifier() (*Classifier, error) {
	if err := a.Architecture.Validate(); err != nil {
		return nil, err
	}
	c := &Classifier{arch: a.Architecture}
	if err := c.LoadParams(a.Params); err != nil {
		return nil, fmt.Errorf("load params: %w", err)
	}
	return c, nil
}
