package pipeline

import (
	"fmt"
	"path/filepath"

	"conflux-trader/internal/model"
	"conflux-trader/internal/report"
	"conflux-trader/internal/service"
)

// Layout 统一管理运行产生的文件路径
type Layout struct {
	Dir      string
	Coin     string
	Artifact string
}

func NewLayout(cfg *service.Config) Layout {
	return Layout{Dir: cfg.Data.Dir, Coin: cfg.Data.Coin, Artifact: cfg.Artifact.Path}
}

func (l Layout) RawData() string {
	return filepath.Join(l.Dir, fmt.Sprintf("%s_raw_data.csv", l.Coin))
}

func (l Layout) ProcessedData() string {
	return filepath.Join(l.Dir, fmt.Sprintf("%s_processed_data.csv", l.Coin))
}

func (l Layout) Backtest(strategy string) string {
	return filepath.Join(l.Dir, report.BacktestFile(strategy))
}

func (l Layout) Contributions() string {
	return filepath.Join(l.Dir, report.ContributionsFile)
}

func (l Layout) TradeLog() string {
	return filepath.Join(l.Dir, report.TradeLogFile)
}

// CID 与模型文件放在同一目录
func (l Layout) CID() string {
	return filepath.Join(filepath.Dir(l.Artifact), report.CIDFile)
}

// rowsAt 取出 ends 对应的行 (含指定列)，构成新的 Frame
func rowsAt(frame *model.Frame, ends []int, columns []string) (*model.Frame, error) {
	bars := make([]model.Bar, len(ends))
	for i, idx := range ends {
		if idx < 0 || idx >= frame.Len() {
			return nil, fmt.Errorf("row %d out of range [0, %d)", idx, frame.Len())
		}
		bars[i] = frame.Bars[idx]
	}
	rows, err := model.NewFrame(bars)
	if err != nil {
		return nil, err
	}
	for _, name := range columns {
		col, err := frame.Column(name)
		if err != nil {
			return nil, err
		}
		picked := make([]float64, len(ends))
		for i, idx := range ends {
			picked[i] = col[idx]
		}
		if err := rows.SetColumn(name, picked); err != nil {
			return nil, err
		}
	}
	return rows, nil
}
