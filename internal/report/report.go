package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"conflux-trader/internal/learning"
	"conflux-trader/internal/model"
)

// 输出文件名，均位于数据目录下 (CID 除外)
const (
	TradeLogFile      = "trade_log.csv"
	ContributionsFile = "trader_contributions.csv"
	CIDFile           = "model_cid.txt"
)

var (
	tradeLogHeader     = []string{"step", "action", "price", "predicted_prob", "balance", "positions", "portfolio_value", "source"}
	backtestHeader     = []string{"step", "timestamp", "action", "price", "size", "filled", "balance", "position", "portfolio_value"}
	contributionHeader = []string{"Trader Strategy", "Contribution"}
)

// BacktestFile 返回某个策略的回测交易明细文件名
func BacktestFile(strategy string) string {
	return fmt.Sprintf("backtest_%s.csv", strategy)
}

// WriteTradeLog 写出实盘模拟的逐步记录
func WriteTradeLog(path string, entries []model.TradeLogEntry) error {
	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{
			strconv.Itoa(e.Step),
			e.Action.String(),
			formatFloat(e.Price),
			formatFloat(e.PredictedProb),
			formatFloat(e.Balance),
			formatFloat(e.Position),
			formatFloat(e.PortfolioValue),
			string(e.Source),
		}
	}
	return writeCSV(path, tradeLogHeader, rows)
}

// WriteBacktestTrades 写出单个策略回测中的全部非 hold 信号
func WriteBacktestTrades(path string, trades []model.TradeRecord) error {
	rows := make([][]string, len(trades))
	for i, t := range trades {
		rows[i] = []string{
			strconv.Itoa(t.Step),
			t.Timestamp.UTC().Format(time.RFC3339),
			t.Action.String(),
			formatFloat(t.Price),
			formatFloat(t.Size),
			strconv.FormatBool(t.Filled),
			formatFloat(t.Balance),
			formatFloat(t.Position),
			formatFloat(t.PortfolioValue),
		}
	}
	return writeCSV(path, backtestHeader, rows)
}

func WriteContributions(path string, contributions []learning.Contribution) error {
	rows := make([][]string, len(contributions))
	for i, c := range contributions {
		rows[i] = []string{c.Strategy, formatFloat(c.Score)}
	}
	return writeCSV(path, contributionHeader, rows)
}

// WriteCID 写出上传后返回的内容标识
func WriteCID(path, cid string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(cid+"\n"), 0o644)
}

func writeCSV(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
