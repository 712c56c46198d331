package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"conflux-trader/internal/learning"
	"conflux-trader/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestWriteTradeLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", TradeLogFile)
	err := WriteTradeLog(path, []model.TradeLogEntry{
		{Step: 0, Action: model.ActionBuy, Price: 100, PredictedProb: 0.62, Balance: 99900, Position: 1, PortfolioValue: 100000, Source: model.SourceFallback},
		{Step: 1, Action: model.ActionHold, Price: 101.5, PredictedProb: 0.5, Balance: 99900, Position: 1, PortfolioValue: 100001.5, Source: model.SourceOracle},
	})
	require.NoError(t, err)

	records := readCSV(t, path)
	require.Len(t, records, 3)
	assert.Equal(t, tradeLogHeader, records[0])
	assert.Equal(t, []string{"0", "buy", "100", "0.62", "99900", "1", "100000", "fallback"}, records[1])
	assert.Equal(t, []string{"1", "hold", "101.5", "0.5", "99900", "1", "100001.5", "oracle"}, records[2])
}

func TestWriteBacktestTrades(t *testing.T) {
	path := filepath.Join(t.TempDir(), BacktestFile("rsi"))
	ts := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, WriteBacktestTrades(path, []model.TradeRecord{
		{Step: 7, Timestamp: ts, Action: model.ActionSell, Price: 50, Size: 0, Filled: false, Balance: 100000, PortfolioValue: 100000},
	}))

	records := readCSV(t, path)
	require.Len(t, records, 2)
	assert.Equal(t, "backtest_rsi.csv", filepath.Base(path))
	assert.Equal(t, []string{"7", "2024-01-02T00:00:00Z", "sell", "50", "0", "false", "100000", "0", "100000"}, records[1])
}

func TestWriteContributionsAndCID(t *testing.T) {
	dir := t.TempDir()
	contributions, err := learning.Contributions(map[string]float64{"rsi": 0.75, "breakout": 0.25})
	require.NoError(t, err)
	require.NoError(t, WriteContributions(filepath.Join(dir, ContributionsFile), contributions))

	records := readCSV(t, filepath.Join(dir, ContributionsFile))
	assert.Equal(t, [][]string{{"Trader Strategy", "Contribution"}, {"breakout", "2.5"}, {"rsi", "7.5"}}, records)

	require.NoError(t, WriteCID(filepath.Join(dir, CIDFile), "bafy123"))
	raw, err := os.ReadFile(filepath.Join(dir, CIDFile))
	require.NoError(t, err)
	assert.Equal(t, "bafy123\n", string(raw))
}
