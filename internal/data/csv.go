package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"conflux-trader/internal/model"
	"conflux-trader/internal/service"
)

var baseHeader = []string{"timestamp", "price", "volume", "market_cap"}

// SaveFrameCSV 写出 Bar 和指定列；columns 为空时只写原始数据
func SaveFrameCSV(path string, frame *model.Frame, columns []string) error {
	cols := make([][]float64, len(columns))
	for j, name := range columns {
		col, err := frame.Column(name)
		if err != nil {
			return err
		}
		cols[j] = col
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(append(append([]string{}, baseHeader...), columns...)); err != nil {
		return err
	}
	record := make([]string, len(baseHeader)+len(columns))
	for i, b := range frame.Bars {
		record[0] = b.Timestamp.UTC().Format(time.RFC3339)
		record[1] = formatFloat(b.Price)
		record[2] = formatFloat(b.Volume)
		record[3] = formatFloat(b.MarketCap)
		for j := range cols {
			record[len(baseHeader)+j] = formatFloat(cols[j][i])
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// LoadFrameCSV 读回 SaveFrameCSV 写出的文件，额外列全部装入 frame
func LoadFrameCSV(path string) (*model.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, errors.New("empty csv: " + path)
	}
	header := records[0]
	if len(header) < len(baseHeader) {
		return nil, fmt.Errorf("csv header too short: %v", header)
	}
	for i, name := range baseHeader {
		if header[i] != name {
			return nil, fmt.Errorf("csv column %d is %q, want %q", i, header[i], name)
		}
	}

	extra := header[len(baseHeader):]
	rows := records[1:]
	bars := make([]model.Bar, len(rows))
	cols := make([][]float64, len(extra))
	for j := range cols {
		cols[j] = make([]float64, len(rows))
	}

	for i, rec := range rows {
		ts, err := time.Parse(time.RFC3339, rec[0])
		if err != nil {
			return nil, fmt.Errorf("row %d timestamp: %w", i+1, err)
		}
		vals := make([]float64, len(rec)-1)
		for j, s := range rec[1:] {
			v, err := service.StringToFloat(s)
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", i+1, header[j+1], err)
			}
			vals[j] = v
		}
		bars[i] = model.Bar{Timestamp: ts, Price: vals[0], Volume: vals[1], MarketCap: vals[2]}
		for j := range extra {
			cols[j][i] = vals[len(baseHeader)-1+j]
		}
	}

	frame, err := model.NewFrame(bars)
	if err != nil {
		return nil, err
	}
	for j, name := range extra {
		if err := frame.SetColumn(name, cols[j]); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
