package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"conflux-trader/internal/agent"
	"conflux-trader/internal/pipeline"
	"conflux-trader/internal/service"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// blockingRunner 在 release 关闭前一直运行
type blockingRunner struct {
	release chan struct{}
	logger  *zap.Logger
	err     error
}

func (r *blockingRunner) Run(ctx context.Context) (*pipeline.TradeReport, error) {
	r.logger.Info("simulating step")
	select {
	case <-r.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, r.err
	}
	return &pipeline.TradeReport{Summary: agent.Summary{Steps: 3, ROI: 0.0003}, TradeLog: "data/trade_log.csv"}, nil
}

type fixture struct {
	srv     *Server
	logs    *service.LogBuffer
	runner  *blockingRunner
	trading []service.TradingConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{logs: service.NewLogBuffer(100)}
	logger := zap.New(service.NewBufferCore(f.logs, zapcore.InfoLevel))
	f.runner = &blockingRunner{release: make(chan struct{}), logger: logger}

	base := service.TradingConfig{InitialBalance: 100000, UnitSize: 1, Epsilon: 0.01, Schedule: "every_n", Frequency: 100}
	f.srv = NewServer(service.ServerConfig{Port: 0, ShutdownTimeout: time.Second}, base,
		func(trading service.TradingConfig) (TradeRunner, error) {
			f.trading = append(f.trading, trading)
			return f.runner, nil
		}, f.logs, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = f.srv.Stop(ctx)
	})
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.srv.Echo().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var resp struct {
		Status int `json:"status"`
		Data   T   `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, rec.Code, resp.Status)
	return resp.Data
}

func TestStartTradeLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/runs/current", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/api/start-trade", `{"schedule":"first_k","first_k":5}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	run := decode[Run](t, rec)
	_, err := uuid.Parse(run.ID)
	assert.NoError(t, err)
	assert.Equal(t, RunRunning, run.Status)
	assert.Equal(t, "manual", run.Label)

	require.Len(t, f.trading, 1)
	assert.Equal(t, "first_k", f.trading[0].Schedule)
	assert.Equal(t, 5, f.trading[0].FirstK)
	assert.Equal(t, 0.01, f.trading[0].Epsilon)

	// 已有运行时拒绝
	rec = f.do(http.MethodPost, "/api/start-trade", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, run.ID, decode[Run](t, rec).ID)

	close(f.runner.release)
	assert.Eventually(t, func() bool {
		cur, ok := f.srv.runs.snapshot()
		return ok && cur.Status == RunSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	rec = f.do(http.MethodGet, "/api/runs/current", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cur := decode[Run](t, rec)
	require.NotNil(t, cur.Summary)
	assert.Equal(t, 3, cur.Summary.Steps)
	assert.NotNil(t, cur.FinishedAt)

	rec = f.do(http.MethodGet, "/api/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	lines := decode[[]string](t, rec)
	assert.True(t, containsLine(lines, "simulating step"))
	assert.True(t, containsLine(lines, "Live run finished"))
}

func TestStartTradeValidation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/start-trade", `{"schedule":"sometimes","epsilon":0.7}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errs := decode[[]ValidationError](t, rec)
	codes := make([]string, len(errs))
	for i, e := range errs {
		codes[i] = e.Code
	}
	assert.ElementsMatch(t, []string{"ERR_ONEOF", "ERR_LT"}, codes)

	rec = f.do(http.MethodPost, "/api/start-trade", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.trading)
}

func TestFailedRunIsReported(t *testing.T) {
	f := newFixture(t)
	f.runner.err = errors.New("model artifact not found")

	rec := f.do(http.MethodPost, "/api/start-trade", `{"label":"nightly"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	close(f.runner.release)

	assert.Eventually(t, func() bool {
		cur, ok := f.srv.runs.snapshot()
		return ok && cur.Status == RunFailed
	}, 2*time.Second, 10*time.Millisecond)
	cur, _ := f.srv.runs.snapshot()
	assert.Equal(t, "nightly", cur.Label)
	assert.Contains(t, cur.Error, "artifact")

	// 失败后可以重新启动
	f.runner.release = make(chan struct{})
	f.runner.err = nil
	rec = f.do(http.MethodPost, "/api/start-trade", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	close(f.runner.release)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = f.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStreamLogs(t *testing.T) {
	f := newFixture(t)
	_, _ = f.logs.Write([]byte("backlog line\n"))

	ts := httptest.NewServer(f.srv.Echo())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/logs/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "backlog line", string(msg))

	_, _ = f.logs.Write([]byte("live line\n"))
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "live line", string(msg))
}

func TestApplyKeepsConfigForZeroFields(t *testing.T) {
	base := service.TradingConfig{InitialBalance: 1000, UnitSize: 1, Epsilon: 0.01, Schedule: "never", Frequency: 10}
	got := StartTradeRequest{UnitSize: 0.5}.Apply(base)
	assert.Equal(t, 0.5, got.UnitSize)
	assert.Equal(t, "never", got.Schedule)
	assert.Equal(t, 10, got.Frequency)
}

func containsLine(lines []string, substr string) bool {
	for _, l := range lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}
