package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"conflux-trader/internal/service"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server 是控制面：启动实盘模拟、查看日志、暴露指标
type Server struct {
	echo     *echo.Echo
	cfg      service.ServerConfig
	trading  service.TradingConfig
	factory  RunnerFactory
	logs     *service.LogBuffer
	runs     *runManager
	upgrader websocket.Upgrader
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(cfg service.ServerConfig, trading service.TradingConfig, factory RunnerFactory,
	logs *service.LogBuffer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if logs == nil {
		logs = service.NewLogBuffer(0)
	}
	ctx, cancel := context.WithCancel(context.Background())

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(recoverMiddleware(logger))
	e.Use(requestLogging(logger))

	s := &Server{
		echo:    e,
		cfg:     cfg,
		trading: trading,
		factory: factory,
		logs:    logs,
		runs:    &runManager{logger: logger},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	g := s.echo.Group("/api")
	g.POST("/start-trade", s.StartTrade)
	g.GET("/logs", s.Logs)
	g.GET("/logs/stream", s.StreamLogs)
	g.GET("/runs/current", s.CurrentRun)

	s.echo.GET("/health", s.Health)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// Echo 返回底层 Echo 实例
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start 阻塞直到服务器关闭
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.echo.Server.ReadTimeout = s.cfg.ReadTimeout
	s.echo.Server.WriteTimeout = s.cfg.WriteTimeout

	s.logger.Info("Control server listening", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop 1. 取消进行中的运行并等待其退出  2. 关闭 HTTP 服务
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	s.runs.wait()
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("Control server stopped")
	return nil
}

func (s *Server) StartTrade(c echo.Context) error {
	req := &StartTradeRequest{}
	if verrs := readAndValidateRequest(c, req); verrs != nil {
		return dataResponse(c, http.StatusBadRequest, verrs)
	}

	trading := req.Apply(s.trading)
	runner, err := s.factory(trading)
	if err != nil {
		s.logger.Error("Build trade runner failed", zap.Error(err))
		return dataResponse(c, http.StatusUnprocessableEntity, err.Error())
	}
	if req.ResetLogs != nil && *req.ResetLogs {
		if cur, ok := s.runs.snapshot(); !ok || cur.Status != RunRunning {
			s.logs.Reset()
		}
	}

	run, err := s.runs.start(s.ctx, req.Label, trading, runner)
	if errors.Is(err, ErrRunActive) {
		return dataResponse(c, http.StatusConflict, run)
	}
	if err != nil {
		return dataResponse(c, http.StatusInternalServerError, err.Error())
	}
	return dataResponse(c, http.StatusAccepted, run)
}

func (s *Server) Logs(c echo.Context) error {
	return dataResponse(c, http.StatusOK, s.logs.Lines())
}

func (s *Server) CurrentRun(c echo.Context) error {
	run, ok := s.runs.snapshot()
	if !ok {
		return dataResponse(c, http.StatusNotFound, "no live run has been started")
	}
	return dataResponse(c, http.StatusOK, run)
}

func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// StreamLogs 先推送已有日志，再持续推送新行，直到客户端断开或服务关闭
func (s *Server) StreamLogs(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return nil
	}
	defer conn.Close()

	backlog, lines, cancel := s.logs.Follow(256)
	defer cancel()

	// 读循环只用于感知客户端关闭
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(line string) error {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, []byte(line))
	}
	for _, line := range backlog {
		if err := send(line); err != nil {
			return nil
		}
	}

	for {
		select {
		case <-closed:
			return nil
		case <-s.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := send(line); err != nil {
				return nil
			}
		}
	}
}
