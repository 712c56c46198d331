package server

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"conflux-trader/internal/metrics"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func recoverMiddleware(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Handler panic",
						zap.String("path", c.Path()),
						zap.String("panic", fmt.Sprint(r)),
						zap.ByteString("stack", debug.Stack()))
					err = dataResponse(c, http.StatusInternalServerError, nil)
				}
			}()
			return next(c)
		}
	}
}

// requestLogging 记录请求日志并按路由统计
func requestLogging(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req, res := c.Request(), c.Response()
			metrics.HTTPRequests.WithLabelValues(req.Method, c.Path(), strconv.Itoa(res.Status)).Inc()
			logger.Debug("HTTP request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.String("remote", req.RemoteAddr),
				zap.Int("status", res.Status),
				zap.Duration("latency", time.Since(start)))
			return nil
		}
	}
}
