package service

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 是全局日志接口
// 在其他模块中使用：service.Logger.Info("backtest finished", zap.String("strategy", name))
var Logger = zap.NewNop()

// InitLogger 初始化高性能的 Zap 日志
// extra 中的 Core 会与标准输出 Core 组成 Tee (例如控制面的日志缓冲)
func InitLogger(level string, extra ...zapcore.Core) error {
	config := zap.NewProductionConfig()

	// 格式化时间
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.TimeKey = "time"

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	config.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := config.Build(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		if len(extra) == 0 {
			return core
		}
		return zapcore.NewTee(append([]zapcore.Core{core}, extra...)...)
	}))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	Logger = logger
	return nil
}

// NewBufferCore 把日志以控制台格式写入 LogBuffer，供控制面查询和推送
func NewBufferCore(buf *LogBuffer, level zapcore.LevelEnabler) zapcore.Core {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.TimeKey = "time"
	encCfg.CallerKey = ""
	return zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(buf), level)
}
