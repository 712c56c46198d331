// internal/service/config.go
package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Data     DataConfig     `mapstructure:"data"`
	Training TrainingConfig `mapstructure:"training"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Artifact ArtifactConfig `mapstructure:"artifact"`
	Server   ServerConfig   `mapstructure:"server"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// DataConfig 定义了行情数据来源
type DataConfig struct {
	Coin       string        `mapstructure:"coin" validate:"required"`
	VsCurrency string        `mapstructure:"vs_currency" validate:"required"`
	Days       int           `mapstructure:"days" validate:"gt=0"`
	Interval   string        `mapstructure:"interval" validate:"required"`
	Dir        string        `mapstructure:"dir" validate:"required"`
	BaseURL    string        `mapstructure:"base_url" validate:"required,url"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Cache      CacheConfig   `mapstructure:"cache"`
}

// CacheConfig 行情缓存 (Redis)，关闭时使用内存缓存
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	TTL      time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

// TrainingConfig 定义了本地训练和回测的参数
type TrainingConfig struct {
	Window          int     `mapstructure:"window" validate:"gte=1"`
	Epochs          int     `mapstructure:"epochs" validate:"gte=1"`
	BatchSize       int     `mapstructure:"batch_size" validate:"gte=1"`
	LearningRate    float64 `mapstructure:"learning_rate" validate:"gt=0"`
	Hidden          int     `mapstructure:"hidden" validate:"gte=1"`
	Seed            int64   `mapstructure:"seed"`
	TrainRatio      float64 `mapstructure:"train_ratio" validate:"gt=0,lt=1"`
	BacktestRatio   float64 `mapstructure:"backtest_ratio" validate:"gt=0,lte=1"`
	MinBacktestRows int     `mapstructure:"min_backtest_rows" validate:"gte=1"`
	InitialBalance  float64 `mapstructure:"initial_balance" validate:"gt=0"`
	Parallelism     int     `mapstructure:"parallelism" validate:"gte=1"`
	Episodes        bool    `mapstructure:"episodes"`
}

// TradingConfig 定义了实盘模拟的决策参数
type TradingConfig struct {
	InitialBalance float64 `mapstructure:"initial_balance" json:"initial_balance" validate:"gt=0"`
	UnitSize       float64 `mapstructure:"unit_size" json:"unit_size" validate:"gt=0"`
	Epsilon        float64 `mapstructure:"epsilon" json:"epsilon" validate:"gt=0,lt=0.5"`
	Schedule       string  `mapstructure:"schedule" json:"schedule" validate:"oneof=every_n first_k never"`
	Frequency      int     `mapstructure:"frequency" json:"frequency" validate:"gte=1"`
	FirstK         int     `mapstructure:"first_k" json:"first_k" validate:"gte=0"`
}

// OracleConfig 定义了语言模型顾问的连接信息
type OracleConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	Temperature float64       `mapstructure:"temperature" validate:"gte=0"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type ArtifactConfig struct {
	Path      string `mapstructure:"path" validate:"required"`
	UploadURL string `mapstructure:"upload_url" validate:"omitempty,url"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("data.coin", "bitcoin")
	v.SetDefault("data.vs_currency", "usd")
	v.SetDefault("data.days", 365)
	v.SetDefault("data.interval", "1d")
	v.SetDefault("data.dir", "data")
	v.SetDefault("data.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("data.timeout", 15*time.Second)
	v.SetDefault("data.cache.enabled", false)
	v.SetDefault("data.cache.addr", "localhost:6379")
	v.SetDefault("data.cache.password", "")
	v.SetDefault("data.cache.db", 0)
	v.SetDefault("data.cache.ttl", time.Hour)

	v.SetDefault("training.window", 10)
	v.SetDefault("training.epochs", 30)
	v.SetDefault("training.batch_size", 32)
	v.SetDefault("training.learning_rate", 0.001)
	v.SetDefault("training.hidden", 32)
	v.SetDefault("training.seed", 42)
	v.SetDefault("training.train_ratio", 0.8)
	v.SetDefault("training.backtest_ratio", 0.8)
	v.SetDefault("training.min_backtest_rows", 50)
	v.SetDefault("training.initial_balance", 100000.0)
	v.SetDefault("training.parallelism", 1)
	v.SetDefault("training.episodes", true)

	v.SetDefault("trading.initial_balance", 100000.0)
	v.SetDefault("trading.unit_size", 1.0)
	v.SetDefault("trading.epsilon", 0.01)
	v.SetDefault("trading.schedule", "every_n")
	v.SetDefault("trading.frequency", 100)
	v.SetDefault("trading.first_k", 0)

	v.SetDefault("oracle.enabled", false)
	v.SetDefault("oracle.base_url", "http://localhost:11434")
	v.SetDefault("oracle.model", "llama3")
	v.SetDefault("oracle.api_key", "")
	v.SetDefault("oracle.temperature", 0.7)
	v.SetDefault("oracle.timeout", 10*time.Second)

	v.SetDefault("artifact.path", "models/global_model.json")
	v.SetDefault("artifact.upload_url", "")

	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
}

// LoadConfig 读取并解析配置文件
// 1. 加载 .env (可选)  2. 默认值  3. config.yaml (可选)  4. CONFLUX_ 环境变量覆盖  5. 校验
func LoadConfig(configPath string) (*Config, error) {
	envFile := filepath.Join(configPath, "..", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config") // 文件名是 config
	v.SetConfigType("yaml")   // 文件类型是 yaml
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("CONFLUX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// 没有配置文件时只用默认值和环境变量
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 按 struct tag 校验配置
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
