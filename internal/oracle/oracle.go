package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"conflux-trader/internal/metrics"
	"conflux-trader/internal/model"
	"conflux-trader/pkg/httpclient"

	"go.uber.org/zap"
)

// ErrUnavailable 表示没有可用的顾问 (未配置或初始化失败)
var ErrUnavailable = errors.New("oracle unavailable")

const SystemPrompt = "You are a crypto trading agent making decisions based on market data."

// Request 是一次咨询的输入
type Request struct {
	Price       float64
	Probability float64
	Step        int
}

// Prompt 构造发给语言模型的用户消息
func (r Request) Prompt() string {
	return fmt.Sprintf("Market data: Current price is $%.2f. "+
		"The global model predicted a probability of %.4f for a price increase. "+
		"Based on this, should I 'buy', 'sell', or 'hold'? Respond with a single word.",
		r.Price, r.Probability)
}

// Advisor 返回顾问的原始回复文本，由调用方解析
type Advisor interface {
	Advise(ctx context.Context, req Request) (string, error)
}

// Unavailable 是显式的 "没有顾问" 结果
type Unavailable struct {
	Reason string
}

func (u Unavailable) Advise(context.Context, Request) (string, error) {
	if u.Reason == "" {
		return "", ErrUnavailable
	}
	return "", fmt.Errorf("%w: %s", ErrUnavailable, u.Reason)
}

// ParseAdvice 去掉首尾空白、忽略大小写后必须恰好是 buy/sell/hold
func ParseAdvice(reply string) (model.Action, bool) {
	return model.ParseAction(reply)
}

// Config 顾问连接参数
type Config struct {
	Enabled     bool
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float64
	Timeout     time.Duration
}

// New 根据配置构造顾问，未启用或初始化失败时返回 Unavailable
func New(cfg Config, logger *zap.Logger) Advisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		return Unavailable{Reason: "disabled"}
	}
	client, err := NewChatClient(cfg, logger)
	if err != nil {
		logger.Warn("Oracle init failed, decisions will use threshold fallback", zap.Error(err))
		return Unavailable{Reason: err.Error()}
	}
	return client
}

// ChatClient 调用 Ollama 风格的 POST {base}/api/chat (stream=false)
type ChatClient struct {
	baseURL     string
	model       string
	temperature float64
	http        *httpclient.Client
	logger      *zap.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Error   string      `json:"error"`
}

func NewChatClient(cfg Config, logger *zap.Logger) (*ChatClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("oracle base url is empty")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("oracle model is empty")
	}
	opts := []httpclient.ClientOption{}
	if cfg.Timeout > 0 {
		opts = append(opts, httpclient.WithTimeout(cfg.Timeout))
	}
	if cfg.APIKey != "" {
		opts = append(opts, httpclient.WithHeader("Authorization", "Bearer "+cfg.APIKey))
	}
	return &ChatClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		http:        httpclient.NewClient(opts...),
		logger:      logger,
	}, nil
}

func (c *ChatClient) Advise(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	defer func() { metrics.OracleLatency.Observe(time.Since(start).Seconds()) }()

	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: req.Prompt()},
		},
		Stream:  false,
		Options: map[string]any{"temperature": c.temperature},
	}

	var resp chatResponse
	err := c.http.SendAndParse(ctx, &httpclient.RequestOptions{
		Method: "POST",
		URL:    c.baseURL + "/api/chat",
		Body:   body,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("oracle chat: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("oracle chat: %s", resp.Error)
	}

	c.logger.Debug("Oracle replied", zap.Int("step", req.Step), zap.String("reply", resp.Message.Content))
	return resp.Message.Content, nil
}
