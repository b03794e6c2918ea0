// Package llm 封装对话模型的创建、出站节流以及 JSON 输出的重试解析。
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"

	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/config"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/logger"
)

// ErrMalformed 模型输出无法解析为预期的 JSON
var ErrMalformed = errors.New("malformed model output")

// Usage token 用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Add 累加用量
func (u *Usage) Add(o Usage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
}

// Cost 按每千 token 价格估算费用
func (u Usage) Cost(promptPer1K, completionPer1K float64) float64 {
	return float64(u.PromptTokens)/1000*promptPer1K + float64(u.CompletionTokens)/1000*completionPer1K
}

// NewChatModel 创建 OpenAI 兼容的对话模型（Ollama、vLLM 等本地服务同样适用）
func NewChatModel(ctx context.Context, cfg config.LLMConfig) (model.BaseChatModel, error) {
	maxTokens := cfg.MaxTokens
	temperature := cfg.Temperature
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
		Timeout:     cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM 初始化失败: %w", err)
	}
	return cm, nil
}

// NewLimiter Limit 设置为 RPM/60，Burst 设置为 QPS
func NewLimiter(qps, rpm int) *rate.Limiter {
	if rpm <= 0 {
		rpm = 60
	}
	if qps <= 0 {
		qps = 1
	}
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), qps)
}

// Caller 带节流与重试的 JSON 调用器
type Caller struct {
	cm         model.BaseChatModel
	limiter    *rate.Limiter
	maxRetries int
	baseDelay  time.Duration
}

// CallerOption 配置 Caller
type CallerOption func(*Caller)

// WithRetry 设置重试次数与首次退避时间
func WithRetry(maxRetries int, baseDelay time.Duration) CallerOption {
	return func(c *Caller) {
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
	}
}

// NewCaller 创建调用器，limiter 可以为 nil
func NewCaller(cm model.BaseChatModel, limiter *rate.Limiter, opts ...CallerOption) *Caller {
	c := &Caller{cm: cm, limiter: limiter, maxRetries: 3, baseDelay: 2 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateJSON 发送 system/user 两条消息，把模型输出解析到 out。
// 遇到 429 时指数退避重试，输出不是合法 JSON 时直接重试。返回所有尝试累计的 token 用量。
func (c *Caller) GenerateJSON(ctx context.Context, system, user string, out any) (Usage, error) {
	var usage Usage
	var lastErr error

	for i := 0; i <= c.maxRetries; i++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return usage, err
			}
		}

		messages := []*schema.Message{
			schema.SystemMessage(system),
			schema.UserMessage(user),
		}

		resp, err := c.cm.Generate(ctx, messages)
		if err != nil {
			if isRateLimited(err) {
				lastErr = err
				if i < c.maxRetries {
					if err := sleep(ctx, c.baseDelay*time.Duration(1<<i)); err != nil {
						return usage, err
					}
					continue
				}
			}
			return usage, err
		}
		usage.Add(usageOf(resp))

		if err := json.Unmarshal([]byte(StripFence(resp.Content)), out); err != nil {
			logger.Log.Debugf("模型输出无法解析 (第 %d 次): %v", i+1, err)
			lastErr = fmt.Errorf("%w: %v", ErrMalformed, err)
			continue
		}
		return usage, nil
	}
	return usage, fmt.Errorf("failed after retries: %w", lastErr)
}

// StripFence 去掉模型输出外层的 markdown 代码块
func StripFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func isRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "too many requests")
}

func usageOf(m *schema.Message) Usage {
	if m == nil || m.ResponseMeta == nil || m.ResponseMeta.Usage == nil {
		return Usage{}
	}
	return Usage{
		PromptTokens:     m.ResponseMeta.Usage.PromptTokens,
		CompletionTokens: m.ResponseMeta.Usage.CompletionTokens,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
