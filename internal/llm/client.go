package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Client 对话模型客户端
type Client interface {
	// Generate 单条提示词，等价于只有一条用户消息的Chat
	Generate(ctx context.Context, prompt string, options ...GenerateOption) (*Response, error)
	Chat(ctx context.Context, messages []Message, options ...GenerateOption) (*Response, error)
	// Name 模型名，写入问答记录
	Name() string
}

// Config 客户端配置
type Config struct {
	APIKey      string
	BaseURL     string // 为空时使用官方地址
	Model       string
	Timeout     time.Duration
	MaxRetries  int
	MaxTokens   int
	Temperature float32
}

// DefaultConfig 默认使用gpt-3.5-turbo，与问答界面原有行为一致
func DefaultConfig() *Config {
	return &Config{
		Model:       ModelGPT35Turbo,
		Timeout:     60 * time.Second,
		MaxRetries:  2,
		MaxTokens:   1024,
		Temperature: 0.3,
	}
}

// Option 配置选项
type Option func(*Config)

func WithAPIKey(key string) Option { return func(c *Config) { c.APIKey = key } }
func WithBaseURL(url string) Option { return func(c *Config) { c.BaseURL = url } }
func WithTimeout(d time.Duration) Option { return func(c *Config) { c.Timeout = d } }
func WithMaxTokens(tokens int) Option { return func(c *Config) { c.MaxTokens = tokens } }
func WithTemperature(temp float32) Option { return func(c *Config) { c.Temperature = temp } }
func WithMaxRetries(retries int) Option { return func(c *Config) { c.MaxRetries = retries } }

// WithModel 空字符串保留默认模型
func WithModel(model string) Option {
	return func(c *Config) {
		if model != "" {
			c.Model = model
		}
	}
}

// NewConfig 在默认配置上应用选项
func NewConfig(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return cfg
}

// GenerateOption 单次请求的覆盖项
type GenerateOption func(*GenerateOptions)

// GenerateOptions nil字段沿用客户端配置
type GenerateOptions struct {
	MaxTokens   *int
	Temperature *float32
}

func WithGenerateMaxTokens(tokens int) GenerateOption {
	return func(o *GenerateOptions) { o.MaxTokens = &tokens }
}

func WithGenerateTemperature(temp float32) GenerateOption {
	return func(o *GenerateOptions) { o.Temperature = &temp }
}

// resolve 合并单次请求选项，返回实际的最大Token数和温度
func (c *Config) resolve(options []GenerateOption) (int, float32) {
	o := &GenerateOptions{}
	for _, opt := range options {
		opt(o)
	}
	maxTokens, temperature := c.MaxTokens, c.Temperature
	if o.MaxTokens != nil {
		maxTokens = *o.MaxTokens
	}
	if o.Temperature != nil {
		temperature = *o.Temperature
	}
	return maxTokens, temperature
}

// retry 对可重试错误做指数退避，最多额外尝试retries次
func retry(ctx context.Context, retries int, fn func() error) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return NewLLMError(ErrCodeTimeout, ctx.Err().Error())
			case <-time.After(time.Duration(1<<attempt) * 100 * time.Millisecond):
			}
		}
		if err = fn(); err == nil || !IsRetryable(err) {
			return err
		}
	}
	return err
}

// Factory 按配置选项构造客户端
type Factory func(opts ...Option) (Client, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// RegisterClient 注册提供方，同名覆盖
func RegisterClient(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Providers 已注册的提供方名称
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewClient 按提供方名称创建客户端
func NewClient(name string, opts ...Option) (Client, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, NewLLMError(ErrCodeInvalidRequest,
			fmt.Sprintf("unknown llm provider %q (available: %s)", name, strings.Join(Providers(), ", ")))
	}
	return factory(opts...)
}
