package embedding

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Client 文本向量化客户端
// 同一个Client生成的向量维度固定，写入向量库前由vectordb校验
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch 结果与输入一一对应
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// Config 客户端配置，各提供方只读取自己用到的字段
type Config struct {
	APIKey     string
	BaseURL    string // astra为数据库API端点
	Model      string
	Timeout    time.Duration
	MaxRetries int
	Dimensions int
	BatchSize  int // 0表示不限制
}

// Option 配置选项
type Option func(*Config)

func WithAPIKey(key string) Option { return func(c *Config) { c.APIKey = key } }
func WithBaseURL(url string) Option { return func(c *Config) { c.BaseURL = url } }
func WithModel(model string) Option { return func(c *Config) { c.Model = model } }
func WithTimeout(d time.Duration) Option { return func(c *Config) { c.Timeout = d } }
func WithMaxRetries(retries int) Option { return func(c *Config) { c.MaxRetries = retries } }

// WithDimensions 为0时请求中不携带维度参数
func WithDimensions(dimensions int) Option { return func(c *Config) { c.Dimensions = dimensions } }

// WithBatchSize 设置单次请求的最大文本数
func WithBatchSize(size int) Option { return func(c *Config) { c.BatchSize = size } }

// DefaultConfig 默认维度与text-embedding-3-small一致
func DefaultConfig() *Config {
	return &Config{
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		Dimensions: 1536,
		BatchSize:  64,
	}
}

// NewConfig 在默认配置上应用选项
func NewConfig(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// retry 执行fn，遇到可重试错误时按100ms、200ms、400ms...退避
func retry(ctx context.Context, retries int, fn func() error) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(1<<(attempt-1)) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return NewEmbeddingError(ErrCodeTimeout, ctx.Err().Error())
			case <-time.After(wait):
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
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// RegisterClient 注册提供方，init中调用
func RegisterClient(name string, factory Factory) {
	factoriesMu.Lock()
	factories[name] = factory
	factoriesMu.Unlock()
}

// NewClient 按提供方名称创建客户端
func NewClient(name string, opts ...Option) (Client, error) {
	factoriesMu.RLock()
	factory, ok := factories[name]
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	factoriesMu.RUnlock()

	if !ok {
		sort.Strings(names)
		return nil, NewEmbeddingError(ErrCodeInvalidRequest,
			fmt.Sprintf("unknown embedding provider %q (available: %s)", name, strings.Join(names, ", ")))
	}
	return factory(opts...)
}
