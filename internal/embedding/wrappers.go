package embedding

import (
	"context"
	"time"

	"github.com/fyerfyer/pdf-QA-system/internal/cache"
	"github.com/sirupsen/logrus"
)

// CachedClient 为嵌入结果增加缓存
type CachedClient struct {
	Client
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedClient 包装一个带缓存的嵌入客户端
func NewCachedClient(client Client, c cache.Cache, ttl time.Duration) *CachedClient {
	return &CachedClient{Client: client, cache: c, ttl: ttl}
}

// Embed 优先从缓存读取向量，缓存错误不影响主流程
func (c *CachedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cache.GenerateCacheKey("embed", c.Client.Name(), text)

	var vec []float32
	if found, err := cache.GetJSON(ctx, c.cache, key, &vec); err == nil && found && len(vec) > 0 {
		return vec, nil
	}

	vec, err := c.Client.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	_ = cache.SetJSON(ctx, c.cache, key, vec, c.ttl)
	return vec, nil
}

// FallbackClient 主客户端失败时改用备用客户端
type FallbackClient struct {
	primary   Client
	secondary Client
	logger    *logrus.Logger
}

// NewFallbackClient 创建带兜底的嵌入客户端
func NewFallbackClient(primary, secondary Client, logger *logrus.Logger) *FallbackClient {
	if logger == nil {
		logger = logrus.New()
	}
	return &FallbackClient{primary: primary, secondary: secondary, logger: logger}
}

// Name 返回主模型名称
func (c *FallbackClient) Name() string {
	return c.primary.Name()
}

// Embed 生成向量，主客户端报错且非空输入时使用备用客户端
func (c *FallbackClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := c.primary.Embed(ctx, text)
	if err == nil {
		return vec, nil
	}
	if e, ok := err.(EmbeddingError); ok && e.Code == ErrCodeEmptyInput {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"model":    c.primary.Name(),
		"fallback": c.secondary.Name(),
		"error":    err.Error(),
	}).Warn("Embedding failed, using fallback client")
	return c.secondary.Embed(ctx, text)
}

// EmbedBatch 批量生成向量
func (c *FallbackClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := c.primary.EmbedBatch(ctx, texts)
	if err == nil {
		return vecs, nil
	}
	c.logger.WithFields(logrus.Fields{
		"model": c.primary.Name(),
		"count": len(texts),
		"error": err.Error(),
	}).Warn("Batch embedding failed, using fallback client")
	return c.secondary.EmbedBatch(ctx, texts)
}
