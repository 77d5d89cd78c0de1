package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
)

// LocalClient 本地确定性嵌入
// 相同文本总是得到相同的单位向量，不调用任何外部服务，用于离线运行或外部服务失败时兜底
type LocalClient struct {
	dimensions int
}

// NewLocalClient 创建本地嵌入客户端
func NewLocalClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = 1024
	}
	return &LocalClient{dimensions: dims}, nil
}

// Name 返回模型名称
func (c *LocalClient) Name() string {
	return "local-hash"
}

// Embed 以文本哈希为种子生成向量
func (c *LocalClient) Embed(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float32, c.dimensions)
	var norm float64
	for i := range vec {
		v := rng.Float64()*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}

// EmbedBatch 批量生成向量
func (c *LocalClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		result[i] = vec
	}
	return result, nil
}

func init() {
	RegisterClient("local", NewLocalClient)
}
