package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "text-embedding-3-small"

// OpenAIClient OpenAI兼容接口的嵌入客户端
type OpenAIClient struct {
	client     *openai.Client
	model      string
	dimensions int
	maxRetries int
	batchSize  int
}

// NewOpenAIClient 创建一个新的OpenAI嵌入客户端
func NewOpenAIClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)
	if cfg.APIKey == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenAIClient{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      model,
		dimensions: cfg.Dimensions,
		maxRetries: cfg.MaxRetries,
		batchSize:  cfg.BatchSize,
	}, nil
}

// Name 返回模型名称
func (c *OpenAIClient) Name() string {
	return c.model
}

// Embed 对单个文本生成嵌入向量
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	}

	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, NewEmbeddingError(ErrCodeServerError, "no embedding vectors returned")
	}
	return vectors[0], nil
}

// EmbedBatch 对多个文本生成嵌入向量，结果顺序与输入一致
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if c.batchSize > 0 && len(texts) > c.batchSize {
		return nil, NewEmbeddingError(ErrCodeInvalidRequest,
			fmt.Sprintf("batch of %d exceeds limit %d", len(texts), c.batchSize))
	}
	for _, t := range texts {
		if t == "" {
			return nil, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
		}
	}

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.model),
	}
	// 仅text-embedding-3系列支持自定义维度
	if c.dimensions > 0 && c.model != string(openai.AdaEmbeddingV2) {
		req.Dimensions = c.dimensions
	}

	result := make([][]float32, len(texts))
	err := retry(ctx, c.maxRetries, func() error {
		resp, err := c.client.CreateEmbeddings(ctx, req)
		if err != nil {
			return mapOpenAIError(err)
		}
		for _, item := range resp.Data {
			if item.Index >= 0 && item.Index < len(texts) {
				result[item.Index] = item.Embedding
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// mapOpenAIError 将SDK错误转换为带错误码的嵌入错误
func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusUnauthorized:
			return NewEmbeddingError(ErrCodeInvalidAPIKey, apiErr.Message)
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return NewEmbeddingError(ErrCodeRateLimited, apiErr.Message)
		case apiErr.HTTPStatusCode >= 500:
			return NewEmbeddingError(ErrCodeServerError, apiErr.Message)
		default:
			return NewEmbeddingError(ErrCodeInvalidRequest, apiErr.Message)
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode >= 500 {
			return NewEmbeddingError(ErrCodeServerError, reqErr.Error())
		}
		return NewEmbeddingError(ErrCodeInvalidRequest, reqErr.Error())
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewEmbeddingError(ErrCodeTimeout, err.Error())
	}
	return NewEmbeddingError(ErrCodeNetworkError, err.Error())
}

func init() {
	RegisterClient("openai", NewOpenAIClient)
}
