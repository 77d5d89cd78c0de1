package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultAstraModel      = "nv-embed-qa"
	astraEmbeddingEndpoint = "/api/embeddings/text"
)

// AstraClient 调用Astra DB托管嵌入接口的客户端
// 接口每次只接受一条文本
type AstraClient struct {
	endpoint   string
	token      string
	model      string
	httpClient *http.Client
	maxRetries int
}

type astraEmbeddingRequest struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

type astraEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewAstraClient 创建Astra嵌入客户端，BaseURL为数据库API端点
func NewAstraClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)
	if cfg.APIKey == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}
	if cfg.BaseURL == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidRequest, "astra api endpoint is required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultAstraModel
	}

	return &AstraClient{
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + astraEmbeddingEndpoint,
		token:      cfg.APIKey,
		model:      model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
	}, nil
}

// Name 返回模型名称
func (c *AstraClient) Name() string {
	return c.model
}

// Embed 生成单条文本的向量表示
func (c *AstraClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	}

	var resp astraEmbeddingResponse
	if err := c.sendRequest(ctx, astraEmbeddingRequest{Text: text, Model: c.model}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, NewEmbeddingError(ErrCodeServerError, "no embedding returned")
	}
	return resp.Embedding, nil
}

// EmbedBatch 逐条调用Embed
func (c *AstraClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		result = append(result, vec)
	}
	return result, nil
}

// sendRequest 发送请求并解析响应，5xx与网络错误会重试
func (c *AstraClient) sendRequest(ctx context.Context, reqData interface{}, respObj interface{}) error {
	jsonData, err := json.Marshal(reqData)
	if err != nil {
		return NewEmbeddingError(ErrCodeInvalidRequest, fmt.Sprintf("failed to marshal request: %v", err))
	}

	return retry(ctx, c.maxRetries, func() error {
		return c.do(ctx, jsonData, respObj)
	})
}

func (c *AstraClient) do(ctx context.Context, body []byte, respObj interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return NewEmbeddingError(ErrCodeInvalidRequest, fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-cassandra-token", c.token)
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return NewEmbeddingError(ErrCodeTimeout, err.Error())
		}
		return NewEmbeddingError(ErrCodeNetworkError, fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewEmbeddingError(ErrCodeServerError, fmt.Sprintf("failed to read response: %v", err))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return NewEmbeddingError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewEmbeddingError(ErrCodeRateLimited, ErrMsgRateLimited)
	case resp.StatusCode >= 500:
		return NewEmbeddingError(ErrCodeServerError,
			fmt.Sprintf("API error (status %d): %s", resp.StatusCode, string(data)))
	case resp.StatusCode != http.StatusOK:
		return NewEmbeddingError(ErrCodeInvalidRequest,
			fmt.Sprintf("API error (status %d): %s", resp.StatusCode, string(data)))
	}

	if err := json.Unmarshal(data, respObj); err != nil {
		return NewEmbeddingError(ErrCodeServerError, fmt.Sprintf("failed to parse response: %v", err))
	}
	return nil
}

func init() {
	RegisterClient("astra", NewAstraClient)
}
