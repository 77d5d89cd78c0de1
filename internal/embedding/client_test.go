package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyerfyer/pdf-QA-system/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newOpenAIServer 模拟OpenAI embeddings接口
func newOpenAIServer(t *testing.T, status int) (*httptest.Server, *int32) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		data := make([]map[string]interface{}, 0, len(req.Input))
		// 倒序返回，验证按index还原顺序
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]interface{}{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(i), 0.5},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   data,
			"model":  req.Model,
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestOpenAIClient(t *testing.T) {
	srv, _ := newOpenAIServer(t, http.StatusOK)

	client, err := NewClient("openai",
		WithAPIKey("test-key"),
		WithBaseURL(srv.URL+"/v1"),
		WithDimensions(0),
	)
	require.NoError(t, err)
	assert.Equal(t, defaultOpenAIModel, client.Name())

	vec, err := client.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0.5}, vec)

	vecs, err := client.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(2), vecs[2][0])
}

func TestOpenAIClientErrors(t *testing.T) {
	_, err := NewOpenAIClient()
	var e EmbeddingError
	require.True(t, errors.As(err, &e))
	assert.Equal(t, ErrCodeInvalidAPIKey, e.Code)

	srv, calls := newOpenAIServer(t, http.StatusInternalServerError)
	client, err := NewOpenAIClient(
		WithAPIKey("test-key"),
		WithBaseURL(srv.URL+"/v1"),
		WithMaxRetries(1),
	)
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "hello")
	require.Error(t, err)
	require.True(t, errors.As(err, &e))
	assert.Equal(t, ErrCodeServerError, e.Code)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))

	_, err = client.Embed(context.Background(), "")
	require.True(t, errors.As(err, &e))
	assert.Equal(t, ErrCodeEmptyInput, e.Code)
}

func TestAstraClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings/text", r.URL.Path)
		assert.Equal(t, "AstraCS:token", r.Header.Get("x-cassandra-token"))

		var req astraEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nv-embed-qa", req.Model)
		if req.Text == "fail" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(astraEmbeddingResponse{Embedding: []float32{1, 2, 3}})
	}))
	defer srv.Close()

	client, err := NewClient("astra",
		WithAPIKey("AstraCS:token"),
		WithBaseURL(srv.URL+"/"),
		WithTimeout(5*time.Second),
	)
	require.NoError(t, err)

	vec, err := client.Embed(context.Background(), "soru")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vec)

	vecs, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)

	_, err = client.Embed(context.Background(), "fail")
	var e EmbeddingError
	require.True(t, errors.As(err, &e))
	assert.Equal(t, ErrCodeInvalidRequest, e.Code)
}

func TestLocalClientDeterministic(t *testing.T) {
	client, err := NewClient("local", WithDimensions(32))
	require.NoError(t, err)

	a, err := client.Embed(context.Background(), "vida çapı")
	require.NoError(t, err)
	b, err := client.Embed(context.Background(), "vida çapı")
	require.NoError(t, err)
	c, err := client.Embed(context.Background(), "başka metin")
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	var norm float32
	for _, v := range a {
		norm += v * v
	}
	assert.InDelta(t, 1.0, norm, 1e-4)
}

func TestNewClientUnknown(t *testing.T) {
	_, err := NewClient("nope")
	var e EmbeddingError
	require.True(t, errors.As(err, &e))
	assert.Equal(t, ErrCodeInvalidRequest, e.Code)
	assert.Contains(t, e.Message, "local")
}

// stubClient 计数的测试客户端
type stubClient struct {
	calls int
	err   error
}

func (s *stubClient) Embed(_ context.Context, _ string) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return []float32{0.1, 0.2}, nil
}

func (s *stubClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubClient) Name() string { return "stub" }

func TestCachedClient(t *testing.T) {
	c, err := cache.NewMemoryCache(cache.DefaultConfig())
	require.NoError(t, err)

	stub := &stubClient{}
	client := NewCachedClient(stub, c, time.Minute)

	for i := 0; i < 3; i++ {
		vec, err := client.Embed(context.Background(), "same text")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.1, 0.2}, vec)
	}
	assert.Equal(t, 1, stub.calls)
	assert.Equal(t, "stub", client.Name())
}

func TestFallbackClient(t *testing.T) {
	primary := &stubClient{err: NewEmbeddingError(ErrCodeServerError, "down")}
	secondary, _ := NewLocalClient(WithDimensions(8))
	client := NewFallbackClient(primary, secondary, nil)

	vec, err := client.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Len(t, vec, 8)

	primary.err = NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	_, err = client.Embed(context.Background(), "")
	assert.Error(t, err)

	primary.err = NewEmbeddingError(ErrCodeServerError, "down")
	vecs, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
}
