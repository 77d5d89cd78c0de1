package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// AstraRepository 通过REST接口访问Astra DB集合
// 文档读写走 /api/json/v1，相似度查询走 /api/vectordb/v1
type AstraRepository struct {
	endpoint   string
	token      string
	namespace  string
	collection string
	dimension  int
	httpClient *http.Client
}

// AstraError 非预期的HTTP状态
type AstraError struct {
	StatusCode int
	Body       string
}

func (e *AstraError) Error() string {
	return fmt.Sprintf("astra request failed (status %d): %s", e.StatusCode, e.Body)
}

// NewAstraRepository 创建Astra仓库
func NewAstraRepository(config Config) (Repository, error) {
	if config.Endpoint == "" || config.Token == "" {
		return nil, fmt.Errorf("astra endpoint and token are required")
	}
	namespace := config.Namespace
	if namespace == "" {
		namespace = "default_keyspace"
	}
	collection := config.Collection
	if collection == "" {
		collection = "pdf_data"
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}

	return &AstraRepository{
		endpoint:   strings.TrimRight(config.Endpoint, "/"),
		token:      config.Token,
		namespace:  namespace,
		collection: collection,
		dimension:  config.Dimension,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (r *AstraRepository) collectionURL() string {
	return fmt.Sprintf("%s/api/json/v1/%s/%s", r.endpoint, r.namespace, r.collection)
}

func (r *AstraRepository) documentURL(id string) string {
	return r.collectionURL() + "/" + url.PathEscape(id)
}

func (r *AstraRepository) queryURL() string {
	return fmt.Sprintf("%s/api/vectordb/v1/%s/%s/query", r.endpoint, r.namespace, r.collection)
}

// do 发送请求，返回状态码和响应体
func (r *AstraRepository) do(ctx context.Context, method, target string, payload interface{}) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("x-cassandra-token", r.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("astra request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// Exists GET文档，200表示存在
func (r *AstraRepository) Exists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrInvalidID
	}
	status, body, err := r.do(ctx, http.MethodGet, r.documentURL(id), nil)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound, http.StatusNoContent:
		return false, nil
	default:
		return false, &AstraError{StatusCode: status, Body: string(body)}
	}
}

// Insert POST到集合，201或200视为成功
func (r *AstraRepository) Insert(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return ErrInvalidID
	}
	if len(rec.Vector) > 0 {
		if err := ValidateVector(rec.Vector, r.dimension); err != nil {
			return err
		}
	}

	status, body, err := r.do(ctx, http.MethodPost, r.collectionURL(), rec)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusCreated, http.StatusOK:
		return nil
	case http.StatusConflict:
		return ErrAlreadyExists
	default:
		return &AstraError{StatusCode: status, Body: string(body)}
	}
}

// Get 读取文档，兼容直接返回文档和包在data字段中的两种格式
func (r *AstraRepository) Get(ctx context.Context, id string) (Record, error) {
	status, body, err := r.do(ctx, http.MethodGet, r.documentURL(id), nil)
	if err != nil {
		return Record{}, err
	}
	if status == http.StatusNotFound || status == http.StatusNoContent {
		return Record{}, ErrRecordNotFound
	}
	if status != http.StatusOK {
		return Record{}, &AstraError{StatusCode: status, Body: string(body)}
	}

	var wrapped struct {
		Data *Record `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Data != nil && wrapped.Data.ID != "" {
		return *wrapped.Data, nil
	}

	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to parse document: %w", err)
	}
	if rec.ID == "" {
		rec.ID = id
	}
	return rec, nil
}

// UpdateLabels PUT标签字段
func (r *AstraRepository) UpdateLabels(ctx context.Context, id string, labels []string) error {
	status, body, err := r.do(ctx, http.MethodPut, r.documentURL(id), map[string][]string{"label": labels})
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return ErrRecordNotFound
	default:
		return &AstraError{StatusCode: status, Body: string(body)}
	}
}

// Delete 删除文档
func (r *AstraRepository) Delete(ctx context.Context, id string) error {
	status, body, err := r.do(ctx, http.MethodDelete, r.documentURL(id), nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return ErrRecordNotFound
	default:
		return &AstraError{StatusCode: status, Body: string(body)}
	}
}

type astraQueryRequest struct {
	Vector []float32 `json:"vector"`
	TopK   int       `json:"topK"`
}

type astraQueryResponse struct {
	Results []struct {
		Document Record   `json:"document"`
		Score    *float32 `json:"score"`
	} `json:"results"`
}

// Search 由服务端完成近邻查询，类型过滤在客户端进行
func (r *AstraRepository) Search(ctx context.Context, vector []float32, filter SearchFilter) ([]SearchResult, error) {
	if err := ValidateVector(vector, r.dimension); err != nil {
		return nil, err
	}

	topK := filter.MaxResults
	if topK <= 0 {
		topK = DefaultSearchFilter().MaxResults
	}
	// 有类型过滤时多取一些，过滤后再截断
	if len(filter.Types) > 0 {
		topK *= 3
	}

	status, body, err := r.do(ctx, http.MethodPost, r.queryURL(), astraQueryRequest{Vector: vector, TopK: topK})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &AstraError{StatusCode: status, Body: string(body)}
	}

	var resp astraQueryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse query response: %w", err)
	}

	results := make([]SearchResult, 0, len(resp.Results))
	for i, hit := range resp.Results {
		var score float32
		switch {
		case hit.Score != nil:
			score = *hit.Score
		case len(hit.Document.Vector) == len(vector):
			score = DistanceToScore(cosineDistance(vector, hit.Document.Vector), Cosine)
		default:
			// 服务端已按相似度排序，用名次近似得分
			score = 1 / float32(i+1)
		}
		results = append(results, SearchResult{Record: hit.Document, Score: score, Distance: 1 - score})
	}

	SortSearchResults(results)
	return ApplyFilter(results, filter), nil
}

// Close 释放空闲连接
func (r *AstraRepository) Close() error {
	r.httpClient.CloseIdleConnections()
	return nil
}

func init() {
	RegisterRepository("astra", NewAstraRepository)
}
