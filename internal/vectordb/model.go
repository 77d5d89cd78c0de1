package vectordb

import (
	"context"
	"errors"
	"time"
)

// 常用错误定义
var (
	ErrRecordNotFound   = errors.New("record not found")
	ErrAlreadyExists    = errors.New("record already exists")
	ErrEmptyVector      = errors.New("empty vector")
	ErrInvalidID        = errors.New("invalid record ID")
	ErrInvalidDimension = errors.New("vector dimension mismatch")
)

// RecordType 记录类型
type RecordType string

const (
	TypeText         RecordType = "text"
	TypeImage        RecordType = "image"
	TypeFile         RecordType = "file"
	TypeRenderedPage RecordType = "rendered_page"
)

// Record 向量库中的一条记录
// 序列化字段名与托管向量库的文档格式一致
type Record struct {
	ID          string     `json:"_id"`
	Type        RecordType `json:"type"`
	Page        int        `json:"page,omitempty"`
	File        string     `json:"file,omitempty"`
	Name        string     `json:"name,omitempty"`
	Content     string     `json:"content,omitempty"`
	Labels      []string   `json:"label,omitempty"`
	DriveFileID string     `json:"drive_file_id,omitempty"`
	Source      string     `json:"source,omitempty"` // 所属PDF的内容哈希
	Vector      []float32  `json:"$vector,omitempty"`
	CreatedAt   time.Time  `json:"-"`
}

// DistanceType 向量距离计算方法
type DistanceType string

const (
	Cosine     DistanceType = "cosine"
	DotProduct DistanceType = "dot"
	Euclidean  DistanceType = "l2"
)

// SearchResult 搜索结果
type SearchResult struct {
	Record   Record
	Score    float32 // 相似度得分，越大越相似
	Distance float32
}

// SearchFilter 搜索过滤条件
type SearchFilter struct {
	Types      []RecordType // 只返回这些类型，空表示不限
	MinScore   float32      // 最小相似度分数，0表示不过滤
	MaxResults int          // 最大返回结果数
}

// DefaultSearchFilter 返回默认的搜索过滤器
func DefaultSearchFilter() SearchFilter {
	return SearchFilter{MaxResults: 3}
}

// Repository 向量数据库仓库接口
type Repository interface {
	// Exists 判断记录是否存在
	Exists(ctx context.Context, id string) (bool, error)

	// Insert 插入记录，ID已存在时返回ErrAlreadyExists
	Insert(ctx context.Context, rec Record) error

	// Get 获取单条记录
	Get(ctx context.Context, id string) (Record, error)

	// UpdateLabels 覆盖记录的标签列表
	UpdateLabels(ctx context.Context, id string, labels []string) error

	// Delete 删除单条记录
	Delete(ctx context.Context, id string) error

	// Search 相似度搜索，结果按得分降序
	Search(ctx context.Context, vector []float32, filter SearchFilter) ([]SearchResult, error)

	// Close 释放连接
	Close() error
}

// Config 向量数据库配置
type Config struct {
	Type         string        // "memory", "astra", "pgvector"
	Endpoint     string        // Astra API端点
	Token        string        // Astra应用令牌
	Namespace    string        // Astra keyspace
	Collection   string        // 集合名或表名
	DSN          string        // PostgreSQL连接串
	Dimension    int           // 向量维度
	DistanceType DistanceType  // 距离计算类型
	Timeout      time.Duration // 请求超时
}

// Factory 向量数据库工厂函数类型
type Factory func(config Config) (Repository, error)

// RepositoryRegistry 注册可用的向量数据库实现
var RepositoryRegistry = map[string]Factory{}

// RegisterRepository 注册向量数据库工厂函数
func RegisterRepository(name string, factory Factory) {
	RepositoryRegistry[name] = factory
}

// NewRepository 根据配置创建向量数据库实例，未知类型使用内存实现
func NewRepository(config Config) (Repository, error) {
	factory, ok := RepositoryRegistry[config.Type]
	if !ok {
		factory = NewMemoryRepository
	}
	return factory(config)
}
