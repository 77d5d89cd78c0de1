package vectordb

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository 内存向量仓库
// 检索为全量线性扫描，适合开发测试和小规模数据
type MemoryRepository struct {
	mu        sync.RWMutex
	records   map[string]Record
	order     []string
	dimension int
	distType  DistanceType
}

// NewMemoryRepository 创建内存仓库
func NewMemoryRepository(config Config) (Repository, error) {
	distType := config.DistanceType
	if distType == "" {
		distType = Cosine
	}
	return &MemoryRepository{
		records:   make(map[string]Record),
		dimension: config.Dimension,
		distType:  distType,
	}, nil
}

// Exists 判断记录是否存在
func (r *MemoryRepository) Exists(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[id]
	return ok, nil
}

// Insert 插入记录，没有向量的记录(如文件记录)不参与检索
func (r *MemoryRepository) Insert(_ context.Context, rec Record) error {
	if rec.ID == "" {
		return ErrInvalidID
	}
	if len(rec.Vector) > 0 {
		if err := ValidateVector(rec.Vector, r.dimension); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[rec.ID]; ok {
		return ErrAlreadyExists
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.Vector = append([]float32(nil), rec.Vector...)
	rec.Labels = append([]string(nil), rec.Labels...)
	r.records[rec.ID] = rec
	r.order = append(r.order, rec.ID)
	return nil
}

// Get 获取单条记录
func (r *MemoryRepository) Get(_ context.Context, id string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

// UpdateLabels 覆盖标签
func (r *MemoryRepository) UpdateLabels(_ context.Context, id string, labels []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	rec.Labels = append([]string(nil), labels...)
	r.records[id] = rec
	return nil
}

// Delete 删除记录
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return ErrRecordNotFound
	}
	delete(r.records, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Search 计算与所有记录的距离并取前N条
func (r *MemoryRepository) Search(ctx context.Context, vector []float32, filter SearchFilter) ([]SearchResult, error) {
	if err := ValidateVector(vector, r.dimension); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]SearchResult, 0, len(r.order))
	for _, id := range r.order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec := r.records[id]
		if len(rec.Vector) == 0 || !filter.AllowsType(rec.Type) {
			continue
		}
		dist, err := ComputeDistance(vector, rec.Vector, r.distType)
		if err != nil {
			continue
		}
		results = append(results, SearchResult{
			Record:   rec,
			Distance: dist,
			Score:    DistanceToScore(dist, r.distType),
		})
	}

	SortSearchResults(results)
	return ApplyFilter(results, filter), nil
}

// Count 记录总数
func (r *MemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Close 内存实现无需释放资源
func (r *MemoryRepository) Close() error {
	return nil
}

func init() {
	RegisterRepository("memory", NewMemoryRepository)
}
