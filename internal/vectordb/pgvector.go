package vectordb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PgVectorRepository 基于PostgreSQL + pgvector的仓库
type PgVectorRepository struct {
	pool      *pgxpool.Pool
	table     string
	dimension int
}

// NewPgVectorRepository 连接数据库并确保表和索引存在
func NewPgVectorRepository(config Config) (Repository, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("pgvector dsn is required")
	}
	table := config.Collection
	if table == "" {
		table = "pdf_data"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name: %s", table)
	}
	dim := config.Dimension
	if dim <= 0 {
		dim = 1536
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	r := &PgVectorRepository{pool: pool, table: table, dimension: dim}
	if err := r.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

func (r *PgVectorRepository) initialize(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			page INTEGER NOT NULL DEFAULT 0,
			file TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			labels TEXT[] NOT NULL DEFAULT '{}',
			drive_file_id TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, r.table, r.dimension)
	if _, err := r.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s USING hnsw (embedding vector_cosine_ops)`, r.table, r.table)
	if _, err := r.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// Exists 判断记录是否存在
func (r *PgVectorRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)", r.table), id).Scan(&exists)
	return exists, err
}

// Insert 插入记录，冲突时返回ErrAlreadyExists
func (r *PgVectorRepository) Insert(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return ErrInvalidID
	}

	var embedding interface{}
	if len(rec.Vector) > 0 {
		if err := ValidateVector(rec.Vector, r.dimension); err != nil {
			return err
		}
		embedding = pgvector.NewVector(rec.Vector)
	}
	labels := rec.Labels
	if labels == nil {
		labels = []string{}
	}

	tag, err := r.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, type, page, file, name, content, labels, drive_file_id, source, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`, r.table),
		rec.ID, string(rec.Type), rec.Page, rec.File, rec.Name, rec.Content,
		labels, rec.DriveFileID, rec.Source, embedding)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// Get 获取记录，不返回向量
func (r *PgVectorRepository) Get(ctx context.Context, id string) (Record, error) {
	var rec Record
	var typ string
	err := r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, type, page, file, name, content, labels, drive_file_id, source, created_at
		FROM %s WHERE id = $1`, r.table), id).
		Scan(&rec.ID, &typ, &rec.Page, &rec.File, &rec.Name, &rec.Content,
			&rec.Labels, &rec.DriveFileID, &rec.Source, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, err
	}
	rec.Type = RecordType(typ)
	return rec, nil
}

// UpdateLabels 覆盖标签
func (r *PgVectorRepository) UpdateLabels(ctx context.Context, id string, labels []string) error {
	if labels == nil {
		labels = []string{}
	}
	tag, err := r.pool.Exec(ctx,
		fmt.Sprintf("UPDATE %s SET labels = $2 WHERE id = $1", r.table), id, labels)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Delete 删除记录
func (r *PgVectorRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", r.table), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Search 使用余弦距离运算符<=>排序
func (r *PgVectorRepository) Search(ctx context.Context, vector []float32, filter SearchFilter) ([]SearchResult, error) {
	if err := ValidateVector(vector, r.dimension); err != nil {
		return nil, err
	}
	limit := filter.MaxResults
	if limit <= 0 {
		limit = DefaultSearchFilter().MaxResults
	}

	types := make([]string, 0, len(filter.Types))
	for _, t := range filter.Types {
		types = append(types, string(t))
	}

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, type, page, file, name, content, labels, drive_file_id, source,
		       embedding <=> $1 AS distance
		FROM %s
		WHERE embedding IS NOT NULL AND (cardinality($3::text[]) = 0 OR type = ANY($3))
		ORDER BY embedding <=> $1
		LIMIT $2`, r.table), pgvector.NewVector(vector), limit, types)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var rec Record
		var typ string
		var distance float64
		if err := rows.Scan(&rec.ID, &typ, &rec.Page, &rec.File, &rec.Name, &rec.Content,
			&rec.Labels, &rec.DriveFileID, &rec.Source, &distance); err != nil {
			return nil, err
		}
		rec.Type = RecordType(typ)
		score := DistanceToScore(float32(distance), Cosine)
		results = append(results, SearchResult{Record: rec, Score: score, Distance: float32(distance)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ApplyFilter(results, filter), nil
}

// Close 关闭连接池
func (r *PgVectorRepository) Close() error {
	r.pool.Close()
	return nil
}

func init() {
	RegisterRepository("pgvector", NewPgVectorRepository)
}
