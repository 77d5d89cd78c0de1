package repository

import (
	"context"

	"github.com/fyerfyer/pdf-QA-system/internal/database"
	"github.com/fyerfyer/pdf-QA-system/internal/models"
	"gorm.io/gorm"
)

type queryLogRepo struct {
	db *gorm.DB
}

// NewQueryLogRepository 使用全局数据库连接创建仓储
func NewQueryLogRepository() QueryLogRepository {
	return &queryLogRepo{db: database.MustDB()}
}

// NewQueryLogRepositoryWithDB 使用指定的数据库连接创建仓储
func NewQueryLogRepositoryWithDB(db *gorm.DB) QueryLogRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &queryLogRepo{db: db}
}

func (r *queryLogRepo) WithContext(ctx context.Context) QueryLogRepository {
	return &queryLogRepo{db: r.db.WithContext(ctx)}
}

func (r *queryLogRepo) Create(log *models.QueryLog) error {
	return r.db.Create(log).Error
}

// Recent 按时间倒序
func (r *queryLogRepo) Recent(limit int) ([]*models.QueryLog, error) {
	if limit <= 0 {
		limit = 10
	}
	var logs []*models.QueryLog
	err := r.db.Order("created_at DESC, id DESC").Limit(limit).Find(&logs).Error
	return logs, err
}

func (r *queryLogRepo) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.QueryLog{}).Count(&count).Error
	return count, err
}
