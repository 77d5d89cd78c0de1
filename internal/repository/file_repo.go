package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/pdf-QA-system/internal/database"
	"github.com/fyerfyer/pdf-QA-system/internal/models"
	"gorm.io/gorm"
)

// fileRepo 文件台账仓储实现
type fileRepo struct {
	db *gorm.DB
}

// NewFileRepository 使用全局数据库连接创建仓储
func NewFileRepository() FileRepository {
	return &fileRepo{db: database.MustDB()}
}

// NewFileRepositoryWithDB 使用指定的数据库连接创建仓储
func NewFileRepositoryWithDB(db *gorm.DB) FileRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &fileRepo{db: db}
}

// WithContext 创建带有上下文的仓储
func (r *fileRepo) WithContext(ctx context.Context) FileRepository {
	return &fileRepo{db: r.db.WithContext(ctx)}
}

// Create 创建文件记录
func (r *fileRepo) Create(file *models.IngestedFile) error {
	if file.ID == "" {
		return errors.New("file ID cannot be empty")
	}
	if file.Status == "" {
		file.Status = models.FileStatusQueued
	}
	return r.db.Create(file).Error
}

// Save 创建或覆盖文件记录
func (r *fileRepo) Save(file *models.IngestedFile) error {
	if file.ID == "" {
		return errors.New("file ID cannot be empty")
	}
	if !models.ValidFileStatus(file.Status) {
		return models.ErrInvalidFileStatus
	}
	return r.db.Save(file).Error
}

// GetByID 获取文件记录
func (r *fileRepo) GetByID(id string) (*models.IngestedFile, error) {
	var file models.IngestedFile
	err := r.db.Where("id = ?", id).First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrFileNotFound, id)
		}
		return nil, err
	}
	return &file, nil
}

// Exists 处理完成或判定为重复的文件才算已存在
func (r *fileRepo) Exists(id string) (bool, error) {
	var count int64
	err := r.db.Model(&models.IngestedFile{}).
		Where("id = ? AND status IN ?", id, []models.FileStatus{models.FileStatusCompleted, models.FileStatusDuplicate}).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// List 分页列出文件
func (r *fileRepo) List(offset, limit int, status models.FileStatus) ([]*models.IngestedFile, int64, error) {
	var files []*models.IngestedFile
	var total int64

	query := r.db.Model(&models.IngestedFile{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 20
	}
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&files).Error
	if err != nil {
		return nil, 0, err
	}
	return files, total, nil
}

// UpdateStatus 更新处理状态，完成时记录处理时间
func (r *fileRepo) UpdateStatus(id string, status models.FileStatus, errorMsg string) error {
	if !models.ValidFileStatus(status) {
		return models.ErrInvalidFileStatus
	}

	updates := map[string]interface{}{
		"status":     status,
		"error":      errorMsg,
		"updated_at": time.Now(),
	}
	if status == models.FileStatusCompleted {
		updates["processed_at"] = time.Now()
	}

	result := r.db.Model(&models.IngestedFile{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrFileNotFound, id)
	}
	return nil
}

// SetTaskID 只更新task_id列
func (r *fileRepo) SetTaskID(id, taskID string) error {
	result := r.db.Model(&models.IngestedFile{}).Where("id = ?", id).
		Updates(map[string]interface{}{"task_id": taskID, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrFileNotFound, id)
	}
	return nil
}

// Delete 删除文件记录及其图片
func (r *fileRepo) Delete(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("file_id = ?", id).Delete(&models.ImageAsset{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.IngestedFile{}).Error
	})
}
