package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/pdf-QA-system/internal/database"
	"github.com/fyerfyer/pdf-QA-system/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type imageRepo struct {
	db *gorm.DB
}

// NewImageRepository 使用全局数据库连接创建仓储
func NewImageRepository() ImageRepository {
	return &imageRepo{db: database.MustDB()}
}

// NewImageRepositoryWithDB 使用指定的数据库连接创建仓储
func NewImageRepositoryWithDB(db *gorm.DB) ImageRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &imageRepo{db: db}
}

func (r *imageRepo) WithContext(ctx context.Context) ImageRepository {
	return &imageRepo{db: r.db.WithContext(ctx)}
}

// Save 按RecordID upsert，已有标签不会被覆盖
func (r *imageRepo) Save(img *models.ImageAsset) error {
	if img.RecordID == "" {
		return errors.New("image record ID cannot be empty")
	}
	if img.StorageName == "" {
		return errors.New("image storage name cannot be empty")
	}
	if img.Labels == nil {
		img.SetLabels(nil)
	}

	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "record_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"file_id", "source_file", "page", "image_index", "storage_name", "drive_file_id", "updated_at",
		}),
	}).Create(img).Error
}

func (r *imageRepo) GetByRecordID(recordID string) (*models.ImageAsset, error) {
	return r.first("record_id = ?", recordID)
}

func (r *imageRepo) GetByStorageName(name string) (*models.ImageAsset, error) {
	return r.first("storage_name = ?", name)
}

func (r *imageRepo) first(query string, arg string) (*models.ImageAsset, error) {
	var img models.ImageAsset
	err := r.db.Where(query, arg).First(&img).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrImageNotFound, arg)
		}
		return nil, err
	}
	return &img, nil
}

// ListByFile 按页码和序号排序
func (r *imageRepo) ListByFile(fileID string) ([]*models.ImageAsset, error) {
	var images []*models.ImageAsset
	query := r.db.Model(&models.ImageAsset{})
	if fileID != "" {
		query = query.Where("file_id = ?", fileID)
	}
	err := query.Order("source_file, page, image_index").Find(&images).Error
	return images, err
}

// UpdateLabels 覆盖标签
func (r *imageRepo) UpdateLabels(recordID string, labels []string) error {
	var img models.ImageAsset
	img.SetLabels(labels)

	result := r.db.Model(&models.ImageAsset{}).
		Where("record_id = ?", recordID).
		Updates(map[string]interface{}{
			"labels":     img.Labels,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrImageNotFound, recordID)
	}
	return nil
}
