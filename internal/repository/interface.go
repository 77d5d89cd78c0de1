package repository

import (
	"context"

	"github.com/fyerfyer/pdf-QA-system/internal/models"
)

// FileRepository PDF文件台账仓储
type FileRepository interface {
	// Create 创建文件记录
	Create(file *models.IngestedFile) error

	// Save 创建或整体覆盖文件记录
	Save(file *models.IngestedFile) error

	// GetByID 获取文件记录
	GetByID(id string) (*models.IngestedFile, error)

	// Exists 检查文件是否已处理完成
	Exists(id string) (bool, error)

	// List 分页列出文件，status为空时不过滤
	List(offset, limit int, status models.FileStatus) ([]*models.IngestedFile, int64, error)

	// UpdateStatus 更新处理状态
	UpdateStatus(id string, status models.FileStatus, errorMsg string) error

	// SetTaskID 记录异步处理的任务ID，不改变状态
	SetTaskID(id, taskID string) error

	// Delete 删除文件记录及其图片
	Delete(id string) error

	// WithContext 创建带有上下文的仓储
	WithContext(ctx context.Context) FileRepository
}

// ImageRepository 图片仓储
type ImageRepository interface {
	// Save 按RecordID新增或更新图片
	Save(img *models.ImageAsset) error

	// GetByRecordID 根据向量记录ID获取图片
	GetByRecordID(recordID string) (*models.ImageAsset, error)

	// GetByStorageName 根据存储文件名获取图片
	GetByStorageName(name string) (*models.ImageAsset, error)

	// ListByFile 列出某个PDF的图片，fileID为空时列出全部
	ListByFile(fileID string) ([]*models.ImageAsset, error)

	// UpdateLabels 覆盖图片标签
	UpdateLabels(recordID string, labels []string) error

	// WithContext 创建带有上下文的仓储
	WithContext(ctx context.Context) ImageRepository
}

// QueryLogRepository 问答记录仓储
type QueryLogRepository interface {
	// Create 写入问答记录
	Create(log *models.QueryLog) error

	// Recent 最近的问答记录
	Recent(limit int) ([]*models.QueryLog, error)

	// Count 问答总数
	Count() (int64, error)

	// WithContext 创建带有上下文的仓储
	WithContext(ctx context.Context) QueryLogRepository
}
