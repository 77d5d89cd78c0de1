package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FileStatus PDF处理状态
type FileStatus string

const (
	// FileStatusQueued 已排队等待处理
	FileStatusQueued FileStatus = "queued"
	// FileStatusProcessing 处理中
	FileStatusProcessing FileStatus = "processing"
	// FileStatusCompleted 处理完成
	FileStatusCompleted FileStatus = "completed"
	// FileStatusFailed 处理失败
	FileStatusFailed FileStatus = "failed"
	// FileStatusDuplicate 向量库中已有该文件，未重新处理
	FileStatusDuplicate FileStatus = "duplicate"
)

// IngestedFile 已导入的PDF文件台账
// ID与向量库中file类型记录的_id一致
type IngestedFile struct {
	ID              string         `gorm:"primaryKey;size:128"` // 文件哈希或基础名
	FileName        string         `gorm:"not null;index"`      // 原始文件名
	Pages           int            `gorm:"not null;default:0"`  // 页数
	TextRecords     int            `gorm:"not null;default:0"`  // 写入的文本记录数
	ImageRecords    int            `gorm:"not null;default:0"`  // 写入的图片记录数
	RenderedRecords int            `gorm:"not null;default:0"`  // 写入的整页渲染记录数
	SkippedRecords  int            `gorm:"not null;default:0"`  // 已存在而跳过的记录数
	Status          FileStatus     `gorm:"not null;size:20;index"`
	Error           string         `gorm:"type:text"`
	TaskID          string         `gorm:"size:64;index"` // 异步处理的任务ID
	CreatedAt       time.Time      `gorm:"not null;index"`
	UpdatedAt       time.Time      `gorm:"not null"`
	ProcessedAt     *time.Time     `gorm:"index"`
	Metadata        datatypes.JSON `gorm:"type:json"`
}

// BeforeCreate 创建前设置时间
func (f *IngestedFile) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	return nil
}

// BeforeUpdate 更新前刷新更新时间
func (f *IngestedFile) BeforeUpdate(tx *gorm.DB) error {
	f.UpdatedAt = time.Now()
	return nil
}

// TableName 表名
func (IngestedFile) TableName() string {
	return "ingested_files"
}

// TotalRecords 写入的记录总数
func (f *IngestedFile) TotalRecords() int {
	return f.TextRecords + f.ImageRecords + f.RenderedRecords
}
