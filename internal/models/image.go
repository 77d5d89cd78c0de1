package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ImageAsset 从PDF中提取出的图片
// 用于标注页面根据文件名找到对应的向量记录
type ImageAsset struct {
	ID          uint           `gorm:"primaryKey;autoIncrement"`
	RecordID    string         `gorm:"not null;uniqueIndex;size:160"` // 向量库中的_id
	FileID      string         `gorm:"not null;index;size:128"`       // 所属IngestedFile
	SourceFile  string         `gorm:"not null"`                      // 来源PDF文件名
	Page        int            `gorm:"not null"`
	ImageIndex  int            `gorm:"not null"` // 页内序号，从1开始
	StorageName string         `gorm:"not null;index"`       // 本地或对象存储中的文件名
	DriveFileID string         `gorm:"size:128"`
	Labels      datatypes.JSON `gorm:"type:json"`
	CreatedAt   time.Time      `gorm:"not null"`
	UpdatedAt   time.Time      `gorm:"not null"`
}

// BeforeCreate 创建前设置时间
func (a *ImageAsset) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	return nil
}

// BeforeUpdate 更新前刷新更新时间
func (a *ImageAsset) BeforeUpdate(tx *gorm.DB) error {
	a.UpdatedAt = time.Now()
	return nil
}

// TableName 表名
func (ImageAsset) TableName() string {
	return "image_assets"
}

// GetLabels 解析标签列表
func (a *ImageAsset) GetLabels() []string {
	if len(a.Labels) == 0 {
		return nil
	}
	var labels []string
	if err := json.Unmarshal(a.Labels, &labels); err != nil {
		return nil
	}
	return labels
}

// SetLabels 设置标签列表
func (a *ImageAsset) SetLabels(labels []string) {
	if labels == nil {
		labels = []string{}
	}
	data, _ := json.Marshal(labels)
	a.Labels = datatypes.JSON(data)
}
