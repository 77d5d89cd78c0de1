package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// QueryLog 问答记录
type QueryLog struct {
	ID         uint           `gorm:"primaryKey;autoIncrement"`
	Question   string         `gorm:"type:text;not null"`
	Answer     string         `gorm:"type:text"`
	Context    string         `gorm:"type:text"` // 发送给模型的上下文
	Sources    datatypes.JSON `gorm:"type:json"` // 命中的记录
	Model      string         `gorm:"size:64"`
	DurationMs int64          `gorm:"not null;default:0"`
	Cached     bool           `gorm:"not null;default:false"`
	Error      string         `gorm:"type:text"`
	CreatedAt  time.Time      `gorm:"not null;index"`
}

// BeforeCreate 创建前设置时间
func (q *QueryLog) BeforeCreate(tx *gorm.DB) error {
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	return nil
}

// TableName 表名
func (QueryLog) TableName() string {
	return "query_logs"
}

// Source 问答引用的记录
type Source struct {
	RecordID string  `json:"record_id"`
	Type     string  `json:"type"`
	Page     int     `json:"page"`
	File     string  `json:"file,omitempty"`
	Score    float32 `json:"score,omitempty"`
}
