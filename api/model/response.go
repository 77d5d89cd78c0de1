package model

import (
	"time"

	"github.com/fyerfyer/pdf-QA-system/internal/models"
	"github.com/fyerfyer/pdf-QA-system/internal/services"
	"github.com/fyerfyer/pdf-QA-system/pkg/taskqueue"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// UploadResponse 同步导入的结果
type UploadResponse struct {
	Log      string                 `json:"log"` // 界面上直接展示的状态文本
	Files    []*services.FileReport `json:"files"`
	Inserted int                    `json:"inserted"`
	Skipped  int                    `json:"skipped"`
	Failed   int                    `json:"failed"`
}

// QueuedFile 已加入队列的文件
type QueuedFile struct {
	TaskID   string `json:"task_id,omitempty"`
	FileID   string `json:"file_id,omitempty"`
	FileName string `json:"file_name"`
	Error    string `json:"error,omitempty"`
}

// QueuedResponse 异步导入的结果
type QueuedResponse struct {
	Log   string       `json:"log"`
	Tasks []QueuedFile `json:"tasks"`
}

// FileInfo 台账中的文件
type FileInfo struct {
	FileID          string     `json:"file_id"`
	FileName        string     `json:"file_name"`
	Status          string     `json:"status"`
	Pages           int        `json:"pages"`
	TextRecords     int        `json:"text_records"`
	ImageRecords    int        `json:"image_records"`
	RenderedRecords int        `json:"rendered_records"`
	SkippedRecords  int        `json:"skipped_records"`
	Error           string     `json:"error,omitempty"`
	TaskID          string     `json:"task_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
}

// NewFileInfo 从台账记录转换
func NewFileInfo(f *models.IngestedFile) FileInfo {
	return FileInfo{
		FileID:          f.ID,
		FileName:        f.FileName,
		Status:          string(f.Status),
		Pages:           f.Pages,
		TextRecords:     f.TextRecords,
		ImageRecords:    f.ImageRecords,
		RenderedRecords: f.RenderedRecords,
		SkippedRecords:  f.SkippedRecords,
		Error:           f.Error,
		TaskID:          f.TaskID,
		CreatedAt:       f.CreatedAt,
		ProcessedAt:     f.ProcessedAt,
	}
}

// FileListResponse 文件列表响应
type FileListResponse struct {
	Total    int64      `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
	Files    []FileInfo `json:"files"`
}

// HistoryItem 一条问答记录
type HistoryItem struct {
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Model      string    `json:"model"`
	Cached     bool      `json:"cached"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// HistoryResponse 问答历史
type HistoryResponse struct {
	Items []HistoryItem `json:"items"`
}

// ImageListResponse 图片列表
type ImageListResponse struct {
	Images []services.ImageInfo `json:"images"`
}

// LabelResponse 标签更新结果
type LabelResponse struct {
	Image   string `json:"image"`
	Message string `json:"message"`
	Updated bool   `json:"updated"`
}

// TaskResponse 任务状态
type TaskResponse struct {
	*taskqueue.TaskInfo
}

// HealthResponse 健康检查结果
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}
