package model

// PaginationRequest 分页请求
type PaginationRequest struct {
	Page     int `form:"page" binding:"omitempty,min=1"`              // 页码，从1开始
	PageSize int `form:"page_size" binding:"omitempty,min=1,max=100"` // 每页大小
}

// Normalize 补全默认分页参数
func (p *PaginationRequest) Normalize() {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = 20
	}
}

// FileListRequest 文件列表请求
type FileListRequest struct {
	PaginationRequest
	Status string `form:"status" binding:"omitempty,oneof=queued processing completed duplicate failed"`
}

// UploadRequest 上传参数，文件本身通过multipart的files字段提交
type UploadRequest struct {
	Async bool `form:"async"` // 是否交给任务队列处理
}

// QARequest 问答请求
type QARequest struct {
	Question string `json:"question" form:"question" binding:"required"`
}

// HistoryRequest 问答历史请求
type HistoryRequest struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
}

// LabelRequest 图片标签请求
type LabelRequest struct {
	Image string `json:"image" form:"image" binding:"required"` // 图片文件名
	Label string `json:"label" form:"label" binding:"required"` // 逗号分隔的标签
}
