package models

import "errors"

var (
	// ErrFileNotFound 文件台账不存在
	ErrFileNotFound = errors.New("ingested file not found")

	// ErrImageNotFound 图片不存在
	ErrImageNotFound = errors.New("image asset not found")

	// ErrInvalidFileStatus 无效的文件状态
	ErrInvalidFileStatus = errors.New("invalid file status")
)

// ValidFileStatus 检查状态是否合法
func ValidFileStatus(s FileStatus) bool {
	switch s {
	case FileStatusQueued, FileStatusProcessing, FileStatusCompleted, FileStatusFailed, FileStatusDuplicate:
		return true
	}
	return false
}
