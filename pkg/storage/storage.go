package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound 文件不存在
var ErrNotFound = errors.New("file not found")

// FileInfo 文件元数据结构
type FileInfo struct {
	Name     string    // 存储键，可以包含"/"分隔的前缀
	Size     int64     // 文件大小(字节)
	MimeType string    // 文件MIME类型
	Path     string    // 内部存储路径(实现相关)
	ModTime  time.Time // 最后修改时间
}

// Storage 文件存储接口
// 以名称为键保存提取出的图片与渲染页，同名写入会覆盖
type Storage interface {
	// Save 保存文件并返回文件信息
	Save(ctx context.Context, name string, reader io.Reader) (FileInfo, error)

	// Get 获取文件内容
	Get(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete 删除文件
	Delete(ctx context.Context, name string) error

	// List 列出指定前缀下的文件，前缀为空时列出全部
	List(ctx context.Context, prefix string) ([]FileInfo, error)

	// Exists 检查文件是否存在
	Exists(ctx context.Context, name string) (bool, error)
}

// Config 存储配置
type Config struct {
	Type  string // "local" 或 "minio"
	Local LocalConfig
	Minio MinioConfig
}

// New 根据配置创建存储
func New(cfg Config) (Storage, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalStorage(cfg.Local)
	case "minio":
		return NewMinioStorage(cfg.Minio)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// CleanName 规范化存储键，拒绝绝对路径与目录穿越
func CleanName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if name == "" || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("invalid file name: %q", name)
	}
	cleaned := path.Clean(name)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid file name: %q", name)
	}
	return cleaned, nil
}

// IsImage 根据扩展名判断是否为图片
func IsImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}

// getMimeType 根据文件扩展名判断MIME类型
func getMimeType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".tif", ".tiff":
		return "image/tiff"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// MimeType 对外暴露的MIME推断
func MimeType(filename string) string {
	return getMimeType(filename)
}
