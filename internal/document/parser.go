package document

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedType 非PDF文件
var ErrUnsupportedType = errors.New("unsupported document type")

// Extractor PDF内容提取器接口
// 负责把PDF拆成逐页的文本与内嵌图片
type Extractor interface {
	Extract(ctx context.Context, filePath string) (*Document, error)
}

// Document 解析后的PDF
type Document struct {
	Name  string // 不含扩展名的文件名
	Path  string // 源文件路径
	Hash  string // 文件内容的SHA-256
	Pages []Page // 按页码排列，页码从1开始
}

// Page 单页内容
type Page struct {
	Number int
	Text   string
	Images []Image
}

// Image 页面内嵌的图片
type Image struct {
	Index  int    // 页内序号，从1开始
	Ext    string // 文件扩展名，不含点
	Data   []byte
	Width  int
	Height int
}

// HasText 页面是否含有非空文本
func (p Page) HasText() bool {
	return strings.TrimSpace(p.Text) != ""
}

// BaseName 返回不含目录和扩展名的文件名
func BaseName(filePath string) string {
	base := filepath.Base(filePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// IsPDF 根据扩展名判断是否为PDF
func IsPDF(filePath string) bool {
	return strings.EqualFold(filepath.Ext(filePath), ".pdf")
}

// HashFile 计算文件内容的SHA-256
func HashFile(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return HashReader(f)
}

// HashReader 计算数据流的SHA-256
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
