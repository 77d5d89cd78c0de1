package services

import (
	"fmt"

	"github.com/google/uuid"
)

// IDScheme 记录ID的生成方式
type IDScheme string

const (
	// SchemeHash 以文件SHA-256为前缀，整份文件可去重
	SchemeHash IDScheme = "hash"
	// SchemeName 以文件基础名和页码为前缀
	SchemeName IDScheme = "name"
	// SchemeUUID 由哈希ID派生的UUIDv5
	SchemeUUID IDScheme = "uuid"
)

// ParseIDScheme 解析配置值，未知值退回hash
func ParseIDScheme(s string) IDScheme {
	switch IDScheme(s) {
	case SchemeName, SchemeUUID:
		return IDScheme(s)
	default:
		return SchemeHash
	}
}

// recordIDs 一份PDF内各记录的ID
type recordIDs struct {
	scheme IDScheme
	hash   string
	base   string
}

func newRecordIDs(scheme IDScheme, hash, base string) recordIDs {
	return recordIDs{scheme: scheme, hash: hash, base: base}
}

// FileLevel 是否支持整份文件级别的去重
func (r recordIDs) FileLevel() bool {
	return r.scheme != SchemeName
}

// File 文件记录ID
func (r recordIDs) File() string {
	switch r.scheme {
	case SchemeName:
		return r.base
	case SchemeUUID:
		return r.derive(r.hash)
	default:
		return r.hash
	}
}

// Text 页面文本记录ID
func (r recordIDs) Text(page int) string {
	return r.pageID(page, "text")
}

// Image 页内图片记录ID，index从1开始
func (r recordIDs) Image(page, index int) string {
	return r.pageID(page, fmt.Sprintf("img%d", index))
}

// Rendered 整页渲染记录ID
func (r recordIDs) Rendered(page int) string {
	return r.pageID(page, "rendered")
}

func (r recordIDs) pageID(page int, suffix string) string {
	switch r.scheme {
	case SchemeName:
		return fmt.Sprintf("%s_page%d_%s", r.base, page, suffix)
	case SchemeUUID:
		return r.derive(fmt.Sprintf("%s_p%d_%s", r.hash, page, suffix))
	default:
		return fmt.Sprintf("%s_p%d_%s", r.hash, page, suffix)
	}
}

// derive 同一输入总是得到同一个UUID，重复导入仍能跳过
func (r recordIDs) derive(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("pdfqa:"+name)).String()
}

// imageFileName 提取图片的存储文件名
func imageFileName(base string, page, index int, ext string) string {
	if ext == "" {
		ext = "png"
	}
	return fmt.Sprintf("%s_page%d_img%d.%s", base, page, index, ext)
}

// renderedFileName 渲染页的存储文件名
func renderedFileName(base string, page int) string {
	return fmt.Sprintf("%s_page%d_rendered.png", base, page)
}
