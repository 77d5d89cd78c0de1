package document

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/sirupsen/logrus"
)

var pageFilePattern = regexp.MustCompile(`_(\d+)\.txt$`)

// PDFExtractor 基于pdfcpu的PDF提取器
type PDFExtractor struct {
	conf          *model.Configuration
	logger        *logrus.Logger
	extractImages bool
}

// PDFOption 提取器配置选项
type PDFOption func(*PDFExtractor)

// WithExtractorLogger 设置日志记录器
func WithExtractorLogger(logger *logrus.Logger) PDFOption {
	return func(p *PDFExtractor) {
		p.logger = logger
	}
}

// WithImages 设置是否提取内嵌图片
func WithImages(enable bool) PDFOption {
	return func(p *PDFExtractor) {
		p.extractImages = enable
	}
}

// NewPDFExtractor 创建PDF提取器
func NewPDFExtractor(opts ...PDFOption) *PDFExtractor {
	p := &PDFExtractor{
		conf:          model.NewDefaultConfiguration(),
		logger:        logrus.New(),
		extractImages: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Extract 解析PDF，返回逐页内容
// 单页的文本或图片提取失败只记录日志，不中断整份文件
func (p *PDFExtractor) Extract(ctx context.Context, filePath string) (*Document, error) {
	if !IsPDF(filePath) {
		return nil, ErrUnsupportedType
	}

	hash, err := HashFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to hash file: %w", err)
	}

	pageCount, err := api.PageCountFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}

	doc := &Document{
		Name:  BaseName(filePath),
		Path:  filePath,
		Hash:  hash,
		Pages: make([]Page, pageCount),
	}
	for i := range doc.Pages {
		doc.Pages[i].Number = i + 1
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	texts, err := p.extractText(filePath)
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"file":  filePath,
			"error": err.Error(),
		}).Warn("Failed to extract PDF text")
	}
	for page, text := range texts {
		if page >= 1 && page <= pageCount {
			doc.Pages[page-1].Text = text
		}
	}

	if p.extractImages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		images, err := p.extractPageImages(filePath)
		if err != nil {
			p.logger.WithFields(logrus.Fields{
				"file":  filePath,
				"error": err.Error(),
			}).Warn("Failed to extract PDF images")
		}
		for page, imgs := range images {
			if page >= 1 && page <= pageCount {
				doc.Pages[page-1].Images = imgs
			}
		}
	}

	return doc, nil
}

// extractText 提取每页内容流并解码出文本
func (p *PDFExtractor) extractText(filePath string) (map[int]string, error) {
	tmpDir, err := os.MkdirTemp("", "pdfcpu_content_")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := api.ExtractContentFile(filePath, tmpDir, nil, p.conf); err != nil {
		return nil, fmt.Errorf("failed to extract content: %w", err)
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return nil, err
	}

	texts := make(map[int]string)
	for _, e := range entries {
		m := pageFilePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		page, _ := strconv.Atoi(m[1])
		data, err := os.ReadFile(filepath.Join(tmpDir, e.Name()))
		if err != nil {
			continue
		}
		texts[page] = decodeContentText(data)
	}
	return texts, nil
}

type rawImage struct {
	objNr int
	img   Image
}

// extractPageImages 提取所有页面的内嵌图片，页内按对象号排序
func (p *PDFExtractor) extractPageImages(filePath string) (map[int][]Image, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	byPage := make(map[int][]rawImage)
	seen := make(map[string]bool)

	digest := func(img model.Image, _ bool, _ int) error {
		key := fmt.Sprintf("%d:%d", img.PageNr, img.ObjNr)
		if seen[key] {
			return nil
		}
		seen[key] = true

		data, err := io.ReadAll(img)
		if err != nil {
			return err
		}
		ext := img.FileType
		if ext == "" {
			ext = "png"
		}
		byPage[img.PageNr] = append(byPage[img.PageNr], rawImage{
			objNr: img.ObjNr,
			img: Image{
				Ext:    ext,
				Data:   data,
				Width:  img.Width,
				Height: img.Height,
			},
		})
		return nil
	}

	if err := api.ExtractImages(f, nil, digest, p.conf); err != nil {
		return nil, fmt.Errorf("failed to extract images: %w", err)
	}

	result := make(map[int][]Image, len(byPage))
	for page, raws := range byPage {
		sort.Slice(raws, func(i, j int) bool { return raws[i].objNr < raws[j].objNr })
		imgs := make([]Image, len(raws))
		for i, r := range raws {
			r.img.Index = i + 1
			imgs[i] = r.img
		}
		result[page] = imgs
	}
	return result, nil
}
