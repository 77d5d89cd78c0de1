package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/pdf-QA-system/internal/document"
	"github.com/fyerfyer/pdf-QA-system/internal/drive"
	"github.com/fyerfyer/pdf-QA-system/internal/embedding"
	"github.com/fyerfyer/pdf-QA-system/internal/llm"
	"github.com/fyerfyer/pdf-QA-system/internal/models"
	"github.com/fyerfyer/pdf-QA-system/internal/repository"
	"github.com/fyerfyer/pdf-QA-system/internal/vectordb"
	"github.com/fyerfyer/pdf-QA-system/pkg/storage"
)

// 写入向量库的固定内容
const (
	ImageContent    = "image saved"
	RenderedContent = "page rendered"
)

// Input 一份待导入的PDF
type Input struct {
	Path string // 本地路径
	Name string // 原始文件名，为空时取Path的文件名
}

func (in Input) fileName() string {
	if in.Name != "" {
		return filepath.Base(in.Name)
	}
	return filepath.Base(in.Path)
}

// ProgressFunc 每处理完一页回调一次
type ProgressFunc func(file string, page, total int)

// IngestService PDF导入服务
// 逐页写入文本、图片和渲染页记录，已存在的ID直接跳过
type IngestService struct {
	extractor document.Extractor
	embedder  embedding.Client
	vectors   vectordb.Repository

	renderer  document.Renderer
	images    storage.Storage
	uploader  drive.Uploader
	imageRepo repository.ImageRepository
	ledger    *FileStatusManager

	scheme      IDScheme
	textLimit   int
	renderPages bool
	logger      *logrus.Logger
}

// IngestOption 导入服务配置选项
type IngestOption func(*IngestService)

// WithIngestLogger 设置日志记录器
func WithIngestLogger(logger *logrus.Logger) IngestOption {
	return func(s *IngestService) {
		s.logger = logger
	}
}

// WithIDScheme 设置记录ID的生成方式
func WithIDScheme(scheme IDScheme) IngestOption {
	return func(s *IngestService) {
		s.scheme = scheme
	}
}

// WithTextLimit 设置页面文本的截断长度
func WithTextLimit(limit int) IngestOption {
	return func(s *IngestService) {
		s.textLimit = limit
	}
}

// WithRenderer 设置页面渲染器
func WithRenderer(r document.Renderer) IngestOption {
	return func(s *IngestService) {
		s.renderer = r
	}
}

// WithRenderPages 没有图片的页面是否整页渲染
func WithRenderPages(enable bool) IngestOption {
	return func(s *IngestService) {
		s.renderPages = enable
	}
}

// WithImageStorage 设置图片存储
func WithImageStorage(st storage.Storage) IngestOption {
	return func(s *IngestService) {
		s.images = st
	}
}

// WithDriveUploader 设置云盘上传器
func WithDriveUploader(u drive.Uploader) IngestOption {
	return func(s *IngestService) {
		s.uploader = u
	}
}

// WithImageRepository 设置图片仓储
func WithImageRepository(repo repository.ImageRepository) IngestOption {
	return func(s *IngestService) {
		s.imageRepo = repo
	}
}

// WithLedger 设置文件台账
func WithLedger(m *FileStatusManager) IngestOption {
	return func(s *IngestService) {
		s.ledger = m
	}
}

// NewIngestService 创建导入服务
func NewIngestService(extractor document.Extractor, embedder embedding.Client, vectors vectordb.Repository, opts ...IngestOption) *IngestService {
	s := &IngestService{
		extractor:   extractor,
		embedder:    embedder,
		vectors:     vectors,
		uploader:    drive.NoopUploader{},
		scheme:      SchemeHash,
		textLimit:   1000,
		renderPages: true,
		logger:      logrus.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest 依次处理多份PDF
// 单个文件失败不影响其余文件，错误写在对应的FileReport中
func (s *IngestService) Ingest(ctx context.Context, inputs []Input, progress ProgressFunc) (*Report, error) {
	report := &Report{}
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		fr, err := s.IngestFile(ctx, in, progress)
		if err != nil && errors.Is(err, context.Canceled) {
			report.Files = append(report.Files, fr)
			return report, err
		}
		report.Files = append(report.Files, fr)
	}
	return report, nil
}

// FileID 计算文件在台账和向量库中的文件级ID
func (s *IngestService) FileID(in Input) (string, error) {
	ids, err := s.identify(in)
	if err != nil {
		return "", err
	}
	return ids.File(), nil
}

func (s *IngestService) identify(in Input) (recordIDs, error) {
	hash, err := document.HashFile(in.Path)
	if err != nil {
		return recordIDs{}, err
	}
	return newRecordIDs(s.scheme, hash, document.BaseName(in.fileName())), nil
}

// IngestFile 处理单份PDF
func (s *IngestService) IngestFile(ctx context.Context, in Input, progress ProgressFunc) (*FileReport, error) {
	name := in.fileName()
	report := &FileReport{FileName: name}

	if !document.IsPDF(name) {
		return s.fail(ctx, report, document.ErrUnsupportedType), document.ErrUnsupportedType
	}

	ids, err := s.identify(in)
	if err != nil {
		return s.fail(ctx, report, err), err
	}
	report.FileID = ids.File()

	logger := s.logger.WithFields(logrus.Fields{
		"file":    name,
		"file_id": report.FileID,
	})

	if ids.FileLevel() {
		exists, err := s.vectors.Exists(ctx, ids.File())
		if err != nil {
			return s.fail(ctx, report, err), err
		}
		if exists {
			logger.Info("File already ingested, skipping")
			report.Duplicate = true
			report.Summary = fmt.Sprintf("⏭️ %s zaten işlenmiş.", name)
			if err := s.ledger.MarkDuplicate(ctx, report.FileID, name); err != nil {
				logger.WithError(err).Warn("Failed to update file ledger")
			}
			return report, nil
		}
	}

	if err := s.ledger.MarkProcessing(ctx, report.FileID, name); err != nil {
		logger.WithError(err).Warn("Failed to update file ledger")
	}

	doc, err := s.extractor.Extract(ctx, in.Path)
	if err != nil {
		logger.WithError(err).Error("Failed to extract PDF")
		return s.fail(ctx, report, err), err
	}
	report.Pages = len(doc.Pages)
	logger.WithField("pages", report.Pages).Info("Ingesting PDF")

	base := ids.base
	rendererOK := s.renderPages && s.renderer != nil
	for _, page := range doc.Pages {
		if err := ctx.Err(); err != nil {
			return s.fail(ctx, report, err), err
		}

		if page.HasText() {
			s.insertText(ctx, report, ids, base, page)
		}

		if len(page.Images) > 0 {
			for _, img := range page.Images {
				s.insertImage(ctx, report, ids, base, page.Number, img)
			}
		} else if rendererOK {
			if !s.insertRendered(ctx, report, ids, base, in.Path, page.Number) {
				rendererOK = false
			}
		}

		if progress != nil {
			progress(name, page.Number, report.Pages)
		}
	}

	if report.Failed > 0 {
		msg := fmt.Sprintf("%d records failed", report.Failed)
		report.Summary = fmt.Sprintf("❌ %s - hata: %s", base, msg)
		report.Error = msg
		if err := s.ledger.MarkFailed(ctx, report.FileID, msg); err != nil {
			logger.WithError(err).Warn("Failed to update file ledger")
		}
		return report, nil
	}

	if ids.FileLevel() {
		rec := vectordb.Record{
			ID:     ids.File(),
			Type:   vectordb.TypeFile,
			Name:   base,
			Source: doc.Hash,
		}
		if err := s.vectors.Insert(ctx, rec); err != nil && !errors.Is(err, vectordb.ErrAlreadyExists) {
			logger.WithError(err).Error("Failed to insert file record")
			return s.fail(ctx, report, err), err
		}
	}

	report.Summary = fmt.Sprintf("✅ %s işlendi ve yüklendi.", base)
	if err := s.ledger.MarkCompleted(ctx, report.FileID, report); err != nil {
		logger.WithError(err).Warn("Failed to update file ledger")
	}
	logger.WithFields(logrus.Fields{
		"inserted": report.Inserted,
		"skipped":  report.Skipped,
	}).Info("PDF ingested")
	return report, nil
}

// fail 记录文件级错误
func (s *IngestService) fail(ctx context.Context, report *FileReport, err error) *FileReport {
	report.Error = err.Error()
	report.Summary = fmt.Sprintf("❌ %s - hata: %s", report.FileName, err.Error())
	if report.FileID != "" {
		if lerr := s.ledger.MarkFailed(context.WithoutCancel(ctx), report.FileID, err.Error()); lerr != nil {
			s.logger.WithError(lerr).WithField("file_id", report.FileID).Warn("Failed to update file ledger")
		}
	}
	return report
}

func (s *IngestService) insertText(ctx context.Context, report *FileReport, ids recordIDs, base string, page document.Page) {
	rec := vectordb.Record{
		ID:      ids.Text(page.Number),
		Type:    vectordb.TypeText,
		Page:    page.Number,
		File:    base,
		Content: llm.Truncate(page.Text, s.textLimit),
		Source:  ids.hash,
	}
	s.insert(ctx, report, rec, rec.Content, nil)
}

func (s *IngestService) insertImage(ctx context.Context, report *FileReport, ids recordIDs, base string, page int, img document.Image) {
	rec := vectordb.Record{
		ID:      ids.Image(page, img.Index),
		Type:    vectordb.TypeImage,
		Page:    page,
		File:    imageFileName(base, page, img.Index, img.Ext),
		Content: ImageContent,
		Source:  ids.hash,
	}
	text := fmt.Sprintf("%s sayfa %d görsel %d", base, page, img.Index)
	s.insert(ctx, report, rec, text, func(r *vectordb.Record) error {
		return s.storeImage(ctx, ids, r, img.Index, img.Data)
	})
}

// insertRendered 渲染工具不可用时返回false，后续页面不再尝试
func (s *IngestService) insertRendered(ctx context.Context, report *FileReport, ids recordIDs, base, path string, page int) bool {
	rec := vectordb.Record{
		ID:      ids.Rendered(page),
		Type:    vectordb.TypeRenderedPage,
		Page:    page,
		File:    renderedFileName(base, page),
		Content: RenderedContent,
		Source:  ids.hash,
	}

	exists, err := s.vectors.Exists(ctx, rec.ID)
	if err != nil {
		report.add(rec.ID, rec.Type, StatusFailed, err.Error())
		return true
	}
	if exists {
		report.add(rec.ID, rec.Type, StatusSkipped, "")
		return true
	}

	data, err := s.renderer.RenderPage(ctx, path, page)
	if errors.Is(err, document.ErrRendererUnavailable) {
		s.logger.WithError(err).Warn("Page renderer unavailable, skipping rendered pages")
		return false
	}
	if err != nil {
		report.add(rec.ID, rec.Type, StatusFailed, err.Error())
		return true
	}

	text := fmt.Sprintf("%s sayfa %d", base, page)
	s.insert(ctx, report, rec, text, func(r *vectordb.Record) error {
		return s.storeImage(ctx, ids, r, 0, data)
	})
	return true
}

// insert 存在性检查、生成向量、写入
// prepare在写入前执行，用于保存图片文件
func (s *IngestService) insert(ctx context.Context, report *FileReport, rec vectordb.Record, text string, prepare func(*vectordb.Record) error) {
	logger := s.logger.WithFields(logrus.Fields{
		"record_id": rec.ID,
		"type":      rec.Type,
		"page":      rec.Page,
	})

	exists, err := s.vectors.Exists(ctx, rec.ID)
	if err != nil {
		logger.WithError(err).Error("Failed to check record")
		report.add(rec.ID, rec.Type, StatusFailed, err.Error())
		return
	}
	if exists {
		report.add(rec.ID, rec.Type, StatusSkipped, "")
		return
	}

	if prepare != nil {
		if err := prepare(&rec); err != nil {
			logger.WithError(err).Error("Failed to store image")
			report.add(rec.ID, rec.Type, StatusFailed, err.Error())
			return
		}
	}

	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		logger.WithError(err).Error("Failed to embed record")
		report.add(rec.ID, rec.Type, StatusFailed, err.Error())
		return
	}
	rec.Vector = vector

	err = s.vectors.Insert(ctx, rec)
	switch {
	case errors.Is(err, vectordb.ErrAlreadyExists):
		report.add(rec.ID, rec.Type, StatusSkipped, "")
	case err != nil:
		logger.WithError(err).Error("Failed to insert record")
		report.add(rec.ID, rec.Type, StatusFailed, err.Error())
	default:
		logger.Debug("Record inserted")
		report.add(rec.ID, rec.Type, StatusInserted, "")
	}
}

// storeImage 保存图片到存储、上传云盘并登记
// 云盘上传失败只记录日志
func (s *IngestService) storeImage(ctx context.Context, ids recordIDs, rec *vectordb.Record, index int, data []byte) error {
	base := ids.base
	if s.images != nil {
		if _, err := s.images.Save(ctx, rec.File, bytes.NewReader(data)); err != nil {
			return fmt.Errorf("save image: %w", err)
		}
	}

	if s.uploader != nil {
		id, err := s.uploader.Upload(ctx, base, rec.File, bytes.NewReader(data))
		if err != nil {
			s.logger.WithError(err).WithField("file", rec.File).Warn("Failed to upload image to drive")
		} else {
			rec.DriveFileID = id
		}
	}

	if s.imageRepo != nil {
		asset := &models.ImageAsset{
			RecordID:    rec.ID,
			FileID:      ids.File(),
			SourceFile:  base,
			Page:        rec.Page,
			ImageIndex:  index,
			StorageName: rec.File,
			DriveFileID: rec.DriveFileID,
		}
		if err := s.imageRepo.WithContext(ctx).Save(asset); err != nil {
			s.logger.WithError(err).WithField("record_id", rec.ID).Warn("Failed to register image")
		}
	}
	return nil
}

// RemoveFile 删除暂存文件，忽略不存在的情况
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
