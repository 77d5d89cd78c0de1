package services

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/pdf-QA-system/internal/models"
	"github.com/fyerfyer/pdf-QA-system/internal/repository"
	"github.com/fyerfyer/pdf-QA-system/internal/vectordb"
	"github.com/fyerfyer/pdf-QA-system/pkg/storage"
)

// 标签更新的状态文本
const (
	MsgLabelUpdated = "✅ Etiket güncellendi"
	MsgLabelFailed  = "❌ Etiket güncellenemedi"
)

// ErrEmptyLabel 标签为空
var ErrEmptyLabel = errors.New("label cannot be empty")

// ImageInfo 标注页面展示的图片
type ImageInfo struct {
	Name     string   `json:"name"`
	RecordID string   `json:"record_id"`
	Source   string   `json:"source,omitempty"`
	Page     int      `json:"page,omitempty"`
	Size     int64    `json:"size"`
	Labels   []string `json:"labels"`
}

// TagService 图片浏览与标注
type TagService struct {
	images    storage.Storage
	vectors   vectordb.Repository
	imageRepo repository.ImageRepository
	logger    *logrus.Logger
}

// NewTagService 创建标注服务，imageRepo可以为nil
func NewTagService(images storage.Storage, vectors vectordb.Repository, imageRepo repository.ImageRepository, logger *logrus.Logger) *TagService {
	if logger == nil {
		logger = logrus.New()
	}
	return &TagService{
		images:    images,
		vectors:   vectors,
		imageRepo: imageRepo,
		logger:    logger,
	}
}

// ListImages 列出已保存的png/jpg/jpeg图片
func (s *TagService) ListImages(ctx context.Context) ([]ImageInfo, error) {
	files, err := s.images.List(ctx, "")
	if err != nil {
		return nil, err
	}

	out := make([]ImageInfo, 0, len(files))
	for _, f := range files {
		if !storage.IsImage(f.Name) {
			continue
		}
		info := ImageInfo{Name: f.Name, Size: f.Size, RecordID: legacyRecordID(f.Name)}
		if asset := s.lookup(ctx, f.Name); asset != nil {
			info.RecordID = asset.RecordID
			info.Source = asset.SourceFile
			info.Page = asset.Page
			info.Labels = asset.GetLabels()
		}
		if info.Labels == nil {
			info.Labels = []string{}
		}
		out = append(out, info)
	}
	return out, nil
}

// OpenImage 读取图片内容，返回内容和MIME类型
func (s *TagService) OpenImage(ctx context.Context, name string) (io.ReadCloser, string, error) {
	if !storage.IsImage(name) {
		return nil, "", storage.ErrNotFound
	}
	rc, err := s.images.Get(ctx, name)
	if err != nil {
		return nil, "", err
	}
	return rc, storage.MimeType(name), nil
}

// UpdateLabel 给图片对应的记录追加标签
// label可以用逗号分隔多个标签，返回界面上展示的状态文本
func (s *TagService) UpdateLabel(ctx context.Context, name, label string) (string, error) {
	labels := ParseLabels(label)
	if len(labels) == 0 {
		return MsgLabelFailed, ErrEmptyLabel
	}

	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	recordID := legacyRecordID(name)
	asset := s.lookup(ctx, name)
	if asset != nil {
		recordID = asset.RecordID
	}

	logger := s.logger.WithFields(logrus.Fields{
		"image":     name,
		"record_id": recordID,
	})

	rec, err := s.vectors.Get(ctx, recordID)
	if err != nil {
		logger.WithError(err).Warn("Failed to find record for image")
		return MsgLabelFailed, err
	}

	merged := vectordb.MergeLabels(rec.Labels, labels...)
	if err := s.vectors.UpdateLabels(ctx, recordID, merged); err != nil {
		logger.WithError(err).Error("Failed to update labels")
		return MsgLabelFailed, err
	}

	if asset != nil {
		if err := s.imageRepo.WithContext(ctx).UpdateLabels(recordID, merged); err != nil {
			logger.WithError(err).Warn("Failed to update image labels in ledger")
		}
	}

	logger.WithField("labels", merged).Info("Image labels updated")
	return MsgLabelUpdated, nil
}

func (s *TagService) lookup(ctx context.Context, name string) *models.ImageAsset {
	if s.imageRepo == nil {
		return nil
	}
	asset, err := s.imageRepo.WithContext(ctx).GetByStorageName(name)
	if err != nil {
		if !errors.Is(err, models.ErrImageNotFound) {
			s.logger.WithError(err).WithField("image", name).Warn("Failed to look up image")
		}
		return nil
	}
	return asset
}

// ParseLabels 按逗号拆分标签，去掉空白和重复
func ParseLabels(label string) []string {
	var out []string
	for _, l := range strings.Split(label, ",") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return vectordb.MergeLabels(nil, out...)
}

// legacyRecordID 没有登记的图片按文件名推断记录ID
func legacyRecordID(name string) string {
	return strings.ReplaceAll(path.Base(name), ".", "_")
}
