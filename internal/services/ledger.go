package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fyerfyer/pdf-QA-system/internal/models"
	"github.com/fyerfyer/pdf-QA-system/internal/repository"
	"github.com/fyerfyer/pdf-QA-system/internal/vectordb"
	"github.com/sirupsen/logrus"
)

// ErrInvalidTransition 非法的状态转换
var ErrInvalidTransition = errors.New("invalid state transition")

// FileStatusManager 维护PDF台账的处理状态
// 仓储为nil时所有操作都是空操作
type FileStatusManager struct {
	repo   repository.FileRepository
	logger *logrus.Logger
	mu     sync.Mutex
}

// NewFileStatusManager 创建状态管理器
func NewFileStatusManager(repo repository.FileRepository, logger *logrus.Logger) *FileStatusManager {
	if logger == nil {
		logger = logrus.New()
	}
	return &FileStatusManager{repo: repo, logger: logger}
}

// Enabled 是否配置了台账
func (m *FileStatusManager) Enabled() bool {
	return m != nil && m.repo != nil
}

// IsCompleted 文件是否已成功导入过
func (m *FileStatusManager) IsCompleted(ctx context.Context, fileID string) (bool, error) {
	if !m.Enabled() {
		return false, nil
	}
	return m.repo.WithContext(ctx).Exists(fileID)
}

// MarkQueued 创建或重置为排队状态
func (m *FileStatusManager) MarkQueued(ctx context.Context, fileID, fileName, taskID string) error {
	if !m.Enabled() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	repo := m.repo.WithContext(ctx)
	file, err := repo.GetByID(fileID)
	switch {
	case errors.Is(err, models.ErrFileNotFound):
		file = &models.IngestedFile{ID: fileID, FileName: fileName}
	case err != nil:
		return err
	}

	file.FileName = fileName
	file.Status = models.FileStatusQueued
	file.TaskID = taskID
	file.Error = ""
	return repo.Save(file)
}

// MarkProcessing 标记为处理中，不存在时创建
func (m *FileStatusManager) MarkProcessing(ctx context.Context, fileID, fileName string) error {
	if !m.Enabled() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	repo := m.repo.WithContext(ctx)
	file, err := repo.GetByID(fileID)
	switch {
	case errors.Is(err, models.ErrFileNotFound):
		return repo.Create(&models.IngestedFile{
			ID:       fileID,
			FileName: fileName,
			Status:   models.FileStatusProcessing,
		})
	case err != nil:
		return err
	}

	if err := ValidateStateTransition(file.Status, models.FileStatusProcessing); err != nil {
		return fmt.Errorf("file %s: %w", fileID, err)
	}

	m.logger.WithField("file_id", fileID).Debug("Marking file as processing")
	return repo.UpdateStatus(fileID, models.FileStatusProcessing, "")
}

// MarkCompleted 记录统计数据并标记为完成
func (m *FileStatusManager) MarkCompleted(ctx context.Context, fileID string, report *FileReport) error {
	if !m.Enabled() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	repo := m.repo.WithContext(ctx)
	file, err := repo.GetByID(fileID)
	if err != nil {
		return err
	}

	file.Pages = report.Pages
	file.TextRecords = report.Count(StatusInserted, vectordb.TypeText)
	file.ImageRecords = report.Count(StatusInserted, vectordb.TypeImage)
	file.RenderedRecords = report.Count(StatusInserted, vectordb.TypeRenderedPage)
	file.SkippedRecords = report.Skipped
	file.Error = ""
	if err := repo.Save(file); err != nil {
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"file_id":  fileID,
		"inserted": report.Inserted,
		"skipped":  report.Skipped,
	}).Info("Marking file as completed")
	return repo.UpdateStatus(fileID, models.FileStatusCompleted, "")
}

// MarkDuplicate 向量库中已有该文件时标记为重复
// 本地已记录为完成的文件保持completed
func (m *FileStatusManager) MarkDuplicate(ctx context.Context, fileID, fileName string) error {
	if !m.Enabled() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	repo := m.repo.WithContext(ctx)
	file, err := repo.GetByID(fileID)
	switch {
	case errors.Is(err, models.ErrFileNotFound):
		return repo.Create(&models.IngestedFile{
			ID:       fileID,
			FileName: fileName,
			Status:   models.FileStatusDuplicate,
		})
	case err != nil:
		return err
	}

	if file.Status == models.FileStatusCompleted || file.Status == models.FileStatusDuplicate {
		return nil
	}
	if err := ValidateStateTransition(file.Status, models.FileStatusDuplicate); err != nil {
		return fmt.Errorf("file %s: %w", fileID, err)
	}
	return repo.UpdateStatus(fileID, models.FileStatusDuplicate, "")
}

// SetTaskID 入队成功后回写任务ID
func (m *FileStatusManager) SetTaskID(ctx context.Context, fileID, taskID string) error {
	if !m.Enabled() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo.WithContext(ctx).SetTaskID(fileID, taskID)
}

// MarkFailed 标记为失败
func (m *FileStatusManager) MarkFailed(ctx context.Context, fileID string, errorMsg string) error {
	if !m.Enabled() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"file_id": fileID,
		"error":   errorMsg,
	}).Error("Marking file as failed")
	return m.repo.WithContext(ctx).UpdateStatus(fileID, models.FileStatusFailed, errorMsg)
}

// ValidateStateTransition 检查状态转换是否合法
func ValidateStateTransition(from, to models.FileStatus) error {
	validTransitions := map[models.FileStatus][]models.FileStatus{
		models.FileStatusQueued: {
			models.FileStatusProcessing,
			models.FileStatusDuplicate,
			models.FileStatusFailed,
		},
		models.FileStatusProcessing: {
			models.FileStatusProcessing, // 任务重试
			models.FileStatusCompleted,
			models.FileStatusDuplicate,
			models.FileStatusFailed,
		},
		// 按名称生成ID时允许重新导入，已存在的记录逐条跳过
		models.FileStatusCompleted: {models.FileStatusQueued, models.FileStatusProcessing},
		models.FileStatusDuplicate: {models.FileStatusQueued, models.FileStatusProcessing},
		models.FileStatusFailed:    {models.FileStatusQueued, models.FileStatusProcessing, models.FileStatusDuplicate},
	}

	for _, valid := range validTransitions[from] {
		if valid == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
