package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/pdf-QA-system/pkg/taskqueue"
)

// IngestTaskHandler 队列中PDF导入任务的处理器
type IngestTaskHandler struct {
	service *IngestService
	queue   taskqueue.Queue
	logger  *logrus.Logger
}

// NewIngestTaskHandler 创建任务处理器
func NewIngestTaskHandler(service *IngestService, queue taskqueue.Queue, logger *logrus.Logger) *IngestTaskHandler {
	if logger == nil {
		logger = service.logger
	}
	return &IngestTaskHandler{service: service, queue: queue, logger: logger}
}

// ProcessTask 实现taskqueue.Handler
func (h *IngestTaskHandler) ProcessTask(ctx context.Context, task *taskqueue.Task) (interface{}, error) {
	var payload taskqueue.IngestPayload
	if err := taskqueue.UnmarshalPayload(task.Payload, &payload); err != nil {
		return nil, err
	}
	if payload.FilePath == "" {
		return nil, fmt.Errorf("%w: missing file path", taskqueue.ErrInvalidPayload)
	}

	logger := h.logger.WithFields(logrus.Fields{
		"task_id": task.ID,
		"file_id": payload.FileID,
		"file":    payload.FileName,
	})
	logger.Info("Processing ingest task")

	progress := func(_ string, page, total int) {
		if total == 0 {
			return
		}
		if err := h.queue.UpdateProgress(ctx, task.ID, float64(page)*100/float64(total)); err != nil {
			logger.WithError(err).Debug("Failed to update task progress")
		}
	}

	report, err := h.service.IngestFile(ctx, Input{Path: payload.FilePath, Name: payload.FileName}, progress)
	// 还会重试时保留暂存文件
	if payload.RemoveAfter && (err == nil || taskqueue.IsFinalAttempt(ctx)) {
		if rmErr := RemoveFile(payload.FilePath); rmErr != nil {
			logger.WithError(rmErr).Warn("Failed to remove uploaded file")
		}
	}
	if err != nil {
		return nil, err
	}

	return taskqueue.IngestResult{
		FileID:   report.FileID,
		Lines:    report.Messages(),
		Inserted: report.Inserted,
		Skipped:  report.Skipped,
		Failed:   report.Failed,
	}, nil
}

// EnqueueIngest 把PDF加入导入队列，返回任务ID和文件ID
func (s *IngestService) EnqueueIngest(ctx context.Context, q taskqueue.Queue, in Input, removeAfter bool) (string, string, error) {
	fileID, err := s.FileID(in)
	if err != nil {
		return "", "", err
	}

	payload := taskqueue.IngestPayload{
		FileID:      fileID,
		FileName:    in.fileName(),
		FilePath:    in.Path,
		RemoveAfter: removeAfter,
	}
	// 先写台账，内存队列可能在Enqueue返回前就开始处理
	if err := s.ledger.MarkQueued(ctx, fileID, in.fileName(), ""); err != nil {
		s.logger.WithError(err).WithField("file_id", fileID).Warn("Failed to update file ledger")
	}

	taskID, err := q.Enqueue(ctx, taskqueue.TaskPDFIngest, fileID, payload)
	if err != nil {
		_ = s.ledger.MarkFailed(ctx, fileID, err.Error())
		return "", fileID, fmt.Errorf("enqueue ingest: %w", err)
	}
	if err := s.ledger.SetTaskID(ctx, fileID, taskID); err != nil {
		s.logger.WithError(err).WithField("file_id", fileID).Warn("Failed to record task id in ledger")
	}
	s.logger.WithFields(logrus.Fields{
		"task_id": taskID,
		"file_id": fileID,
	}).Info("Ingest task enqueued")
	return taskID, fileID, nil
}
