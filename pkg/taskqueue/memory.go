package taskqueue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MemoryQueue 进程内队列，同时实现Queue和Worker
// 未配置Redis时用于异步导入，进程退出后任务丢失
type MemoryQueue struct {
	cfg    *Config
	logger *logrus.Logger

	mu       sync.RWMutex
	tasks    map[string]*Task
	done     map[string]chan struct{}
	handlers map[TaskType]Handler
	pending  []string
	started  bool
	stopped  bool

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewMemoryQueue 创建进程内队列
func NewMemoryQueue(cfg *Config) *MemoryQueue {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryQueue{
		cfg:      cfg,
		logger:   cfg.Logger,
		tasks:    make(map[string]*Task),
		done:     make(map[string]chan struct{}),
		handlers: make(map[TaskType]Handler),
		sem:      make(chan struct{}, cfg.Concurrency),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RegisterHandler 注册任务处理器
func (q *MemoryQueue) RegisterHandler(taskType TaskType, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[taskType] = handler
}

// Start 开始处理任务，启动前入队的任务会被依次派发
func (q *MemoryQueue) Start() error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return fmt.Errorf("memory queue already stopped")
	}
	q.started = true
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, id := range pending {
		q.dispatch(id, 0)
	}
	return nil
}

// Stop 取消进行中的任务并等待退出
func (q *MemoryQueue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
}

// Enqueue 将任务加入队列
func (q *MemoryQueue) Enqueue(ctx context.Context, taskType TaskType, fileID string, payload interface{}) (string, error) {
	return q.EnqueueIn(ctx, taskType, fileID, payload, 0)
}

// EnqueueIn 在指定延迟后将任务加入队列
func (q *MemoryQueue) EnqueueIn(ctx context.Context, taskType TaskType, fileID string, payload interface{}, delay time.Duration) (string, error) {
	payloadBytes, err := MarshalPayload(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := time.Now()
	task := &Task{
		ID:         uuid.New().String(),
		Type:       taskType,
		FileID:     fileID,
		Status:     StatusPending,
		Payload:    payloadBytes,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: q.cfg.RetryLimit,
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return "", fmt.Errorf("memory queue stopped")
	}
	q.tasks[task.ID] = task
	q.done[task.ID] = make(chan struct{})
	started := q.started
	if !started {
		q.pending = append(q.pending, task.ID)
	}
	q.mu.Unlock()

	if started {
		q.dispatch(task.ID, delay)
	}

	q.logger.WithFields(logrus.Fields{
		"task_id":   task.ID,
		"task_type": taskType,
		"file_id":   fileID,
	}).Info("Task enqueued in memory")
	return task.ID, nil
}

// dispatch 在后台执行任务，失败时按RetryLimit重试
func (q *MemoryQueue) dispatch(taskID string, delay time.Duration) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-q.ctx.Done():
				return
			}
		}

		select {
		case q.sem <- struct{}{}:
		case <-q.ctx.Done():
			return
		}
		defer func() { <-q.sem }()

		task, err := q.GetTask(q.ctx, taskID)
		if err != nil {
			return
		}
		q.mu.RLock()
		handler, ok := q.handlers[task.Type]
		q.mu.RUnlock()
		if !ok {
			_ = q.UpdateTaskStatus(q.ctx, taskID, StatusFailed, nil, ErrNoHandler.Error())
			return
		}

		for attempt := 0; ; attempt++ {
			final := attempt >= q.cfg.RetryLimit
			err := runHandler(q.ctx, q, handler, taskID, final, q.logger)
			if err == nil || final || q.ctx.Err() != nil {
				return
			}
			select {
			case <-time.After(q.cfg.RetryDelay):
			case <-q.ctx.Done():
				return
			}
		}
	}()
}

// GetTask 返回任务副本
func (q *MemoryQueue) GetTask(_ context.Context, taskID string) (*Task, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	task, ok := q.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	cp := *task
	return &cp, nil
}

// GetTasksByFile 按创建时间排序
func (q *MemoryQueue) GetTasksByFile(_ context.Context, fileID string) ([]*Task, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	tasks := make([]*Task, 0)
	for _, task := range q.tasks {
		if task.FileID == fileID {
			cp := *task
			tasks = append(tasks, &cp)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// WaitForTask 等待任务结束
func (q *MemoryQueue) WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (*Task, error) {
	q.mu.RLock()
	done, ok := q.done[taskID]
	q.mu.RUnlock()
	if !ok {
		return nil, ErrTaskNotFound
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case <-done:
		return q.GetTask(ctx, taskID)
	case <-ctx.Done():
		return nil, ErrTaskTimeout
	}
}

// UpdateTaskStatus 更新任务状态，终止状态会唤醒等待者
func (q *MemoryQueue) UpdateTaskStatus(_ context.Context, taskID string, status TaskStatus, result interface{}, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	wasDone := task.Status.Done()
	if err := applyStatus(task, status, result, errMsg); err != nil {
		return err
	}
	if status.Done() && !wasDone {
		close(q.done[taskID])
	}
	return nil
}

// UpdateProgress 更新任务进度
func (q *MemoryQueue) UpdateProgress(_ context.Context, taskID string, progress float64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	task.Progress = clampProgress(progress)
	task.UpdatedAt = time.Now()
	return nil
}

// DeleteTask 删除任务
func (q *MemoryQueue) DeleteTask(_ context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.tasks[taskID]; !ok {
		return ErrTaskNotFound
	}
	delete(q.tasks, taskID)
	delete(q.done, taskID)
	return nil
}

// Close 等同于Stop
func (q *MemoryQueue) Close() error {
	q.Stop()
	return nil
}
