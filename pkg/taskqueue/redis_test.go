package taskqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedisQueue 基于miniredis创建队列
func setupRedisQueue(t *testing.T) *RedisQueue {
	mr, err := miniredis.Run()
	require.NoError(t, err, "Failed to create miniredis")
	t.Cleanup(mr.Close)

	q, err := NewRedisQueue(&Config{
		RedisAddr:  mr.Addr(),
		RetryLimit: 2,
		RetryDelay: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestNewRedisQueue_ConnectionError(t *testing.T) {
	_, err := NewRedisQueue(&Config{RedisAddr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestRedisQueue_EnqueueAndGet(t *testing.T) {
	q := setupRedisQueue(t)
	ctx := context.Background()

	payload := &IngestPayload{FileID: "hash-1", FileName: "manual.pdf", FilePath: "/tmp/manual.pdf"}
	taskID, err := q.Enqueue(ctx, TaskPDFIngest, "hash-1", payload)
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	task, err := q.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, TaskPDFIngest, task.Type)
	assert.Equal(t, "hash-1", task.FileID)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, 2, task.MaxRetries)

	var got IngestPayload
	require.NoError(t, UnmarshalPayload(task.Payload, &got))
	assert.Equal(t, *payload, got)

	delayed, err := q.EnqueueIn(ctx, TaskPDFIngest, "hash-1", payload, time.Minute)
	require.NoError(t, err)

	tasks, err := q.GetTasksByFile(ctx, "hash-1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	ids := []string{tasks[0].ID, tasks[1].ID}
	assert.ElementsMatch(t, []string{taskID, delayed}, ids)

	_, err = q.GetTask(ctx, "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRedisQueue_StatusAndProgress(t *testing.T) {
	q := setupRedisQueue(t)
	ctx := context.Background()

	taskID, err := q.Enqueue(ctx, TaskPDFIngest, "hash-2", nil)
	require.NoError(t, err)

	require.NoError(t, q.UpdateTaskStatus(ctx, taskID, StatusProcessing, nil, ""))
	require.NoError(t, q.UpdateProgress(ctx, taskID, 140))

	task, err := q.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, task.Status)
	assert.NotNil(t, task.StartedAt)
	assert.Equal(t, 1, task.Attempts)
	assert.Equal(t, float64(100), task.Progress)

	result := &IngestResult{FileID: "hash-2", Inserted: 3, Lines: []string{"✅ a"}}
	require.NoError(t, q.UpdateTaskStatus(ctx, taskID, StatusCompleted, result, ""))

	task, err = q.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.NotNil(t, task.CompletedAt)

	var got IngestResult
	require.NoError(t, UnmarshalPayload(task.Result, &got))
	assert.Equal(t, 3, got.Inserted)

	info := NewTaskInfo(task)
	assert.Equal(t, float64(100), info.Progress)
}

func TestRedisQueue_WaitForTask(t *testing.T) {
	q := setupRedisQueue(t)
	ctx := context.Background()

	taskID, err := q.Enqueue(ctx, TaskPDFIngest, "hash-3", nil)
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = q.UpdateTaskStatus(context.Background(), taskID, StatusFailed, nil, "boom")
	}()

	task, err := q.WaitForTask(ctx, taskID, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, "boom", task.Error)

	other, err := q.Enqueue(ctx, TaskPDFIngest, "hash-3", nil)
	require.NoError(t, err)
	_, err = q.WaitForTask(ctx, other, 200*time.Millisecond)
	assert.ErrorIs(t, err, ErrTaskTimeout)
}

func TestRedisQueue_DeleteTask(t *testing.T) {
	q := setupRedisQueue(t)
	ctx := context.Background()

	taskID, err := q.Enqueue(ctx, TaskPDFIngest, "hash-4", nil)
	require.NoError(t, err)

	require.NoError(t, q.DeleteTask(ctx, taskID))
	_, err = q.GetTask(ctx, taskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	tasks, err := q.GetTasksByFile(ctx, "hash-4")
	require.NoError(t, err)
	assert.Empty(t, tasks)

	assert.ErrorIs(t, q.DeleteTask(ctx, taskID), ErrTaskNotFound)
}

// TestRedisWorker_Process 直接调用处理函数，不启动asynq服务器
func TestRedisWorker_Process(t *testing.T) {
	q := setupRedisQueue(t)
	ctx := context.Background()

	w := NewRedisWorker(q)
	w.RegisterHandler(TaskPDFIngest, HandlerFunc(func(ctx context.Context, task *Task) (interface{}, error) {
		var p IngestPayload
		if err := UnmarshalPayload(task.Payload, &p); err != nil {
			return nil, err
		}
		if p.FileName == "bad.pdf" {
			return nil, errors.New("broken pdf")
		}
		return &IngestResult{FileID: p.FileID, Inserted: 1}, nil
	}))

	okID, err := q.Enqueue(ctx, TaskPDFIngest, "ok", &IngestPayload{FileID: "ok", FileName: "good.pdf"})
	require.NoError(t, err)
	require.NoError(t, w.process(ctx, asynq.NewTask(string(TaskPDFIngest), []byte(okID))))

	task, err := q.GetTask(ctx, okID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Contains(t, string(task.Result), `"inserted":1`)

	badID, err := q.Enqueue(ctx, TaskPDFIngest, "bad", &IngestPayload{FileID: "bad", FileName: "bad.pdf"})
	require.NoError(t, err)
	assert.Error(t, w.process(ctx, asynq.NewTask(string(TaskPDFIngest), []byte(badID))))

	task, err = q.GetTask(ctx, badID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, "broken pdf", task.Error)

	err = w.process(ctx, asynq.NewTask("unknown", []byte(okID)))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = w.process(ctx, asynq.NewTask(string(TaskPDFIngest), []byte("missing")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestNewQueueFactory(t *testing.T) {
	q, err := NewQueue("memory", nil)
	require.NoError(t, err)
	// 未传配置时使用默认日志记录器
	id, err := q.Enqueue(context.Background(), TaskPDFIngest, "f", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, q.Close())

	_, err = NewQueue("kafka", nil)
	assert.Error(t, err)
}
