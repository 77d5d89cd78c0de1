package taskqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Queue 任务队列接口
type Queue interface {
	// Enqueue 将任务加入队列
	Enqueue(ctx context.Context, taskType TaskType, fileID string, payload interface{}) (string, error)

	// EnqueueIn 在指定延迟后将任务加入队列
	EnqueueIn(ctx context.Context, taskType TaskType, fileID string, payload interface{}, delay time.Duration) (string, error)

	// GetTask 获取任务信息
	GetTask(ctx context.Context, taskID string) (*Task, error)

	// GetTasksByFile 获取文件相关的所有任务
	GetTasksByFile(ctx context.Context, fileID string) ([]*Task, error)

	// WaitForTask 等待任务结束，timeout为0表示不设置超时
	WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (*Task, error)

	// UpdateTaskStatus 更新任务状态和结果
	UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus, result interface{}, errorMsg string) error

	// UpdateProgress 更新任务进度
	UpdateProgress(ctx context.Context, taskID string, progress float64) error

	// DeleteTask 删除任务
	DeleteTask(ctx context.Context, taskID string) error

	// Close 关闭队列连接
	Close() error
}

// Handler 任务处理器
type Handler interface {
	// ProcessTask 处理任务，返回的结果会写入任务
	ProcessTask(ctx context.Context, task *Task) (interface{}, error)
}

type finalAttemptKey struct{}

// IsFinalAttempt 本次执行失败后是否不再重试
func IsFinalAttempt(ctx context.Context) bool {
	final, _ := ctx.Value(finalAttemptKey{}).(bool)
	return final
}

// HandlerFunc 函数形式的处理器
type HandlerFunc func(ctx context.Context, task *Task) (interface{}, error)

// ProcessTask 实现Handler
func (f HandlerFunc) ProcessTask(ctx context.Context, task *Task) (interface{}, error) {
	return f(ctx, task)
}

// Worker 运行一组Handler处理队列中的任务
type Worker interface {
	// RegisterHandler 注册任务处理器
	RegisterHandler(taskType TaskType, handler Handler)

	// Start 启动工作者
	Start() error

	// Stop 停止工作者并等待进行中的任务
	Stop()
}

// Config 队列配置
type Config struct {
	RedisAddr     string         // Redis地址
	RedisPassword string         // Redis密码
	RedisDB       int            // Redis数据库
	Concurrency   int            // 并发处理任务数
	RetryLimit    int            // 最大重试次数
	RetryDelay    time.Duration  // 重试延迟
	TaskTimeout   time.Duration  // 单个任务超时
	TaskExpiry    time.Duration  // 任务数据保留时间
	QueueName     string         // 入队使用的队列
	Queues        map[string]int // 队列名称到优先级的映射
	Logger        *logrus.Logger
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		RedisAddr:   "localhost:6379",
		Concurrency: 2,
		RetryLimit:  2,
		RetryDelay:  30 * time.Second,
		TaskTimeout: 30 * time.Minute,
		TaskExpiry:  7 * 24 * time.Hour,
		QueueName:   "default",
		Queues: map[string]int{
			"default": 3,
			"low":     1,
		},
	}
}

func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		c = d
	}
	out := *c
	if out.RedisAddr == "" {
		out.RedisAddr = d.RedisAddr
	}
	if out.Concurrency <= 0 {
		out.Concurrency = d.Concurrency
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = d.RetryDelay
	}
	if out.TaskTimeout <= 0 {
		out.TaskTimeout = d.TaskTimeout
	}
	if out.TaskExpiry <= 0 {
		out.TaskExpiry = d.TaskExpiry
	}
	if out.QueueName == "" {
		out.QueueName = d.QueueName
	}
	if len(out.Queues) == 0 {
		out.Queues = map[string]int{out.QueueName: 1}
	}
	if out.Logger == nil {
		out.Logger = logrus.New()
	}
	return &out
}

// Factory 队列工厂函数类型
type Factory func(cfg *Config) (Queue, error)

// 队列工厂函数映射
var queueFactories = make(map[string]Factory)

// RegisterQueueFactory 注册队列工厂函数
func RegisterQueueFactory(name string, factory Factory) {
	queueFactories[name] = factory
}

// NewQueue 根据名称创建队列实例
func NewQueue(name string, cfg *Config) (Queue, error) {
	factory, exists := queueFactories[name]
	if !exists {
		return nil, fmt.Errorf("unknown queue implementation: %s", name)
	}
	return factory(cfg)
}

func init() {
	RegisterQueueFactory("redis", func(cfg *Config) (Queue, error) {
		return NewRedisQueue(cfg)
	})
	RegisterQueueFactory("memory", func(cfg *Config) (Queue, error) {
		return NewMemoryQueue(cfg), nil
	})
}
