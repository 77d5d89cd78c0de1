package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/pdf-QA-system/api/middleware"
	"github.com/fyerfyer/pdf-QA-system/api/model"
	"github.com/fyerfyer/pdf-QA-system/pkg/taskqueue"
)

// TaskHandler 处理任务相关的API请求
type TaskHandler struct {
	queue  taskqueue.Queue // 任务队列
	logger *logrus.Logger  // 日志记录器
}

// NewTaskHandler 创建新的任务处理器
func NewTaskHandler(queue taskqueue.Queue) *TaskHandler {
	return &TaskHandler{
		queue:  queue,
		logger: middleware.GetLogger(),
	}
}

// GetTask 查询任务状态
// GET /api/tasks/:id
func (h *TaskHandler) GetTask(c *gin.Context) {
	taskID := c.Param("id")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "Görev ID boş olamaz"))
		return
	}

	task, err := h.queue.GetTask(c.Request.Context(), taskID)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"task_id": taskID,
			"error":   err.Error(),
		}).Debug("Task lookup failed")
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.TaskResponse{TaskInfo: taskqueue.NewTaskInfo(task)}))
}

// GetFileTasks 查询某个文件的所有任务
// GET /api/pdfs/:id/tasks
func (h *TaskHandler) GetFileTasks(c *gin.Context) {
	tasks, err := h.queue.GetTasksByFile(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	infos := make([]*taskqueue.TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		infos = append(infos, taskqueue.NewTaskInfo(t))
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(infos))
}
