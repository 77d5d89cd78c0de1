package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/pdf-QA-system/api/middleware"
	"github.com/fyerfyer/pdf-QA-system/api/model"
	"github.com/fyerfyer/pdf-QA-system/internal/llm"
	"github.com/fyerfyer/pdf-QA-system/internal/services"
)

// QAHandler 处理问答相关的API请求
type QAHandler struct {
	qaService *services.QAService // 问答服务
	logger    *logrus.Logger      // 日志记录器
}

// NewQAHandler 创建新的问答处理器
func NewQAHandler(qaService *services.QAService) *QAHandler {
	return &QAHandler{
		qaService: qaService,
		logger:    middleware.GetLogger(),
	}
}

// AnswerQuestion 处理问答请求
// POST /api/qa
func (h *QAHandler) AnswerQuestion(c *gin.Context) {
	var req model.QARequest
	if err := c.ShouldBind(&req); err != nil {
		h.logger.WithFields(logrus.Fields{
			"error": err.Error(),
		}).Warn("Invalid question request")

		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"Soru boş olamaz",
		))
		return
	}

	ans, err := h.qaService.Ask(c.Request.Context(), req.Question)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"question": llm.Truncate(req.Question, 80),
		"sources":  len(ans.Sources),
		"cached":   ans.Cached,
		"no_match": ans.NoMatch,
	}).Info("Question handled")

	c.JSON(http.StatusOK, model.NewSuccessResponse(ans))
}

// History 最近的问答记录
// GET /api/qa/history
func (h *QAHandler) History(c *gin.Context) {
	var req model.HistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "Geçersiz istek parametreleri"))
		return
	}

	logs, err := h.qaService.History(c.Request.Context(), req.Limit)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	items := make([]model.HistoryItem, 0, len(logs))
	for _, l := range logs {
		items = append(items, model.HistoryItem{
			Question:   l.Question,
			Answer:     l.Answer,
			Model:      l.Model,
			Cached:     l.Cached,
			DurationMs: l.DurationMs,
			CreatedAt:  l.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.HistoryResponse{Items: items}))
}
