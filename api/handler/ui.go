package handler

import (
	_ "embed"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fyerfyer/pdf-QA-system/api/model"
)

//go:embed web/index.html
var indexHTML []byte

// UIHandler 网页界面和状态检查
type UIHandler struct {
	components map[string]string // 组件名到实现方式，用于健康检查
}

// NewUIHandler 创建界面处理器
func NewUIHandler(components map[string]string) *UIHandler {
	if components == nil {
		components = map[string]string{}
	}
	return &UIHandler{components: components}
}

// Index 返回三个标签页的单页界面
// GET /
func (h *UIHandler) Index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

// Status 存活检查
// GET /status
func (h *UIHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "PDF QA app is running"})
}

// Health 列出启用的组件
// GET /api/health
func (h *UIHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.HealthResponse{
		Status:     "ok",
		Components: h.components,
	}))
}
