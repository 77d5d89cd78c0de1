package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/pdf-QA-system/api/middleware"
	"github.com/fyerfyer/pdf-QA-system/api/model"
	"github.com/fyerfyer/pdf-QA-system/internal/services"
)

// TagHandler 图片浏览与标注
type TagHandler struct {
	tags   *services.TagService
	logger *logrus.Logger
}

// NewTagHandler 创建标注处理器
func NewTagHandler(tags *services.TagService) *TagHandler {
	return &TagHandler{
		tags:   tags,
		logger: middleware.GetLogger(),
	}
}

// ListImages 列出可标注的图片
// GET /api/images
func (h *TagHandler) ListImages(c *gin.Context) {
	images, err := h.tags.ListImages(c.Request.Context())
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.ImageListResponse{Images: images}))
}

// ServeImage 返回图片内容
// GET /api/images/file/*name
func (h *TagHandler) ServeImage(c *gin.Context) {
	name := strings.TrimPrefix(c.Param("name"), "/")
	rc, mime, err := h.tags.OpenImage(c.Request.Context(), name)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Type", mime)
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		h.logger.WithError(err).WithField("image", name).Warn("Failed to stream image")
	}
}

// UpdateLabel 给图片追加标签
// POST /api/images/labels
func (h *TagHandler) UpdateLabel(c *gin.Context) {
	var req model.LabelRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			services.MsgLabelFailed,
		))
		return
	}

	msg, err := h.tags.UpdateLabel(c.Request.Context(), req.Image, req.Label)
	resp := model.LabelResponse{Image: req.Image, Message: msg, Updated: err == nil}
	if err != nil {
		// 界面只需要状态文本，失败原因写日志
		h.logger.WithFields(logrus.Fields{
			"image": req.Image,
			"error": err.Error(),
		}).Warn("Label update failed")
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}
