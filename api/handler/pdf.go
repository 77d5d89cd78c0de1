package handler

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/pdf-QA-system/api/middleware"
	"github.com/fyerfyer/pdf-QA-system/api/model"
	"github.com/fyerfyer/pdf-QA-system/internal/document"
	"github.com/fyerfyer/pdf-QA-system/internal/models"
	"github.com/fyerfyer/pdf-QA-system/internal/repository"
	"github.com/fyerfyer/pdf-QA-system/internal/services"
	"github.com/fyerfyer/pdf-QA-system/pkg/taskqueue"
)

// PDFHandler 处理PDF上传和台账查询
type PDFHandler struct {
	ingest    *services.IngestService
	queue     taskqueue.Queue           // 为nil时只支持同步导入
	files     repository.FileRepository // 为nil时不提供台账查询
	uploadDir string                    // 上传文件的暂存目录
	logger    *logrus.Logger
}

// NewPDFHandler 创建PDF处理器
func NewPDFHandler(ingest *services.IngestService, queue taskqueue.Queue, files repository.FileRepository, uploadDir string) *PDFHandler {
	if uploadDir == "" {
		uploadDir = os.TempDir()
	}
	return &PDFHandler{
		ingest:    ingest,
		queue:     queue,
		files:     files,
		uploadDir: uploadDir,
		logger:    middleware.GetLogger(),
	}
}

// Upload 上传一个或多个PDF并导入
// POST /api/pdfs
func (h *PDFHandler) Upload(c *gin.Context) {
	var req model.UploadRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "Geçersiz istek parametreleri"))
		return
	}

	headers := uploadedFiles(c)
	if len(headers) == 0 {
		c.JSON(http.StatusOK, model.NewSuccessResponse(model.UploadResponse{
			Log:   services.MsgNoFiles,
			Files: []*services.FileReport{},
		}))
		return
	}

	if req.Async && h.queue == nil {
		middleware.HandleError(c, middleware.NewUnavailableError("Görev kuyruğu etkin değil"))
		return
	}

	inputs, rejected, err := h.stage(headers)
	if err != nil {
		removeInputs(inputs)
		middleware.HandleError(c, middleware.NewInternalError("Dosya kaydedilemedi", err.Error()))
		return
	}

	if req.Async {
		h.enqueue(c, inputs, rejected)
		return
	}

	// 同步导入结束后删除暂存文件
	defer removeInputs(inputs)
	report, err := h.ingest.Ingest(c.Request.Context(), inputs, nil)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	report.Files = append(report.Files, rejected...)

	inserted, skipped, failed := report.Totals()
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.UploadResponse{
		Log:      report.String(),
		Files:    report.Files,
		Inserted: inserted,
		Skipped:  skipped,
		Failed:   failed,
	}))
}

func (h *PDFHandler) enqueue(c *gin.Context, inputs []services.Input, rejected []*services.FileReport) {
	resp := model.QueuedResponse{Tasks: make([]model.QueuedFile, 0, len(inputs)+len(rejected))}
	var lines []string

	for _, in := range inputs {
		taskID, fileID, err := h.ingest.EnqueueIngest(c.Request.Context(), h.queue, in, true)
		item := model.QueuedFile{TaskID: taskID, FileID: fileID, FileName: in.Name}
		if err != nil {
			item.Error = err.Error()
			lines = append(lines, fmt.Sprintf("❌ %s - hata: %s", in.Name, err.Error()))
			_ = services.RemoveFile(in.Path)
		} else {
			lines = append(lines, fmt.Sprintf("⏳ %s sıraya alındı.", in.Name))
		}
		resp.Tasks = append(resp.Tasks, item)
	}
	for _, r := range rejected {
		resp.Tasks = append(resp.Tasks, model.QueuedFile{FileName: r.FileName, Error: r.Error})
		lines = append(lines, r.Summary)
	}
	resp.Log = joinLines(lines)

	c.JSON(http.StatusAccepted, model.NewSuccessResponse(resp))
}

// stage 把上传的PDF写入暂存目录，非PDF文件直接生成失败报告
func (h *PDFHandler) stage(headers []*multipart.FileHeader) ([]services.Input, []*services.FileReport, error) {
	var inputs []services.Input
	var rejected []*services.FileReport

	for _, fh := range headers {
		name := filepath.Base(fh.Filename)
		if !document.IsPDF(name) {
			rejected = append(rejected, &services.FileReport{
				FileName: name,
				Error:    document.ErrUnsupportedType.Error(),
				Summary:  fmt.Sprintf("❌ %s - hata: %s", name, document.ErrUnsupportedType.Error()),
			})
			continue
		}

		path, err := h.save(fh)
		if err != nil {
			return inputs, rejected, err
		}
		inputs = append(inputs, services.Input{Path: path, Name: name})
	}
	return inputs, rejected, nil
}

func (h *PDFHandler) save(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	dst, err := os.CreateTemp(h.uploadDir, "upload-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		_ = os.Remove(dst.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	h.logger.WithFields(logrus.Fields{
		"file": fh.Filename,
		"size": fh.Size,
		"path": dst.Name(),
	}).Debug("Upload staged")
	return dst.Name(), nil
}

// ListFiles 列出已导入的PDF
// GET /api/pdfs
func (h *PDFHandler) ListFiles(c *gin.Context) {
	if h.files == nil {
		middleware.HandleError(c, middleware.NewUnavailableError("Dosya kaydı etkin değil"))
		return
	}

	var req model.FileListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "Geçersiz istek parametreleri"))
		return
	}
	req.Normalize()

	offset := (req.Page - 1) * req.PageSize
	files, total, err := h.files.WithContext(c.Request.Context()).List(offset, req.PageSize, models.FileStatus(req.Status))
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	infos := make([]model.FileInfo, 0, len(files))
	for _, f := range files {
		infos = append(infos, model.NewFileInfo(f))
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.FileListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Files:    infos,
	}))
}

// GetFile 查询单个PDF的处理状态
// GET /api/pdfs/:id
func (h *PDFHandler) GetFile(c *gin.Context) {
	if h.files == nil {
		middleware.HandleError(c, middleware.NewUnavailableError("Dosya kaydı etkin değil"))
		return
	}
	f, err := h.files.WithContext(c.Request.Context()).GetByID(c.Param("id"))
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewFileInfo(f)))
}

// uploadedFiles 读取files字段，兼容单个file字段
func uploadedFiles(c *gin.Context) []*multipart.FileHeader {
	form, err := c.MultipartForm()
	if err != nil || form == nil {
		return nil
	}
	headers := append([]*multipart.FileHeader{}, form.File["files"]...)
	return append(headers, form.File["file"]...)
}

func removeInputs(inputs []services.Input) {
	for _, in := range inputs {
		_ = services.RemoveFile(in.Path)
	}
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return services.MsgNoFiles
	}
	return strings.Join(lines, "\n")
}
