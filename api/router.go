package api

import (
	"github.com/gin-gonic/gin"

	"github.com/fyerfyer/pdf-QA-system/api/handler"
	"github.com/fyerfyer/pdf-QA-system/api/middleware"
)

// Handlers 路由使用的处理器，Task为nil时不注册任务查询接口
type Handlers struct {
	UI   *handler.UIHandler
	PDF  *handler.PDFHandler
	QA   *handler.QAHandler
	Tag  *handler.TagHandler
	Task *handler.TaskHandler
}

// Options 路由配置
type Options struct {
	RateLimit   float64  // 每个IP每秒请求数，0表示不限流
	RateBurst   int      // 突发请求数
	CORSOrigins []string // 允许的跨域来源
	MaxUploadMB int64    // multipart内存上限
}

// SetupRouter 设置API路由
func SetupRouter(h Handlers, opts Options) *gin.Engine {
	r := gin.New()

	if opts.MaxUploadMB > 0 {
		r.MaxMultipartMemory = opts.MaxUploadMB << 20
	}

	// 全局中间件
	r.Use(middleware.SetTraceID())
	r.Use(middleware.Logger())
	r.Use(middleware.ErrorMiddleware())
	r.Use(middleware.Cors(opts.CORSOrigins))

	if h.UI != nil {
		r.GET("/", h.UI.Index)
		r.GET("/status", h.UI.Status)
	}

	apiGroup := r.Group("/api")
	apiGroup.Use(middleware.RequestBodyLog())
	apiGroup.Use(middleware.RateLimit(opts.RateLimit, opts.RateBurst))

	if h.UI != nil {
		apiGroup.GET("/health", h.UI.Health)
	}

	// PDF导入
	pdfGroup := apiGroup.Group("/pdfs")
	{
		pdfGroup.POST("", h.PDF.Upload)
		pdfGroup.GET("", h.PDF.ListFiles)
		pdfGroup.GET("/:id", h.PDF.GetFile)
		if h.Task != nil {
			pdfGroup.GET("/:id/tasks", h.Task.GetFileTasks)
		}
	}

	// 问答
	qaGroup := apiGroup.Group("/qa")
	{
		qaGroup.POST("", h.QA.AnswerQuestion)
		qaGroup.GET("/history", h.QA.History)
	}

	// 图片标注
	imageGroup := apiGroup.Group("/images")
	{
		imageGroup.GET("", h.Tag.ListImages)
		imageGroup.GET("/file/*name", h.Tag.ServeImage)
		imageGroup.POST("/labels", h.Tag.UpdateLabel)
	}

	if h.Task != nil {
		apiGroup.GET("/tasks/:id", h.Task.GetTask)
	}

	return r
}
