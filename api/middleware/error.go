package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/pdf-QA-system/api/model"
	"github.com/fyerfyer/pdf-QA-system/internal/models"
	"github.com/fyerfyer/pdf-QA-system/internal/services"
	"github.com/fyerfyer/pdf-QA-system/internal/vectordb"
	"github.com/fyerfyer/pdf-QA-system/pkg/storage"
	"github.com/fyerfyer/pdf-QA-system/pkg/taskqueue"
)

// 定义应用中的错误类型常量
const (
	ErrorTypeValidation  = "VALIDATION_ERROR"   // 输入验证错误
	ErrorTypeNotFound    = "NOT_FOUND_ERROR"    // 资源不存在错误
	ErrorTypeInternal    = "INTERNAL_ERROR"     // 内部服务器错误
	ErrorTypeUnavailable = "UNAVAILABLE_ERROR"  // 功能未启用
	ErrorTypeRateLimited = "RATE_LIMITED_ERROR" // 请求过多
)

// AppError 应用错误结构体
type AppError struct {
	Type    string // 错误类型
	Message string // 返回给客户端的消息
	Details string // 详细错误信息，只写日志
	Code    int    // HTTP状态码
}

// Error 实现error接口的方法
func (e AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewValidationError 创建输入验证错误
func NewValidationError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeValidation,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusBadRequest,
	}
}

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(message string) AppError {
	return AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
		Code:    http.StatusNotFound,
	}
}

// NewInternalError 创建内部服务器错误
func NewInternalError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusInternalServerError,
	}
}

// NewUnavailableError 依赖的组件未配置
func NewUnavailableError(message string) AppError {
	return AppError{
		Type:    ErrorTypeUnavailable,
		Message: message,
		Code:    http.StatusServiceUnavailable,
	}
}

// FromError 把服务层错误映射为AppError
func FromError(err error) AppError {
	var appErr AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, services.ErrEmptyQuestion),
		errors.Is(err, services.ErrEmptyLabel):
		return NewValidationError("Geçersiz istek", err.Error())
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, vectordb.ErrRecordNotFound),
		errors.Is(err, taskqueue.ErrTaskNotFound),
		errors.Is(err, models.ErrFileNotFound),
		errors.Is(err, models.ErrImageNotFound):
		return NewNotFoundError("Kayıt bulunamadı")
	default:
		return NewInternalError("Sunucu hatası", err.Error())
	}
}

// ErrorMiddleware 统一错误处理中间件
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.WithFields(logrus.Fields{
					FieldError: err,
					"stack":    string(debug.Stack()),
					FieldPath:  c.Request.URL.Path,
				}).Error("Panic recovered in API request")

				errorResponse := model.NewErrorResponse(
					http.StatusInternalServerError,
					"An unexpected error occurred",
				)
				if gin.Mode() == gin.DebugMode {
					errorResponse.Message = fmt.Sprintf("Panic: %v", err)
				}
				errorResponse.TraceID = c.GetString(TraceIDKey)
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse)
			}
		}()

		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		traceID := c.GetString(TraceIDKey)
		appErr := FromError(c.Errors.Last().Err)

		entry := log.WithFields(logrus.Fields{
			"error_type":  appErr.Type,
			FieldTraceID: traceID,
			FieldPath:    c.Request.URL.Path,
		})
		if appErr.Details != "" {
			entry = entry.WithField(FieldError, appErr.Details)
		}
		if appErr.Code >= http.StatusInternalServerError {
			entry.Error(appErr.Message)
		} else {
			entry.Warn(appErr.Message)
		}

		errResp := model.NewErrorResponse(appErr.Code, appErr.Message)
		errResp.TraceID = traceID
		if gin.Mode() == gin.DebugMode && appErr.Details != "" {
			errResp.Message = appErr.Message + ": " + appErr.Details
		}
		c.AbortWithStatusJSON(appErr.Code, errResp)
	}
}

// HandleError 在处理器中使用的错误处理辅助函数
func HandleError(c *gin.Context, err error) {
	_ = c.Error(err)
}
