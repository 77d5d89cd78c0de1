package embedding

import (
	"errors"
	"fmt"
)

// 错误码，与llm包保持同一编号
const (
	ErrCodeInvalidAPIKey  = 1001
	ErrCodeInvalidRequest = 1002
	ErrCodeNetworkError   = 1003
	ErrCodeRateLimited    = 1004
	ErrCodeServerError    = 1005
	ErrCodeTimeout        = 1006
	ErrCodeEmptyInput     = 1007
)

const (
	ErrMsgInvalidAPIKey  = "invalid API key"
	ErrMsgInvalidRequest = "invalid request parameters"
	ErrMsgRateLimited    = "too many requests, rate limit exceeded"
	ErrMsgServerError    = "server error occurred"
	ErrMsgTimeout        = "request timed out"
	ErrMsgEmptyInput     = "input text cannot be empty"
	ErrMsgNetworkError   = "network connection error"
)

// EmbeddingError 向量化失败
// 导入报告中逐条记录的失败原因直接取Error()
type EmbeddingError struct {
	Code    int
	Message string
}

func (e EmbeddingError) Error() string {
	return fmt.Sprintf("embedding error (code=%d): %s", e.Code, e.Message)
}

// NewEmbeddingError 创建嵌入错误
func NewEmbeddingError(code int, message string) EmbeddingError {
	return EmbeddingError{Code: code, Message: message}
}

// IsRetryable 网络、限流和服务端错误可以重试
func IsRetryable(err error) bool {
	var e EmbeddingError
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == ErrCodeNetworkError || e.Code == ErrCodeRateLimited || e.Code == ErrCodeServerError
}
