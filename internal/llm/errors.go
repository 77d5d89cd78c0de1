package llm

import (
	"errors"
	"fmt"
)

// 错误码
const (
	ErrCodeInvalidAPIKey  = 1001
	ErrCodeInvalidRequest = 1002
	ErrCodeNetworkError   = 1003
	ErrCodeRateLimited    = 1004
	ErrCodeServerError    = 1005
	ErrCodeTimeout        = 1006
	ErrCodeEmptyPrompt    = 1007
	ErrCodeContentFilter  = 1008
	ErrCodeContextTooLong = 1010
)

const (
	ErrMsgInvalidAPIKey = "invalid API key"
	ErrMsgEmptyPrompt   = "prompt cannot be empty"
	ErrMsgNoChoices     = "model returned no choices"
)

// retryableCodes 网络抖动、限流和服务端错误可以重试
var retryableCodes = map[int]bool{
	ErrCodeNetworkError: true,
	ErrCodeRateLimited:  true,
	ErrCodeServerError:  true,
}

// LLMError 模型调用错误
// 问答界面直接展示Error()，保持为英文短句
type LLMError struct {
	Code    int
	Message string
}

func (e LLMError) Error() string {
	return fmt.Sprintf("llm error (code=%d): %s", e.Code, e.Message)
}

// NewLLMError 创建模型错误
func NewLLMError(code int, message string) LLMError {
	return LLMError{Code: code, Message: message}
}

// WrapError 为普通错误附加错误码，LLMError原样返回
func WrapError(err error, code int) LLMError {
	var e LLMError
	switch {
	case err == nil:
		return NewLLMError(code, "unknown error")
	case errors.As(err, &e):
		return e
	default:
		return NewLLMError(code, err.Error())
	}
}

// IsRetryable 判断错误是否值得重试
func IsRetryable(err error) bool {
	var e LLMError
	return errors.As(err, &e) && retryableCodes[e.Code]
}
