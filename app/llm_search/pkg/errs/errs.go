// Package errs 定义搜索流水线的错误分类，基于 kratos errors 携带 HTTP 状态码与原因码。
package errs

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kratos/kratos/v2/errors"

	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/model"
)

// 错误原因码
const (
	ReasonValidation         = "VALIDATION_ERROR"
	ReasonRateLimited        = "RATE_LIMITED"
	ReasonBudgetExceeded     = "BUDGET_EXCEEDED"
	ReasonServiceUnavailable = "SERVICE_UNAVAILABLE"
	ReasonUpstreamTimeout    = "UPSTREAM_TIMEOUT"
	ReasonCache              = "CACHE_ERROR"
	ReasonSynthesis          = "SYNTHESIS_FAILURE"
	ReasonInternal           = "INTERNAL_ERROR"
)

// Validation 请求参数非法
func Validation(format string, args ...any) *errors.Error {
	return errors.Newf(http.StatusBadRequest, ReasonValidation, format, args...)
}

// RateLimited 客户端超出限流窗口
func RateLimited(clientID string) *errors.Error {
	return errors.New(http.StatusTooManyRequests, ReasonRateLimited, "rate limit exceeded").
		WithMetadata(map[string]string{"client_id": clientID})
}

// BudgetExceeded 日预算或某个供应商的月预算已用尽
func BudgetExceeded(scope string) *errors.Error {
	return errors.Newf(http.StatusPaymentRequired, ReasonBudgetExceeded, "budget exceeded: %s", scope).
		WithMetadata(map[string]string{"scope": scope})
}

// ServiceUnavailable 某个必需阶段没有产出任何可用结果
func ServiceUnavailable(stage string, format string, args ...any) *errors.Error {
	return errors.New(http.StatusServiceUnavailable, ReasonServiceUnavailable, fmt.Sprintf(format, args...)).
		WithMetadata(map[string]string{"stage": stage})
}

// UpstreamTimeout 单个外部调用超时，只对该调用单元生效
func UpstreamTimeout(unit string, cause error) *errors.Error {
	return errors.Newf(http.StatusGatewayTimeout, ReasonUpstreamTimeout, "upstream timeout: %s", unit).
		WithCause(cause)
}

// Cache 缓存存储不可用，调用方应绕过缓存继续执行
func Cache(op string, cause error) *errors.Error {
	return errors.Newf(http.StatusInternalServerError, ReasonCache, "cache %s failed", op).
		WithCause(cause)
}

// Synthesis LLM 综合失败，无法生成回答
func Synthesis(cause error) *errors.Error {
	return errors.New(http.StatusBadGateway, ReasonSynthesis, "answer synthesis failed").
		WithCause(cause)
}

// Is 判断 err 是否属于指定原因码
func Is(err error, reason string) bool {
	if err == nil {
		return false
	}
	var e *errors.Error
	if !stderrors.As(err, &e) {
		return false
	}
	return e.Reason == reason
}

// IsTimeout 判断是否为超时类错误
func IsTimeout(err error) bool {
	return stderrors.Is(err, context.DeadlineExceeded) || Is(err, ReasonUpstreamTimeout)
}

// ToResponse 将任意错误转换为 HTTP 状态码和错误响应体
func ToResponse(err error, requestID string) (int, model.ErrorResponse) {
	var e *errors.Error
	if !stderrors.As(err, &e) {
		e = errors.New(http.StatusInternalServerError, ReasonInternal, "internal error")
	}
	code := int(e.Code)
	if code == 0 {
		code = http.StatusInternalServerError
	}
	return code, model.ErrorResponse{
		Error:     e.Message,
		ErrorCode: e.Reason,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	}
}
