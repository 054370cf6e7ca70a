package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 错误码定义
const (
	CodeSuccess          = 0
	CodeParamError       = 1000
	CodeAuthFailed       = 1001
	CodePermissionDenied = 1002
	CodeResourceNotFound = 1003
	CodeNoSubscription   = 1004
	CodeConflict         = 1005
	CodeServerError      = 5000
)

// 计费业务错误码
const (
	CodePlanUnavailable   = 2001
	CodeCouponInvalid     = 2002
	CodeInvalidTransition = 2003
	CodeInvalidAmount     = 2004
	CodeCurrencyMismatch  = 2005
	CodePaymentFailed     = 2006
	CodePaymentProcessor  = 2007
)

// 错误码对应的默认消息
var codeMessages = map[int]string{
	CodeSuccess:          "success",
	CodeParamError:       "参数错误",
	CodeAuthFailed:       "认证失败",
	CodePermissionDenied: "权限不足",
	CodeResourceNotFound: "资源不存在",
	CodeNoSubscription:   "没有有效订阅",
	CodeConflict:         "操作冲突，请稍后重试",
	CodeServerError:      "服务器内部错误",

	CodePlanUnavailable:   "套餐不可用",
	CodeCouponInvalid:     "优惠券不可用",
	CodeInvalidTransition: "当前订阅状态不允许该操作",
	CodeInvalidAmount:     "金额不合法",
	CodeCurrencyMismatch:  "币种不一致",
	CodePaymentFailed:     "支付失败",
	CodePaymentProcessor:  "支付服务异常",
}

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// PageData 分页数据结构
type PageData struct {
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Items    interface{} `json:"items"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// SuccessWithMessage 带自定义消息的成功响应
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: message,
		Data:    data,
	})
}

// SuccessPage 分页成功响应
func SuccessPage(c *gin.Context, total int64, page, pageSize int, items interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data: PageData{
			Total:    total,
			Page:     page,
			PageSize: pageSize,
			Items:    items,
		},
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	if message == "" {
		message = codeMessages[code]
	}
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// ParamError 参数错误
func ParamError(c *gin.Context, message string) {
	if message == "" {
		message = codeMessages[CodeParamError]
	}
	Error(c, CodeParamError, message)
}

// AuthError 认证失败
func AuthError(c *gin.Context, message string) {
	if message == "" {
		message = codeMessages[CodeAuthFailed]
	}
	Error(c, CodeAuthFailed, message)
}

// PermissionError 权限不足
func PermissionError(c *gin.Context, message string) {
	if message == "" {
		message = codeMessages[CodePermissionDenied]
	}
	Error(c, CodePermissionDenied, message)
}

// NotFoundError 资源不存在
func NotFoundError(c *gin.Context, message string) {
	if message == "" {
		message = codeMessages[CodeResourceNotFound]
	}
	Error(c, CodeResourceNotFound, message)
}

// NoSubscriptionError 没有有效订阅
func NoSubscriptionError(c *gin.Context, message string) {
	if message == "" {
		message = codeMessages[CodeNoSubscription]
	}
	Error(c, CodeNoSubscription, message)
}

// ConflictError 并发冲突
func ConflictError(c *gin.Context, message string) {
	if message == "" {
		message = codeMessages[CodeConflict]
	}
	Error(c, CodeConflict, message)
}

// ErrorDetail 业务错误附带的稳定错误类别，供调用方分支处理
type ErrorDetail struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// BillingError 计费业务错误，data 中带上错误类别
func BillingError(c *gin.Context, code int, kind, reason, message string) {
	if message == "" {
		message = codeMessages[code]
	}
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    ErrorDetail{Kind: kind, Reason: reason},
	})
}

// ServerError 服务器错误
func ServerError(c *gin.Context, message string) {
	if message == "" {
		message = codeMessages[CodeServerError]
	}
	Error(c, CodeServerError, message)
}
