package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/pricing_server/internal/pkg/response"
	"github.com/qs3c/pricing_server/internal/service"
)

// writeError 把计费错误映射为统一响应，data 中带上稳定的错误类别和原因。
// 响应里只有错误码对应的文案，完整错误链只写日志
func writeError(c *gin.Context, err error) {
	kind := service.KindOf(err)
	reason := service.CodeOf(err)
	msg := service.MessageOf(err)

	switch {
	case kind == "":
		logrus.WithError(err).WithField("path", c.FullPath()).Error("unexpected error")
		response.ServerError(c, "")
	case kind == service.KindNotFound:
		response.NotFoundError(c, msg)
	case errors.Is(err, service.ErrConcurrentModification):
		response.ConflictError(c, msg)
	case errors.Is(err, service.ErrCouponInvalid):
		response.BillingError(c, response.CodeCouponInvalid, kind, reason, msg)
	case kind == service.KindState:
		response.BillingError(c, response.CodeInvalidTransition, kind, reason, msg)
	case errors.Is(err, service.ErrPlanNotActive),
		errors.Is(err, service.ErrPeriodNotSupported),
		errors.Is(err, service.ErrNoPriceForCombination),
		errors.Is(err, service.ErrSamePlan):
		response.BillingError(c, response.CodePlanUnavailable, kind, reason, msg)
	case errors.Is(err, service.ErrInvalidAmount):
		response.BillingError(c, response.CodeInvalidAmount, kind, reason, msg)
	case errors.Is(err, service.ErrCurrencyMismatch):
		response.BillingError(c, response.CodeCurrencyMismatch, kind, reason, msg)
	case errors.Is(err, service.ErrPaymentFailed):
		response.BillingError(c, response.CodePaymentFailed, kind, reason, msg)
	case kind == service.KindExternal:
		logrus.WithError(err).WithField("path", c.FullPath()).Warn("payment processor error")
		response.BillingError(c, response.CodePaymentProcessor, kind, reason, msg)
	case kind == service.KindIntegrity:
		logrus.WithError(err).WithField("path", c.FullPath()).Error("billing integrity error")
		response.BillingError(c, response.CodeServerError, kind, reason, msg)
	default:
		response.BillingError(c, response.CodeParamError, kind, reason, msg)
	}
}
