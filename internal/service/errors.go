package service

import (
	"errors"
	"fmt"
)

// 错误类别
const (
	KindValidation = "validation"
	KindNotFound   = "not_found"
	KindState      = "state"
	KindExternal   = "external"
	KindIntegrity  = "integrity"
)

// Error 计费引擎错误：Code 稳定不变，供调用方判断；Message 面向用户
type Error struct {
	Code    string
	Kind    string
	Message string
	parent  error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.parent
}

func newError(code, kind, message string) *Error {
	return &Error{Code: code, Kind: kind, Message: message}
}

var (
	ErrPlanNotFound          = newError("PlanNotFound", KindNotFound, "套餐不存在")
	ErrPlanNotActive         = newError("PlanNotActive", KindValidation, "套餐未上架")
	ErrPeriodNotSupported    = newError("PeriodNotSupported", KindValidation, "套餐不支持该计费周期")
	ErrNoPriceForCombination = newError("NoPriceForCombination", KindValidation, "套餐没有该币种和周期的价格")
	ErrCurrencyMismatch      = newError("CurrencyMismatch", KindValidation, "币种不一致")
	ErrSamePlan              = newError("SamePlan", KindValidation, "目标套餐与当前套餐相同")
	ErrInvalidAmount         = newError("InvalidAmount", KindValidation, "金额无效")
	ErrInvalidDays           = newError("InvalidDays", KindValidation, "天数必须大于 0")
	ErrInvalidResumeAt       = newError("InvalidResumeAt", KindValidation, "恢复时间必须晚于当前时间")
	ErrInvalidRefundType     = newError("InvalidRefundType", KindValidation, "退款类型无效")

	ErrSlugExists     = newError("SlugExists", KindValidation, "套餐 slug 已存在")
	ErrSlugImmutable  = newError("SlugImmutable", KindValidation, "已有订阅的套餐不能修改 slug")
	ErrPlanHasNoPrice = newError("PlanHasNoPrice", KindValidation, "套餐至少需要一个价格才能上架")
	ErrPriceExists    = newError("PriceExists", KindValidation, "该币种和周期已有价格，请发布新版本")
	ErrPriceNotFound  = newError("PriceNotFound", KindNotFound, "价格不存在")
	ErrInvalidPlan    = newError("InvalidPlan", KindValidation, "套餐参数无效")

	ErrCouponInvalid      = newError("CouponInvalid", KindValidation, "优惠券不可用")
	ErrCouponCodeExists   = newError("CouponCodeExists", KindValidation, "券码已存在")
	ErrInvalidCouponInput = newError("InvalidCoupon", KindValidation, "优惠券参数无效")

	ErrSubscriptionNotFound   = newError("SubscriptionNotFound", KindNotFound, "订阅不存在")
	ErrInvalidTransition      = newError("InvalidTransition", KindState, "当前状态不允许该操作")
	ErrConcurrentModification = newError("ConcurrentModification", KindState, "订阅正在被其他操作修改，请稍后重试")
	ErrRenewalNotDue          = newError("RenewalNotDue", KindState, "当前周期尚未结束，无需续费")

	ErrPaymentFailed       = newError("PaymentFailed", KindExternal, "扣款失败")
	ErrPaymentProcessor    = newError("PaymentProcessorError", KindExternal, "支付服务异常")
	ErrPaymentUnknown      = newError("PaymentOutcomeUnknown", KindExternal, "支付结果未知，已通知管理员核对")
	ErrCurrencyUnavailable = newError("CurrencyUnavailable", KindExternal, "汇率服务不可用")

	ErrIntegrity = newError("IntegrityError", KindIntegrity, "扣款已完成但记录保存失败，已通知管理员")
)

// 优惠券校验失败的具体原因，均可用 errors.Is(err, ErrCouponInvalid) 判断
var (
	ErrCouponNotFound      = couponError("CouponNotFound", "优惠券不存在或已停用")
	ErrCouponExpired       = couponError("CouponExpired", "优惠券已过期")
	ErrCouponNotYetValid   = couponError("CouponNotYetValid", "优惠券尚未生效")
	ErrCouponExhausted     = couponError("CouponExhausted", "优惠券已被领完")
	ErrUserLimitReached    = couponError("UserLimitReached", "已达到该优惠券的使用次数上限")
	ErrCouponNotApplicable = couponError("CouponNotApplicableToPlan", "优惠券不适用于该套餐")
)

func couponError(code, message string) *Error {
	return &Error{Code: code, Kind: KindValidation, Message: message, parent: ErrCouponInvalid}
}

// TransitionError 当前状态下不允许执行的操作
type TransitionError struct {
	From      string
	Operation string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a %s subscription", e.Operation, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// KindOf 返回错误类别，未知错误返回空串
func KindOf(err error) string {
	var te *TransitionError
	if errors.As(err, &te) {
		return KindState
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf 返回稳定错误码，未知错误返回空串
func CodeOf(err error) string {
	var te *TransitionError
	if errors.As(err, &te) {
		return ErrInvalidTransition.Code
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// MessageOf 返回面向用户的提示，只取错误码对应的文案，不带底层原因
func MessageOf(err error) string {
	var te *TransitionError
	if errors.As(err, &te) {
		return te.Error()
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ""
}
