package dto

import (
	"time"

	"github.com/qs3c/pricing_server/internal/pkg/money"
)

// ValidateCouponRequest 校验优惠券
type ValidateCouponRequest struct {
	Code          string `json:"code" binding:"required,max=64"`
	PlanID        int64  `json:"plan_id" binding:"required"`
	BillingPeriod string `json:"billing_period" binding:"required"`
	Currency      string `json:"currency" binding:"omitempty,len=3"`
}

// CouponValidationResponse 校验结果，只展示不核销
type CouponValidationResponse struct {
	Code         string      `json:"code"`
	DiscountType string      `json:"discount_type"`
	Price        money.Money `json:"price"`
	Discount     money.Money `json:"discount"`
	FinalAmount  money.Money `json:"final_amount"`
	Display      string      `json:"display"`
}

// CreateCouponRequest 创建优惠券
type CreateCouponRequest struct {
	Code             string     `json:"code" binding:"required,max=64"`
	DiscountType     string     `json:"discount_type" binding:"required,oneof=percentage fixed_amount"`
	Value            string     `json:"value" binding:"required"` // 百分比或主单位金额，如 "10" / "5.00"
	Currency         string     `json:"currency" binding:"omitempty,len=3"`
	Restrictions     []string   `json:"restrictions"` // "planID:period"
	UsageLimit       *int       `json:"usage_limit" binding:"omitempty,min=1"`
	PerUserLimit     *int       `json:"per_user_limit" binding:"omitempty,min=1"`
	StartsAt         *time.Time `json:"starts_at"`
	ExpiresAt        *time.Time `json:"expires_at"`
	FirstPaymentOnly bool       `json:"first_payment_only"`
}

// CouponListRequest 优惠券列表
type CouponListRequest struct {
	Page     int `form:"page,default=1"`
	PageSize int `form:"page_size,default=20"`
}
