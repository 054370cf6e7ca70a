package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 折扣类型
const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed_amount"
)

type Coupon struct {
	ID               int64           `gorm:"primaryKey" json:"id"`
	Code             string          `gorm:"size:64;uniqueIndex;not null" json:"code"` // 统一存大写
	DiscountType     string          `gorm:"size:20;not null" json:"discount_type"`    // percentage, fixed_amount
	Value            decimal.Decimal `gorm:"type:decimal(12,4);not null" json:"value"`
	Currency         string          `gorm:"size:3" json:"currency,omitempty"` // 仅 fixed_amount 使用
	Restrictions     StringArray     `gorm:"type:text" json:"restrictions"`    // "planID:period"，空表示不限
	UsageLimit       *int            `json:"usage_limit,omitempty"`
	PerUserLimit     *int            `json:"per_user_limit,omitempty"`
	UsedCount        int             `gorm:"not null;default:0" json:"used_count"`
	StartsAt         *time.Time      `json:"starts_at,omitempty"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
	FirstPaymentOnly bool            `json:"first_payment_only"`
	Active           bool            `gorm:"index" json:"active"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (Coupon) TableName() string {
	return "coupons"
}

// CouponUsage 每个用户对某张优惠券的使用次数
type CouponUsage struct {
	ID       int64 `gorm:"primaryKey"`
	CouponID int64 `gorm:"not null;uniqueIndex:idx_coupon_user"`
	UserID   int64 `gorm:"not null;uniqueIndex:idx_coupon_user"`
	Count    int   `gorm:"not null;default:0"`
}

func (CouponUsage) TableName() string {
	return "coupon_usages"
}

// CouponRedemption 优惠券核销记录
type CouponRedemption struct {
	ID               int64     `gorm:"primaryKey" json:"id"`
	CouponID         int64     `gorm:"not null;index" json:"coupon_id"`
	UserID           int64     `gorm:"not null;index" json:"user_id"`
	SubscriptionID   *int64    `gorm:"index" json:"subscription_id,omitempty"`
	ReservationToken string    `gorm:"size:64;index" json:"-"`
	DiscountAmount   int64     `json:"discount_amount"`
	Currency         string    `gorm:"size:3" json:"currency"`
	CreatedAt        time.Time `json:"created_at"`
}

func (CouponRedemption) TableName() string {
	return "coupon_redemptions"
}
