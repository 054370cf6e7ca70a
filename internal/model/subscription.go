package model

import (
	"time"

	"github.com/qs3c/pricing_server/internal/pkg/money"
)

// 订阅状态
const (
	StatusTrialing  = "trialing"
	StatusActive    = "active"
	StatusPastDue   = "past_due"
	StatusPaused    = "paused"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// IsTerminal cancelled 和 expired 没有后续状态
func IsTerminal(status string) bool {
	return status == StatusCancelled || status == StatusExpired
}

type Subscription struct {
	ID            int64  `gorm:"primaryKey" json:"id"`
	UserID        int64  `gorm:"not null;index" json:"user_id"`
	PlanID        int64  `gorm:"not null;index" json:"plan_id"`
	PendingPlanID *int64 `json:"pending_plan_id,omitempty"`
	BillingPeriod string `gorm:"size:20;not null" json:"billing_period"`
	Status        string `gorm:"size:20;not null;index:idx_sub_due" json:"status"`

	TrialEndsAt  *time.Time `json:"trial_ends_at,omitempty"`
	StartsAt     time.Time  `gorm:"not null" json:"starts_at"`
	EndsAt       time.Time  `gorm:"not null;index:idx_sub_due" json:"ends_at"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CancelReason string     `gorm:"size:255" json:"cancel_reason,omitempty"`
	PausedAt     *time.Time `json:"paused_at,omitempty"`
	ResumeAt     *time.Time `json:"resume_at,omitempty"`

	// 下单时约定的价格快照，续费按此价格扣款，不再回查目录
	PriceAmount int64  `gorm:"not null" json:"price_amount"`
	Currency    string `gorm:"size:3;not null" json:"currency"`

	CouponID          *int64 `json:"coupon_id,omitempty"`
	DiscountAmount    int64  `gorm:"default:0" json:"discount_amount"`
	DiscountRecurring bool   `gorm:"default:false" json:"discount_recurring"`
	CreditBalance     int64  `gorm:"default:0" json:"credit_balance"`

	// 当前周期已扣款/已退款金额，用于退款上限校验
	CycleCharged  int64  `gorm:"default:0" json:"cycle_charged"`
	CycleRefunded int64  `gorm:"default:0" json:"cycle_refunded"`
	LastChargeRef string `gorm:"size:100" json:"-"`

	RenewalAttempts int        `gorm:"default:0" json:"renewal_attempts"`
	NextRetryAt     *time.Time `json:"next_retry_at,omitempty"`

	Version     int64      `gorm:"not null;default:1" json:"-"`
	LockToken   string     `gorm:"size:64;index" json:"-"`
	LockedUntil *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// Price 约定价格
func (s *Subscription) Price() money.Money {
	return money.New(s.PriceAmount, s.Currency)
}

// Refundable 当前周期还可退款的金额
func (s *Subscription) Refundable() money.Money {
	return money.New(s.CycleCharged-s.CycleRefunded, s.Currency).Min0()
}

// GrantsAccess 是否持有访问权限。取消后的订阅在 ends_at 之前仍然可用
func (s *Subscription) GrantsAccess(now time.Time) bool {
	switch s.Status {
	case StatusTrialing, StatusActive, StatusPastDue:
		return true
	case StatusCancelled:
		return now.Before(s.EndsAt)
	}
	return false
}
