package dto

import (
	"time"

	"github.com/qs3c/pricing_server/internal/model"
	"github.com/qs3c/pricing_server/internal/pkg/money"
)

// CreateSubscriptionRequest 创建订阅
type CreateSubscriptionRequest struct {
	PlanID        int64  `json:"plan_id" binding:"required"`
	BillingPeriod string `json:"billing_period" binding:"required"`
	Currency      string `json:"currency" binding:"omitempty,len=3"`
	CouponCode    string `json:"coupon_code" binding:"omitempty,max=64"`
}

// UpgradeRequest 升级，prorate 缺省为 true
type UpgradeRequest struct {
	PlanID  int64 `json:"plan_id" binding:"required"`
	Prorate *bool `json:"prorate"`
}

// DowngradeRequest 降级
type DowngradeRequest struct {
	PlanID int64 `json:"plan_id" binding:"required"`
}

// CancelRequest 取消，immediate 为 true 时立即终止访问
type CancelRequest struct {
	Reason    string `json:"reason" binding:"max=255"`
	Immediate bool   `json:"immediate"`
}

// PauseRequest 暂停，resume_at 为空表示手动恢复
type PauseRequest struct {
	ResumeAt *time.Time `json:"resume_at"`
}

// RefundRequest 退款。type 为 partial 时必须提供 amount；cancel 覆盖全额退款后是否取消的默认策略
type RefundRequest struct {
	Type   string `json:"type" binding:"required,oneof=full partial prorated"`
	Amount *int64 `json:"amount" binding:"omitempty,min=1"`
	Cancel *bool  `json:"cancel"`
	Reason string `json:"reason" binding:"max=500"`
}

// ExtendRequest 延长当前周期
type ExtendRequest struct {
	Days   int    `json:"days" binding:"required,min=1"`
	Reason string `json:"reason" binding:"max=500"`
}

// RefundResponse 退款结果
type RefundResponse struct {
	Subscription *model.Subscription `json:"subscription"`
	Refunded     money.Money         `json:"refunded"`
	PaymentRef   string              `json:"payment_ref,omitempty"`
}

// SubscriptionListRequest 管理端订阅列表
type SubscriptionListRequest struct {
	Status   string `form:"status"`
	Page     int    `form:"page,default=1"`
	PageSize int    `form:"page_size,default=20"`
}

// AccessResponse 访问权限查询结果
type AccessResponse struct {
	HasAccess      bool   `json:"has_access"`
	SubscriptionID int64  `json:"subscription_id,omitempty"`
	PlanID         int64  `json:"plan_id,omitempty"`
	Status         string `json:"status,omitempty"`
}

// SweepResponse 手动触发扫描的结果
type SweepResponse struct {
	Claimed   int `json:"claimed"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}
