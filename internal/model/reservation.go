package model

import (
	"time"
)

// 扣款预留状态
const (
	ReservationReserved  = "reserved"  // 已加锁，尚未调用支付方
	ReservationCharged   = "charged"   // 支付成功，等待落库
	ReservationCommitted = "committed" // 状态与账本已提交
	ReservationFailed    = "failed"    // 支付失败，已释放
	ReservationUnknown   = "unknown"   // 支付超时，结果未知
	ReservationResolved  = "resolved"  // 对账后人工/自动关闭
)

// ChargeReservation 对外扣款/退款的预留记录，对账任务据此找回中断的交易
type ChargeReservation struct {
	ID             int64      `gorm:"primaryKey" json:"id"`
	Token          string     `gorm:"size:64;uniqueIndex;not null" json:"token"`
	SubscriptionID int64      `gorm:"index" json:"subscription_id"`
	UserID         int64      `gorm:"not null" json:"user_id"`
	Operation      string     `gorm:"size:20;not null" json:"operation"`
	Amount         int64      `gorm:"not null" json:"amount"`
	Currency       string     `gorm:"size:3;not null" json:"currency"`
	CouponID       *int64     `json:"coupon_id,omitempty"`
	PaymentRef     string     `gorm:"size:100" json:"payment_ref,omitempty"`
	// Refunded 扣款类预留上已退回的金额
	Refunded int64 `gorm:"default:0" json:"refunded"`
	Status         string     `gorm:"size:20;not null;index" json:"status"`
	Error          string     `gorm:"size:500" json:"error,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (ChargeReservation) TableName() string {
	return "charge_reservations"
}
