package model

import (
	"time"
)

// 账本事件类型
const (
	LedgerCreated     = "created"
	LedgerUpgraded    = "upgraded"
	LedgerDowngraded  = "downgraded"
	LedgerRenewed     = "renewed"
	LedgerPaused      = "paused"
	LedgerResumed     = "resumed"
	LedgerCancelled   = "cancelled"
	LedgerRefunded    = "refunded"
	LedgerExtended    = "extended"
	LedgerRenewFailed = "renewal_failed"
	LedgerExpired     = "expired"
)

// LedgerEntry 只追加的账本记录，不允许修改或删除
type LedgerEntry struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	SubscriptionID int64     `gorm:"not null;index" json:"subscription_id"`
	EventType      string    `gorm:"size:20;not null" json:"event_type"`
	Amount         int64     `gorm:"not null" json:"amount"` // 带符号的变动金额
	Currency       string    `gorm:"size:3;not null" json:"currency"`
	Charged        int64     `gorm:"default:0" json:"charged"` // 实际向支付方扣款的金额
	PaymentRef     string    `gorm:"size:100" json:"payment_ref,omitempty"`
	PlanID         int64     `json:"plan_id"`
	FromStatus     string    `gorm:"size:20" json:"from_status"`
	ToStatus       string    `gorm:"size:20" json:"to_status"`
	Reason         string    `gorm:"size:500" json:"reason,omitempty"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}
