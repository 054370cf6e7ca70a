package payment

import (
	"context"
	"errors"

	"github.com/qs3c/pricing_server/internal/pkg/money"
)

var (
	ErrDeclined = errors.New("payment declined")
	ErrTimeout  = errors.New("payment processor timeout")
	ErrNotFound = errors.New("payment not found")

	// ErrRefundExceedsCharge 退款金额超过该笔扣款剩余可退金额
	ErrRefundExceedsCharge = errors.New("refund exceeds remaining amount of the charge")
)

// 支付状态
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
)

type ChargeRequest struct {
	UserID int64
	Amount money.Money
	// IdempotencyKey 使用扣款预留的 token，对账时据此查回支付结果
	IdempotencyKey string
	Description    string
}

type ChargeResult struct {
	Reference string
	Status    Status
	Amount    money.Money
}

type RefundResult struct {
	Reference string
	Amount    money.Money
}

// Processor 外部支付方。引擎只通过这三个调用与之交互
type Processor interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Refund(ctx context.Context, chargeRef string, amount money.Money, idempotencyKey string) (*RefundResult, error)
	// Lookup 按幂等键查询扣款结果，找不到返回 ErrNotFound
	Lookup(ctx context.Context, idempotencyKey string) (*ChargeResult, error)
}

// IsTimeout 调用超时，结果未知
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
