package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/qs3c/pricing_server/internal/pkg/money"
)

// Sandbox 内存支付方，本地运行和测试使用。默认全部成功
type Sandbox struct {
	mu sync.Mutex
	// ChargeFunc 非 nil 时决定每次扣款结果，返回 error 即模拟失败
	ChargeFunc func(req ChargeRequest) error
	RefundFunc func(chargeRef string, amount money.Money) error

	charges  map[string]*ChargeResult // idempotency key -> result
	captured map[string]int64         // charge ref -> 扣款金额
	refunded map[string]int64         // charge ref -> 已退金额

	Charges []ChargeRequest
	Refunds []RefundResult
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		charges:  make(map[string]*ChargeResult),
		captured: make(map[string]int64),
		refunded: make(map[string]int64),
	}
}

func (s *Sandbox) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	s.mu.Lock()
	fn := s.ChargeFunc
	if prev, ok := s.charges[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		s.mu.Unlock()
		return prev, nil
	}
	s.mu.Unlock()

	if fn != nil {
		if err := fn(req); err != nil {
			if !IsTimeout(err) {
				s.record(req, &ChargeResult{Status: StatusFailed, Amount: req.Amount})
			}
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("sandbox charge: %w", ErrTimeout)
	}

	res := &ChargeResult{
		Reference: "sb_ch_" + uuid.NewString(),
		Status:    StatusSucceeded,
		Amount:    req.Amount,
	}
	s.record(req, res)
	return res, nil
}

func (s *Sandbox) record(req ChargeRequest, res *ChargeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.IdempotencyKey != "" {
		s.charges[req.IdempotencyKey] = res
	}
	if res.Status == StatusSucceeded {
		s.Charges = append(s.Charges, req)
		s.captured[res.Reference] = req.Amount.Amount
	}
}

func (s *Sandbox) Refund(ctx context.Context, chargeRef string, amount money.Money, _ string) (*RefundResult, error) {
	s.mu.Lock()
	fn := s.RefundFunc
	s.mu.Unlock()

	if fn != nil {
		if err := fn(chargeRef, amount); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("sandbox refund: %w", ErrTimeout)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// 只校验本沙箱产生的扣款，外部导入的引用不做限制
	if captured, ok := s.captured[chargeRef]; ok && s.refunded[chargeRef]+amount.Amount > captured {
		return nil, fmt.Errorf("sandbox refund %s: %w", chargeRef, ErrRefundExceedsCharge)
	}
	s.refunded[chargeRef] += amount.Amount

	res := RefundResult{Reference: "sb_re_" + uuid.NewString(), Amount: amount}
	s.Refunds = append(s.Refunds, res)
	return &res, nil
}

func (s *Sandbox) Lookup(_ context.Context, idempotencyKey string) (*ChargeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.charges[idempotencyKey]
	if !ok {
		return nil, ErrNotFound
	}
	return res, nil
}

// SetCharge 直接写入一条扣款结果，模拟超时后支付方实际已完成的情况
func (s *Sandbox) SetCharge(idempotencyKey string, res *ChargeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.charges[idempotencyKey] = res
	if res.Status == StatusSucceeded && res.Reference != "" {
		s.captured[res.Reference] = res.Amount.Amount
	}
}

// ChargeCount 成功扣款次数
func (s *Sandbox) ChargeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Charges)
}

// RefundCount 成功退款次数
func (s *Sandbox) RefundCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Refunds)
}
