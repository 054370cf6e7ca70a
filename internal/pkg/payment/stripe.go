package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"

	"github.com/qs3c/pricing_server/internal/pkg/money"
)

// StripeProcessor 通过 Stripe PaymentIntent 扣款，客户以 metadata.user_id 关联
type StripeProcessor struct {
	mu        sync.Mutex
	customers map[int64]string // userID -> Stripe customer ID
}

// NewStripeProcessor 使用给定 API key 初始化 Stripe
func NewStripeProcessor(apiKey string) *StripeProcessor {
	stripe.Key = apiKey
	return &StripeProcessor{customers: make(map[int64]string)}
}

func (p *StripeProcessor) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	customerID, err := p.customerFor(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:     stripe.Int64(req.Amount.Amount),
		Currency:   stripe.String(strings.ToLower(req.Amount.Currency)),
		Customer:   stripe.String(customerID),
		Confirm:    stripe.Bool(true),
		OffSession: stripe.Bool(true),
		Metadata: map[string]string{
			"reservation": req.IdempotencyKey,
			"user_id":     strconv.FormatInt(req.UserID, 10),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, classify(ctx, "charge", err)
	}

	res := &ChargeResult{
		Reference: pi.ID,
		Status:    intentStatus(pi.Status),
		Amount:    money.New(pi.Amount, string(pi.Currency)),
	}
	if res.Status == StatusFailed {
		return res, ErrDeclined
	}
	return res, nil
}

func (p *StripeProcessor) Refund(ctx context.Context, chargeRef string, amount money.Money, idempotencyKey string) (*RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(chargeRef),
		Amount:        stripe.Int64(amount.Amount),
	}
	params.Context = ctx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}

	r, err := refund.New(params)
	if err != nil {
		return nil, classify(ctx, "refund", err)
	}
	if r.Status == stripe.RefundStatusFailed || r.Status == stripe.RefundStatusCanceled {
		return nil, fmt.Errorf("stripe refund %s: %w", r.Status, ErrDeclined)
	}

	return &RefundResult{
		Reference: r.ID,
		Amount:    money.New(r.Amount, string(r.Currency)),
	}, nil
}

func (p *StripeProcessor) Lookup(ctx context.Context, idempotencyKey string) (*ChargeResult, error) {
	params := &stripe.PaymentIntentSearchParams{}
	params.Context = ctx
	params.Query = fmt.Sprintf("metadata['reservation']:'%s'", idempotencyKey)

	iter := paymentintent.Search(params)
	if iter.Next() {
		pi := iter.PaymentIntent()
		return &ChargeResult{
			Reference: pi.ID,
			Status:    intentStatus(pi.Status),
			Amount:    money.New(pi.Amount, string(pi.Currency)),
		}, nil
	}
	if err := iter.Err(); err != nil {
		return nil, classify(ctx, "lookup", err)
	}
	return nil, ErrNotFound
}

// customerFor 查找或创建用户对应的 Stripe customer
func (p *StripeProcessor) customerFor(ctx context.Context, userID int64) (string, error) {
	p.mu.Lock()
	id, ok := p.customers[userID]
	p.mu.Unlock()
	if ok {
		return id, nil
	}

	uid := strconv.FormatInt(userID, 10)
	search := &stripe.CustomerSearchParams{}
	search.Context = ctx
	search.Query = fmt.Sprintf("metadata['user_id']:'%s'", uid)

	iter := customer.Search(search)
	if iter.Next() {
		id = iter.Customer().ID
	}
	if err := iter.Err(); err != nil {
		return "", classify(ctx, "customer search", err)
	}

	if id == "" {
		params := &stripe.CustomerParams{
			Metadata: map[string]string{"user_id": uid},
		}
		params.Context = ctx
		params.SetIdempotencyKey("customer-" + uid)
		c, err := customer.New(params)
		if err != nil {
			return "", classify(ctx, "create customer", err)
		}
		id = c.ID
	}

	p.mu.Lock()
	p.customers[userID] = id
	p.mu.Unlock()
	return id, nil
}

func intentStatus(s stripe.PaymentIntentStatus) Status {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusCanceled, stripe.PaymentIntentStatusRequiresPaymentMethod:
		return StatusFailed
	default:
		return StatusPending
	}
}

// classify 把 Stripe 错误归类为拒付或超时
func classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("stripe %s: %w", op, ErrTimeout)
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
		return fmt.Errorf("stripe %s: %s: %w", op, stripeErr.Msg, ErrDeclined)
	}
	return fmt.Errorf("stripe %s: %w", op, err)
}
