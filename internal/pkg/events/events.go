package events

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// 领域事件类型
const (
	TypeCreated       = "subscription.created"
	TypeUpgraded      = "subscription.upgraded"
	TypeDowngraded    = "subscription.downgraded"
	TypePlanScheduled = "subscription.plan_scheduled"
	TypeRenewed       = "subscription.renewed"
	TypeRenewalFailed = "subscription.renewal_failed"
	TypeExpired       = "subscription.expired"
	TypePaused        = "subscription.paused"
	TypeResumed       = "subscription.resumed"
	TypeCancelled     = "subscription.cancelled"
	TypeRefunded      = "subscription.refunded"
	TypeExtended      = "subscription.extended"
	TypeCouponApplied = "coupon.applied"
)

// DomainEvent 状态变更后产生的事件，事务提交后由调用方统一投递
type DomainEvent struct {
	Type           string    `json:"type"`
	SubscriptionID int64     `json:"subscription_id"`
	UserID         int64     `json:"user_id"`
	Status         string    `json:"status"`
	PlanID         int64     `json:"plan_id,omitempty"`
	Amount         int64     `json:"amount,omitempty"`
	Currency       string    `json:"currency,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Sink 通知出口，只管投递，不影响计费状态
type Sink interface {
	Publish(ctx context.Context, evt DomainEvent) error
}

// Drain 投递事件，失败只记日志
func Drain(ctx context.Context, sink Sink, evts []DomainEvent) {
	if sink == nil {
		return
	}
	for _, evt := range evts {
		if err := sink.Publish(ctx, evt); err != nil {
			logrus.WithFields(logrus.Fields{
				"event":           evt.Type,
				"subscription_id": evt.SubscriptionID,
			}).WithError(err).Warn("failed to publish billing event")
		}
	}
}

// MultiSink 把事件依次投递给多个出口
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, evt DomainEvent) error {
	var firstErr error
	for _, s := range m {
		if err := s.Publish(ctx, evt); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
