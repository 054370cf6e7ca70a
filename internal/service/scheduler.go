package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/qs3c/pricing_server/config"
	"github.com/qs3c/pricing_server/internal/model"
	"github.com/qs3c/pricing_server/internal/model/dto"
	"github.com/qs3c/pricing_server/internal/pkg/events"
	"github.com/qs3c/pricing_server/internal/pkg/metrics"
	"github.com/qs3c/pricing_server/internal/pkg/queue"
	"github.com/qs3c/pricing_server/internal/repository"
)

// 调度动作
const (
	ActionRenew  = "renew"
	ActionResume = "resume"
)

// Claim 一条已认领的到期订阅
type Claim struct {
	SubscriptionID int64
	Token          string
	Action         string
}

// BillingScheduler 周期性扫描到期订阅：试用结束、周期结束、欠费重试、计划恢复。
// 认领通过条件更新完成，多个实例同时扫描时每个订阅只会被处理一次
type BillingScheduler struct {
	subRepo *repository.SubscriptionRepository
	subs    *SubscriptionService
	sink    events.Sink
	metrics *metrics.Metrics
	cfg     config.Config
	now     func() time.Time
}

func NewBillingScheduler(
	subRepo *repository.SubscriptionRepository,
	subs *SubscriptionService,
	sink events.Sink,
	m *metrics.Metrics,
	cfg *config.Config,
) *BillingScheduler {
	c := *cfg
	c.ApplyDefaults()
	return &BillingScheduler{
		subRepo: subRepo,
		subs:    subs,
		sink:    sink,
		metrics: m,
		cfg:     c,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock 替换时钟，测试使用
func (s *BillingScheduler) SetClock(now func() time.Time) {
	s.now = func() time.Time { return now().UTC() }
}

// ClaimDue 认领一批到期订阅，认领失败（已被其他实例拿走）的直接跳过
func (s *BillingScheduler) ClaimDue(ctx context.Context) ([]Claim, error) {
	now := s.now()
	due, err := s.subRepo.ListDue(now, s.cfg.Billing.SweepBatchSize)
	if err != nil {
		return nil, err
	}

	claims := make([]Claim, 0, len(due))
	for _, sub := range due {
		if ctx.Err() != nil {
			break
		}
		token := uuid.NewString()
		ok, err := s.subRepo.ClaimDue(sub.ID, token, now.Add(s.cfg.Billing.LockTTL), now)
		if err != nil {
			logrus.WithError(err).WithField("subscription_id", sub.ID).Error("failed to claim subscription")
			continue
		}
		if !ok {
			continue
		}
		action := ActionRenew
		if sub.Status == model.StatusPaused {
			action = ActionResume
		}
		claims = append(claims, Claim{SubscriptionID: sub.ID, Token: token, Action: action})
	}

	s.metrics.SweepClaimed(len(claims))
	return claims, nil
}

// Process 处理一条认领。扣款被拒不算处理失败，状态已按规则推进
func (s *BillingScheduler) Process(ctx context.Context, c Claim) error {
	var (
		res *Result
		err error
	)
	switch c.Action {
	case ActionResume:
		res, err = s.subs.ResumeClaimed(ctx, c.SubscriptionID, c.Token)
	default:
		res, err = s.subs.RenewClaimed(ctx, c.SubscriptionID, c.Token)
	}
	if res != nil {
		events.Drain(ctx, s.sink, res.Events)
	}
	if err != nil && !errors.Is(err, ErrPaymentFailed) {
		logrus.WithError(err).WithFields(logrus.Fields{
			"subscription_id": c.SubscriptionID,
			"action":          c.Action,
		}).Warn("scheduled billing action failed")
		return err
	}
	return nil
}

// Sweep 认领并在本进程内并发处理
func (s *BillingScheduler) Sweep(ctx context.Context) (*dto.SweepResponse, error) {
	claims, err := s.ClaimDue(ctx)
	if err != nil {
		return nil, err
	}

	failed := make([]bool, len(claims))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Scheduler.MaxWorkers)
	for i, c := range claims {
		i, c := i, c
		g.Go(func() error {
			if err := s.Process(gctx, c); err != nil {
				failed[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	resp := &dto.SweepResponse{Claimed: len(claims)}
	for _, f := range failed {
		if f {
			resp.Failed++
		} else {
			resp.Processed++
		}
	}
	if resp.Claimed > 0 {
		logrus.WithFields(logrus.Fields{
			"claimed":   resp.Claimed,
			"processed": resp.Processed,
			"failed":    resp.Failed,
		}).Info("billing sweep finished")
	}
	return resp, nil
}

// Enqueue 认领后推入队列，由 worker 进程消费
func (s *BillingScheduler) Enqueue(ctx context.Context, q *queue.Queue) (int, error) {
	claims, err := s.ClaimDue(ctx)
	if err != nil {
		return 0, err
	}

	pushed := 0
	for _, c := range claims {
		job := &queue.RenewalJob{
			SubscriptionID: c.SubscriptionID,
			ClaimToken:     c.Token,
			Action:         c.Action,
			ClaimedAt:      s.now(),
		}
		if err := q.Push(ctx, job); err != nil {
			// 锁到期后下一轮扫描会重新认领
			logrus.WithError(err).WithField("subscription_id", c.SubscriptionID).Error("failed to enqueue renewal job")
			continue
		}
		pushed++
	}
	return pushed, nil
}
