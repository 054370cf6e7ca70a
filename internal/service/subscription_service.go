package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/qs3c/pricing_server/config"
	"github.com/qs3c/pricing_server/internal/model"
	"github.com/qs3c/pricing_server/internal/model/dto"
	"github.com/qs3c/pricing_server/internal/pkg/alert"
	"github.com/qs3c/pricing_server/internal/pkg/currency"
	"github.com/qs3c/pricing_server/internal/pkg/events"
	"github.com/qs3c/pricing_server/internal/pkg/metrics"
	"github.com/qs3c/pricing_server/internal/pkg/money"
	"github.com/qs3c/pricing_server/internal/pkg/payment"
	"github.com/qs3c/pricing_server/internal/pkg/proration"
	"github.com/qs3c/pricing_server/internal/repository"
)

// 订阅操作
const (
	OpCreate    = "create"
	OpRenew     = "renew"
	OpUpgrade   = "upgrade"
	OpDowngrade = "downgrade"
	OpPause     = "pause"
	OpResume    = "resume"
	OpCancel    = "cancel"
	OpExtend    = "extend"
	OpRefund    = "refund"
)

// 退款类型
const (
	RefundFull     = "full"
	RefundPartial  = "partial"
	RefundProrated = "prorated"
)

// allowedFrom 每个操作允许的起始状态，先于任何业务校验检查
var allowedFrom = map[string][]string{
	OpRenew:     {model.StatusTrialing, model.StatusActive, model.StatusPastDue},
	OpUpgrade:   {model.StatusTrialing, model.StatusActive, model.StatusPastDue},
	OpDowngrade: {model.StatusTrialing, model.StatusActive, model.StatusPastDue},
	OpPause:     {model.StatusActive, model.StatusPastDue},
	OpResume:    {model.StatusPaused},
	OpCancel:    {model.StatusTrialing, model.StatusActive, model.StatusPastDue},
	OpExtend:    {model.StatusTrialing, model.StatusActive, model.StatusPastDue, model.StatusPaused},
	OpRefund:    {model.StatusTrialing, model.StatusActive, model.StatusPastDue, model.StatusPaused},
}

func checkTransition(sub *model.Subscription, op string) error {
	for _, s := range allowedFrom[op] {
		if sub.Status == s {
			return nil
		}
	}
	return &TransitionError{From: sub.Status, Operation: op}
}

// Result 每次调用的结果：变更后的订阅和待投递的领域事件。事件由调用方在提交后投递
type Result struct {
	Subscription *model.Subscription
	Events       []events.DomainEvent
}

// RefundResult 退款结果
type RefundResult struct {
	Result
	Refunded   money.Money
	PaymentRef string
}

// mutation 非扣款操作的状态变更，返回要追加的账本记录
type mutation func(sub *model.Subscription, now time.Time) (*model.LedgerEntry, []events.DomainEvent, error)

// SubscriptionService 订阅状态机
type SubscriptionService struct {
	db              *gorm.DB
	subRepo         *repository.SubscriptionRepository
	ledgerRepo      *repository.LedgerRepository
	reservationRepo *repository.ReservationRepository
	catalog         *CatalogService
	coupons         *CouponService
	processor       payment.Processor
	converter       currency.Converter
	alerter         alert.Alerter
	metrics         *metrics.Metrics
	cfg             config.BillingConfig
	defaultCurrency string
	now             func() time.Time
}

func NewSubscriptionService(
	db *gorm.DB,
	subRepo *repository.SubscriptionRepository,
	ledgerRepo *repository.LedgerRepository,
	reservationRepo *repository.ReservationRepository,
	catalog *CatalogService,
	coupons *CouponService,
	processor payment.Processor,
	converter currency.Converter,
	alerter alert.Alerter,
	m *metrics.Metrics,
	cfg *config.Config,
) *SubscriptionService {
	if alerter == nil {
		alerter = alert.LogAlerter{}
	}
	c := *cfg
	c.ApplyDefaults()
	return &SubscriptionService{
		db:              db,
		subRepo:         subRepo,
		ledgerRepo:      ledgerRepo,
		reservationRepo: reservationRepo,
		catalog:         catalog,
		coupons:         coupons,
		processor:       processor,
		converter:       converter,
		alerter:         alerter,
		metrics:         m,
		cfg:             c.Billing,
		defaultCurrency: strings.ToUpper(c.Currency.Default),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// SetClock 替换时钟，测试使用
func (s *SubscriptionService) SetClock(now func() time.Time) {
	s.now = func() time.Time { return now().UTC() }
}

// Get 获取订阅
func (s *SubscriptionService) Get(id int64) (*model.Subscription, error) {
	sub, err := s.subRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// ListByUser 用户的全部订阅
func (s *SubscriptionService) ListByUser(userID int64) ([]*model.Subscription, error) {
	return s.subRepo.ListByUser(userID)
}

// List 管理端订阅列表
func (s *SubscriptionService) List(status string, page, pageSize int) ([]*model.Subscription, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.subRepo.List(status, page, pageSize)
}

// Ledger 订阅的账本记录
func (s *SubscriptionService) Ledger(id int64) ([]*model.LedgerEntry, error) {
	if _, err := s.Get(id); err != nil {
		return nil, err
	}
	return s.ledgerRepo.ListBySubscription(id)
}

// Access 用户当前是否持有有效订阅
func (s *SubscriptionService) Access(userID int64) (*dto.AccessResponse, error) {
	subs, err := s.subRepo.ListByUser(userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, sub := range subs {
		if sub.GrantsAccess(now) {
			return &dto.AccessResponse{
				HasAccess:      true,
				SubscriptionID: sub.ID,
				PlanID:         sub.PlanID,
				Status:         sub.Status,
			}, nil
		}
	}
	return &dto.AccessResponse{HasAccess: false}, nil
}

// Purge 管理员物理删除订阅及其账本，与取消不同
func (s *SubscriptionService) Purge(id int64) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		return s.subRepo.WithTx(tx).Purge(id)
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrSubscriptionNotFound
	}
	if err == nil {
		logrus.WithField("subscription_id", id).Warn("subscription purged")
	}
	return err
}

// Create 创建订阅。有试用期时进入 trialing 且不扣款，否则立即扣首期
func (s *SubscriptionService) Create(ctx context.Context, userID int64, req *dto.CreateSubscriptionRequest) (*Result, error) {
	plan, err := s.catalog.GetPlan(req.PlanID)
	if err != nil {
		return nil, err
	}
	if err := s.catalog.ValidateForSubscription(plan, req.BillingPeriod); err != nil {
		return nil, err
	}
	cur := strings.ToUpper(req.Currency)
	if cur == "" {
		cur = s.defaultCurrency
	}
	price, err := s.priceFor(ctx, plan.ID, cur, req.BillingPeriod)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sub := &model.Subscription{
		UserID:        userID,
		PlanID:        plan.ID,
		BillingPeriod: req.BillingPeriod,
		StartsAt:      now,
		PriceAmount:   price.Amount,
		Currency:      price.Currency,
		Version:       1,
	}
	trial := plan.TrialDays > 0
	if trial {
		trialEnds := now.AddDate(0, 0, plan.TrialDays)
		sub.Status = model.StatusTrialing
		sub.TrialEndsAt = &trialEnds
		sub.EndsAt = trialEnds
	} else {
		sub.Status = model.StatusActive
		sub.EndsAt = model.AdvancePeriod(now, req.BillingPeriod)
	}

	code := strings.TrimSpace(req.CouponCode)
	token := uuid.NewString()
	var applied *AppliedDiscount
	charge := price

	// 无需外部扣款时在一个事务内完成
	if trial || code == "" && price.IsZero() {
		err := s.db.Transaction(func(tx *gorm.DB) error {
			if code != "" {
				applied, err = s.coupons.Apply(ctx, tx, code, userID, plan.ID, req.BillingPeriod, price)
				if err != nil {
					return err
				}
				s.applyDiscount(sub, applied, trial)
			}
			return s.insertCreated(tx, sub, applied, token, money.Zero(price.Currency), "")
		})
		if err != nil {
			s.metrics.Transition(OpCreate, outcomeOf(err))
			return nil, err
		}
		return s.createdResult(sub, applied, now), nil
	}

	// 预留：核销优惠券并登记扣款预留
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if code != "" {
			applied, err = s.coupons.Apply(ctx, tx, code, userID, plan.ID, req.BillingPeriod, price)
			if err != nil {
				return err
			}
			charge, err = price.Sub(applied.Discount)
			if err != nil {
				return err
			}
		}
		return s.reservationRepo.WithTx(tx).Create(s.newReservation(token, 0, userID, OpCreate, charge, applied))
	})
	if err != nil {
		s.metrics.Transition(OpCreate, outcomeOf(err))
		return nil, err
	}
	if applied != nil {
		s.applyDiscount(sub, applied, false)
	}

	if charge.IsZero() {
		if err := s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.insertCreated(tx, sub, applied, token, charge, ""); err != nil {
				return err
			}
			_, err := s.reservationRepo.WithTx(tx).Transition(token, []string{model.ReservationReserved},
				model.ReservationCommitted, map[string]interface{}{"subscription_id": sub.ID})
			return err
		}); err != nil {
			s.releaseCreate(token, userID, applied, err)
			return nil, err
		}
		return s.createdResult(sub, applied, now), nil
	}

	res, err := s.charge(ctx, OpCreate, token, userID, 0, charge, fmt.Sprintf("subscription %s %s", plan.Slug, req.BillingPeriod))
	if err != nil {
		if !errors.Is(err, ErrPaymentUnknown) {
			s.releaseCreate(token, userID, applied, err)
		}
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.insertCreated(tx, sub, applied, token, charge, res.Reference); err != nil {
			return err
		}
		ok, err := s.reservationRepo.WithTx(tx).Transition(token, []string{model.ReservationCharged},
			model.ReservationCommitted, map[string]interface{}{"subscription_id": sub.ID})
		if err != nil {
			return err
		}
		if !ok {
			return repository.ErrVersionConflict
		}
		return nil
	})
	if err != nil {
		return nil, s.integrityFailure(ctx, OpCreate, 0, token, charge, res.Reference, err)
	}
	return s.createdResult(sub, applied, now), nil
}

// applyDiscount 把核销的折扣记到订阅上。未开始扣款（试用）或可重复使用的折扣才会保留到后续扣款
func (s *SubscriptionService) applyDiscount(sub *model.Subscription, applied *AppliedDiscount, deferred bool) {
	couponID := applied.Coupon.ID
	sub.CouponID = &couponID
	sub.DiscountRecurring = applied.Recurring
	if deferred || applied.Recurring {
		sub.DiscountAmount = applied.Discount.Amount
	}
}

func (s *SubscriptionService) insertCreated(tx *gorm.DB, sub *model.Subscription, applied *AppliedDiscount, token string, charged money.Money, ref string) error {
	sub.CycleCharged = charged.Amount
	sub.LastChargeRef = ref
	if err := s.subRepo.WithTx(tx).Create(sub); err != nil {
		return err
	}

	delta := money.Zero(sub.Currency)
	if applied != nil && sub.Status != model.StatusTrialing {
		delta = applied.Discount.Neg()
	}
	entry := &model.LedgerEntry{
		EventType:  model.LedgerCreated,
		Amount:     delta.Amount,
		Charged:    charged.Amount,
		PaymentRef: ref,
		ToStatus:   sub.Status,
	}
	if err := s.appendLedger(tx, sub, entry); err != nil {
		return err
	}
	if applied != nil {
		return s.coupons.RecordRedemption(tx, applied, sub.UserID, sub.ID, token)
	}
	return nil
}

func (s *SubscriptionService) createdResult(sub *model.Subscription, applied *AppliedDiscount, now time.Time) *Result {
	s.metrics.Transition(OpCreate, "ok")
	evts := []events.DomainEvent{s.event(events.TypeCreated, sub, sub.CycleCharged, "", now)}
	if applied != nil {
		evts = append(evts, s.event(events.TypeCouponApplied, sub, applied.Discount.Amount, applied.Coupon.Code, now))
	}
	logrus.WithFields(logrus.Fields{
		"subscription_id": sub.ID,
		"user_id":         sub.UserID,
		"plan_id":         sub.PlanID,
		"status":          sub.Status,
	}).Info("subscription created")
	return &Result{Subscription: sub, Events: evts}
}

// releaseCreate 创建失败时撤销优惠券核销并关闭预留
func (s *SubscriptionService) releaseCreate(token string, userID int64, applied *AppliedDiscount, cause error) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		ok, err := s.reservationRepo.WithTx(tx).Transition(token,
			[]string{model.ReservationReserved, model.ReservationFailed}, model.ReservationFailed,
			map[string]interface{}{"error": truncate(cause.Error(), 500)})
		if err != nil || !ok {
			return err
		}
		if applied != nil {
			return s.coupons.Release(tx, applied.Coupon.ID, userID)
		}
		return nil
	})
	if err != nil {
		logrus.WithError(err).WithField("reservation", token).Error("failed to release charge reservation")
	}
}

// Renew 续费：试用到期转正、周期到期续费、欠费重试
func (s *SubscriptionService) Renew(ctx context.Context, id int64) (*Result, error) {
	sub, token, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.renewLocked(ctx, sub, token, false)
}

// RenewClaimed 续费已被调度器认领的订阅，token 为认领令牌
func (s *SubscriptionService) RenewClaimed(ctx context.Context, id int64, token string) (*Result, error) {
	sub, err := s.loadClaimed(id, token)
	if err != nil {
		return nil, err
	}
	return s.renewLocked(ctx, sub, token, true)
}

// renewLocked 扣款被拒时返回已落库的 past_due/expired 结果以及 ErrPaymentFailed
func (s *SubscriptionService) renewLocked(ctx context.Context, sub *model.Subscription, token string, claimed bool) (*Result, error) {
	now := s.now()
	fail := func(err error) (*Result, error) {
		s.release(sub.ID, token)
		s.metrics.Transition(OpRenew, outcomeOf(err))
		return nil, err
	}

	if err := checkTransition(sub, OpRenew); err != nil {
		return fail(err)
	}
	switch sub.Status {
	case model.StatusTrialing:
		if sub.TrialEndsAt != nil && sub.TrialEndsAt.After(now) {
			return fail(ErrRenewalNotDue)
		}
	case model.StatusActive:
		if sub.EndsAt.After(now) {
			return fail(ErrRenewalNotDue)
		}
	case model.StatusPastDue:
		if claimed && sub.NextRetryAt != nil && sub.NextRetryAt.After(now) {
			return fail(ErrRenewalNotDue)
		}
	}
	if n, err := s.reservationRepo.CountUnresolved(sub.ID); err != nil {
		return fail(err)
	} else if n > 0 {
		return fail(ErrPaymentUnknown)
	}

	from := sub.Status
	planID := sub.PlanID
	price := sub.Price()
	activated := false
	if sub.PendingPlanID != nil {
		p, err := s.priceFor(ctx, *sub.PendingPlanID, sub.Currency, sub.BillingPeriod)
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"subscription_id": sub.ID,
				"pending_plan_id": *sub.PendingPlanID,
			}).Warn("pending plan has no usable price, renewing on current plan")
		} else {
			planID, price, activated = *sub.PendingPlanID, p, true
		}
	}

	due, credit := s.amountDue(sub, price)

	start := sub.EndsAt
	if from == model.StatusPastDue || !model.AdvancePeriod(start, sub.BillingPeriod).After(now) {
		start = now
	}

	var ref string
	if due.IsPositive() {
		if err := s.reservationRepo.Create(s.newReservation(token, sub.ID, sub.UserID, OpRenew, due, nil)); err != nil {
			return fail(err)
		}
		res, err := s.charge(ctx, OpRenew, token, sub.UserID, sub.ID, due, fmt.Sprintf("renewal of subscription %d", sub.ID))
		switch {
		case errors.Is(err, ErrPaymentFailed):
			return s.renewalFailed(ctx, sub, token, now, err)
		case err != nil:
			return fail(err)
		}
		ref = res.Reference
	}

	sub.Status = model.StatusActive
	sub.PlanID = planID
	sub.PendingPlanID = nil
	sub.PriceAmount = price.Amount
	sub.StartsAt = start
	sub.EndsAt = model.AdvancePeriod(start, sub.BillingPeriod)
	sub.RenewalAttempts = 0
	sub.NextRetryAt = nil
	sub.CycleCharged = due.Amount
	sub.CycleRefunded = 0
	sub.CreditBalance -= credit.Amount
	if ref != "" {
		sub.LastChargeRef = ref
	}
	if !sub.DiscountRecurring {
		sub.DiscountAmount = 0
	}

	entry := &model.LedgerEntry{
		EventType:  model.LedgerRenewed,
		Amount:     due.Amount,
		Charged:    due.Amount,
		PaymentRef: ref,
		FromStatus: from,
		ToStatus:   sub.Status,
	}
	evts := []events.DomainEvent{s.event(events.TypeRenewed, sub, due.Amount, "", now)}
	if activated {
		entry.Reason = "pending plan activated"
		evts = append(evts, s.event(events.TypeDowngraded, sub, 0, "pending plan activated", now))
	}

	if err := s.commitLocked(sub, token, entry, due.IsPositive()); err != nil {
		if due.IsPositive() {
			return nil, s.integrityFailure(ctx, OpRenew, sub.ID, token, due, ref, err)
		}
		return fail(err)
	}

	s.metrics.Transition(OpRenew, "ok")
	return &Result{Subscription: sub, Events: evts}, nil
}

// renewalFailed 扣款被拒：进入 past_due，连续失败达到阈值后过期
func (s *SubscriptionService) renewalFailed(ctx context.Context, sub *model.Subscription, token string, now time.Time, cause error) (*Result, error) {
	from := sub.Status
	sub.RenewalAttempts++

	entry := &model.LedgerEntry{FromStatus: from, Reason: cause.Error()}
	var evt events.DomainEvent
	if sub.RenewalAttempts >= s.cfg.RenewalAttempts {
		sub.Status = model.StatusExpired
		sub.PendingPlanID = nil
		sub.NextRetryAt = nil
		entry.EventType = model.LedgerExpired
		evt = s.event(events.TypeExpired, sub, 0, cause.Error(), now)
	} else {
		next := now.Add(s.cfg.RetryInterval)
		sub.Status = model.StatusPastDue
		sub.NextRetryAt = &next
		entry.EventType = model.LedgerRenewFailed
		evt = s.event(events.TypeRenewalFailed, sub, 0, cause.Error(), now)
	}
	entry.ToStatus = sub.Status

	if err := s.commitLocked(sub, token, entry, false); err != nil {
		s.release(sub.ID, token)
		s.metrics.Transition(OpRenew, outcomeOf(err))
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"subscription_id": sub.ID,
		"attempts":        sub.RenewalAttempts,
		"status":          sub.Status,
	}).Warn("renewal payment failed")
	s.metrics.Transition(OpRenew, "payment_failed")
	return &Result{Subscription: sub, Events: []events.DomainEvent{evt}}, cause
}

// Upgrade 升级。active 状态下按剩余周期比例补差价，试用或欠费时按新价格开始新周期
func (s *SubscriptionService) Upgrade(ctx context.Context, id, newPlanID int64, prorate bool) (*Result, error) {
	current, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(current, OpUpgrade); err != nil {
		return nil, err
	}
	target, err := s.targetPrice(ctx, current, newPlanID)
	if err != nil {
		return nil, err
	}

	sub, token, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	fail := func(err error) (*Result, error) {
		s.release(sub.ID, token)
		s.metrics.Transition(OpUpgrade, outcomeOf(err))
		return nil, err
	}
	if err := checkTransition(sub, OpUpgrade); err != nil {
		return fail(err)
	}
	if sub.PlanID == newPlanID {
		return fail(ErrSamePlan)
	}
	if target.Currency != sub.Currency {
		return fail(ErrCurrencyMismatch)
	}

	from := sub.Status
	delta := money.Zero(sub.Currency)
	due := money.Zero(sub.Currency)
	credit := money.Zero(sub.Currency)
	freshCycle := from != model.StatusActive

	if freshCycle {
		due, credit = s.amountDue(sub, target)
		delta = due
	} else if prorate {
		calc, err := proration.Calculate(proration.Input{
			CurrentPrice: sub.Price(),
			TargetPrice:  target,
			CycleStart:   sub.StartsAt,
			CycleEnd:     sub.EndsAt,
			Now:          now,
		})
		if err != nil {
			if errors.Is(err, money.ErrCurrencyMismatch) {
				return fail(ErrCurrencyMismatch)
			}
			return fail(err)
		}
		if calc.Effective {
			delta = calc.NetDelta
			if delta.IsPositive() {
				credit = money.New(min64(sub.CreditBalance, delta.Amount), sub.Currency)
				due = money.New(delta.Amount-credit.Amount, sub.Currency)
			}
		}
	}

	var ref string
	if due.IsPositive() {
		if err := s.reservationRepo.Create(s.newReservation(token, sub.ID, sub.UserID, OpUpgrade, due, nil)); err != nil {
			return fail(err)
		}
		res, err := s.charge(ctx, OpUpgrade, token, sub.UserID, sub.ID, due, fmt.Sprintf("upgrade of subscription %d", sub.ID))
		if err != nil {
			return fail(err)
		}
		ref = res.Reference
	}

	sub.PlanID = newPlanID
	sub.PendingPlanID = nil
	sub.PriceAmount = target.Amount
	sub.Status = model.StatusActive
	sub.CreditBalance -= credit.Amount
	if delta.IsNegative() {
		sub.CreditBalance += -delta.Amount
	}
	if freshCycle {
		sub.StartsAt = now
		sub.EndsAt = model.AdvancePeriod(now, sub.BillingPeriod)
		sub.CycleCharged = due.Amount
		sub.CycleRefunded = 0
		sub.RenewalAttempts = 0
		sub.NextRetryAt = nil
		if !sub.DiscountRecurring {
			sub.DiscountAmount = 0
		}
	} else {
		sub.CycleCharged += due.Amount
	}
	if ref != "" {
		sub.LastChargeRef = ref
	}

	entry := &model.LedgerEntry{
		EventType:  model.LedgerUpgraded,
		Amount:     delta.Amount,
		Charged:    due.Amount,
		PaymentRef: ref,
		FromStatus: from,
		ToStatus:   sub.Status,
	}
	if err := s.commitLocked(sub, token, entry, due.IsPositive()); err != nil {
		if due.IsPositive() {
			return nil, s.integrityFailure(ctx, OpUpgrade, sub.ID, token, due, ref, err)
		}
		return fail(err)
	}

	s.metrics.Transition(OpUpgrade, "ok")
	return &Result{
		Subscription: sub,
		Events:       []events.DomainEvent{s.event(events.TypeUpgraded, sub, delta.Amount, "", now)},
	}, nil
}

// Downgrade 降级。默认在周期结束时生效（设置 pending_plan），不立即扣款或退款
func (s *SubscriptionService) Downgrade(ctx context.Context, id, newPlanID int64) (*Result, error) {
	current, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(current, OpDowngrade); err != nil {
		return nil, err
	}
	target, err := s.targetPrice(ctx, current, newPlanID)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, id, OpDowngrade, func(sub *model.Subscription, now time.Time) (*model.LedgerEntry, []events.DomainEvent, error) {
		if err := checkTransition(sub, OpDowngrade); err != nil {
			return nil, nil, err
		}
		if sub.PlanID == newPlanID {
			return nil, nil, ErrSamePlan
		}
		if target.Currency != sub.Currency {
			return nil, nil, ErrCurrencyMismatch
		}

		entry := &model.LedgerEntry{EventType: model.LedgerDowngraded, FromStatus: sub.Status}
		switch {
		case sub.Status == model.StatusTrialing:
			// 试用期尚未扣款，直接换套餐
			sub.PlanID = newPlanID
			sub.PriceAmount = target.Amount
			entry.Reason = "switched during trial"
		case sub.Status == model.StatusActive && s.cfg.DowngradeTiming == config.DowngradeImmediate:
			delta := money.Zero(sub.Currency)
			if s.cfg.ProrateDowngrades {
				calc, err := proration.Calculate(proration.Input{
					CurrentPrice: sub.Price(),
					TargetPrice:  target,
					CycleStart:   sub.StartsAt,
					CycleEnd:     sub.EndsAt,
					Now:          now,
				})
				if err != nil {
					return nil, nil, err
				}
				if calc.NetDelta.IsNegative() {
					delta = calc.NetDelta
					sub.CreditBalance += -delta.Amount
				}
			}
			sub.PlanID = newPlanID
			sub.PendingPlanID = nil
			sub.PriceAmount = target.Amount
			entry.Amount = delta.Amount
			entry.Reason = "immediate downgrade"
		default:
			pending := newPlanID
			sub.PendingPlanID = &pending
			entry.Reason = "scheduled for end of cycle"
		}
		entry.ToStatus = sub.Status
		entry.PlanID = newPlanID

		evtType := events.TypeDowngraded
		if sub.PendingPlanID != nil {
			evtType = events.TypePlanScheduled
		}
		return entry, []events.DomainEvent{s.event(evtType, sub, entry.Amount, entry.Reason, now)}, nil
	})
}

// Pause 暂停，暂停期间不计费、无访问权限。待生效的降级随之取消
func (s *SubscriptionService) Pause(ctx context.Context, id int64, resumeAt *time.Time) (*Result, error) {
	return s.mutate(ctx, id, OpPause, func(sub *model.Subscription, now time.Time) (*model.LedgerEntry, []events.DomainEvent, error) {
		if err := checkTransition(sub, OpPause); err != nil {
			return nil, nil, err
		}
		if resumeAt != nil && !resumeAt.After(now) {
			return nil, nil, ErrInvalidResumeAt
		}

		from := sub.Status
		pausedAt := now
		sub.Status = model.StatusPaused
		sub.PausedAt = &pausedAt
		sub.ResumeAt = nil
		if resumeAt != nil {
			r := resumeAt.UTC()
			sub.ResumeAt = &r
		}
		sub.PendingPlanID = nil
		sub.NextRetryAt = nil

		entry := &model.LedgerEntry{EventType: model.LedgerPaused, FromStatus: from, ToStatus: sub.Status}
		return entry, []events.DomainEvent{s.event(events.TypePaused, sub, 0, "", now)}, nil
	})
}

// Resume 恢复。周期整体顺延暂停的时长，剩余的已付费时间保留
func (s *SubscriptionService) Resume(ctx context.Context, id int64) (*Result, error) {
	return s.mutate(ctx, id, OpResume, s.resume)
}

// ResumeClaimed 恢复已被调度器认领的订阅
func (s *SubscriptionService) ResumeClaimed(ctx context.Context, id int64, token string) (*Result, error) {
	sub, err := s.loadClaimed(id, token)
	if err != nil {
		return nil, err
	}
	now := s.now()
	entry, evts, err := s.resume(sub, now)
	if err != nil {
		s.release(sub.ID, token)
		s.metrics.Transition(OpResume, outcomeOf(err))
		return nil, err
	}
	if err := s.commitLocked(sub, token, entry, false); err != nil {
		s.release(sub.ID, token)
		s.metrics.Transition(OpResume, outcomeOf(err))
		return nil, err
	}
	s.metrics.Transition(OpResume, "ok")
	return &Result{Subscription: sub, Events: evts}, nil
}

func (s *SubscriptionService) resume(sub *model.Subscription, now time.Time) (*model.LedgerEntry, []events.DomainEvent, error) {
	if err := checkTransition(sub, OpResume); err != nil {
		return nil, nil, err
	}

	if sub.PausedAt != nil && now.After(*sub.PausedAt) {
		paused := now.Sub(*sub.PausedAt)
		sub.StartsAt = sub.StartsAt.Add(paused)
		sub.EndsAt = sub.EndsAt.Add(paused)
	}
	from := sub.Status
	sub.Status = model.StatusActive
	sub.PausedAt = nil
	sub.ResumeAt = nil
	sub.RenewalAttempts = 0
	sub.NextRetryAt = nil

	entry := &model.LedgerEntry{EventType: model.LedgerResumed, FromStatus: from, ToStatus: sub.Status}
	return entry, []events.DomainEvent{s.event(events.TypeResumed, sub, 0, "", now)}, nil
}

// Cancel 取消。默认保留访问到 ends_at，immediate 为 true 时立即终止
func (s *SubscriptionService) Cancel(ctx context.Context, id int64, reason string, immediate bool) (*Result, error) {
	return s.mutate(ctx, id, OpCancel, func(sub *model.Subscription, now time.Time) (*model.LedgerEntry, []events.DomainEvent, error) {
		if err := checkTransition(sub, OpCancel); err != nil {
			return nil, nil, err
		}

		from := sub.Status
		cancelledAt := now
		sub.Status = model.StatusCancelled
		sub.CancelledAt = &cancelledAt
		sub.CancelReason = truncate(reason, 255)
		sub.PendingPlanID = nil
		sub.NextRetryAt = nil
		if immediate || sub.EndsAt.Before(now) {
			sub.EndsAt = now
		}

		entry := &model.LedgerEntry{
			EventType:  model.LedgerCancelled,
			FromStatus: from,
			ToStatus:   sub.Status,
			Reason:     reason,
		}
		return entry, []events.DomainEvent{s.event(events.TypeCancelled, sub, 0, reason, now)}, nil
	})
}

// Extend 延长当前周期，不扣款
func (s *SubscriptionService) Extend(ctx context.Context, id int64, days int, reason string) (*Result, error) {
	if days <= 0 {
		return nil, ErrInvalidDays
	}
	return s.mutate(ctx, id, OpExtend, func(sub *model.Subscription, now time.Time) (*model.LedgerEntry, []events.DomainEvent, error) {
		if err := checkTransition(sub, OpExtend); err != nil {
			return nil, nil, err
		}

		sub.EndsAt = sub.EndsAt.AddDate(0, 0, days)
		if sub.Status == model.StatusTrialing && sub.TrialEndsAt != nil {
			trialEnds := sub.TrialEndsAt.AddDate(0, 0, days)
			sub.TrialEndsAt = &trialEnds
		}

		entry := &model.LedgerEntry{
			EventType:  model.LedgerExtended,
			FromStatus: sub.Status,
			ToStatus:   sub.Status,
			Reason:     fmt.Sprintf("extended %d days: %s", days, reason),
		}
		return entry, []events.DomainEvent{s.event(events.TypeExtended, sub, 0, reason, now)}, nil
	})
}

// Refund 退款，金额不超过当前周期已扣款减去已退款。cancel 为 nil 时按配置决定全额退款后是否取消
func (s *SubscriptionService) Refund(ctx context.Context, id int64, refundType string, amount *int64, cancel *bool, reason string) (*RefundResult, error) {
	switch refundType {
	case RefundFull, RefundPartial, RefundProrated:
	default:
		return nil, ErrInvalidRefundType
	}
	current, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(current, OpRefund); err != nil {
		return nil, err
	}

	sub, token, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	fail := func(err error) (*RefundResult, error) {
		s.release(sub.ID, token)
		s.metrics.Transition(OpRefund, outcomeOf(err))
		return nil, err
	}
	if err := checkTransition(sub, OpRefund); err != nil {
		return fail(err)
	}

	refundable := sub.Refundable()
	var refund money.Money
	switch refundType {
	case RefundFull:
		refund = refundable
	case RefundPartial:
		if amount == nil {
			return fail(ErrInvalidAmount)
		}
		refund = money.New(*amount, sub.Currency)
	case RefundProrated:
		if sub.EndsAt.After(sub.StartsAt) {
			v, err := proration.RemainingValue(money.New(sub.CycleCharged, sub.Currency), sub.StartsAt, sub.EndsAt, now)
			if err != nil {
				return fail(err)
			}
			refund = v
		} else {
			refund = money.Zero(sub.Currency)
		}
		if refund.Amount > refundable.Amount {
			refund = refundable
		}
	}
	if !refund.IsPositive() || refund.Amount > refundable.Amount {
		return fail(ErrInvalidAmount)
	}

	parts, err := s.refundParts(sub, refund)
	if err != nil {
		return fail(err)
	}
	if err := s.reservationRepo.Create(s.newReservation(token, sub.ID, sub.UserID, OpRefund, refund, nil)); err != nil {
		return fail(err)
	}
	res, err := s.refund(ctx, token, sub, parts)
	if err != nil {
		return fail(err)
	}

	from := sub.Status
	sub.CycleRefunded += refund.Amount
	// 只有全额退款会触发取消，部分退款即使退完也保持原状态
	full := refundType == RefundFull && sub.CycleRefunded >= sub.CycleCharged
	cancelAfter := *s.cfg.CancelOnFullRefund
	if cancel != nil {
		cancelAfter = *cancel
	}

	evts := []events.DomainEvent{s.event(events.TypeRefunded, sub, -refund.Amount, reason, now)}
	if full && cancelAfter && !model.IsTerminal(sub.Status) {
		cancelledAt := now
		sub.Status = model.StatusCancelled
		sub.CancelledAt = &cancelledAt
		sub.CancelReason = truncate("refunded: "+reason, 255)
		sub.EndsAt = now
		sub.PendingPlanID = nil
		sub.NextRetryAt = nil
		evts = append(evts, s.event(events.TypeCancelled, sub, 0, "full refund", now))
	}

	entry := &model.LedgerEntry{
		EventType:  model.LedgerRefunded,
		Amount:     -refund.Amount,
		PaymentRef: res.Reference,
		FromStatus: from,
		ToStatus:   sub.Status,
		Reason:     reason,
	}
	if err := s.commitLocked(sub, token, entry, true, s.markRefunded(parts)); err != nil {
		return nil, s.integrityFailure(ctx, OpRefund, sub.ID, token, refund, res.Reference, err)
	}

	s.metrics.Transition(OpRefund, "ok")
	return &RefundResult{
		Result:     Result{Subscription: sub, Events: evts},
		Refunded:   refund,
		PaymentRef: res.Reference,
	}, nil
}

// mutate 非扣款操作：读取、变更、带版本号写回并追加账本。版本冲突或订阅被锁定时退避重试
func (s *SubscriptionService) mutate(ctx context.Context, id int64, op string, fn mutation) (*Result, error) {
	var result *Result
	err := s.retry(ctx, func() error {
		now := s.now()
		sub, err := s.Get(id)
		if err != nil {
			return backoff.Permanent(err)
		}
		if sub.LockToken != "" && sub.LockedUntil != nil && sub.LockedUntil.After(now) {
			return repository.ErrVersionConflict
		}

		entry, evts, err := fn(sub, now)
		if err != nil {
			return backoff.Permanent(err)
		}

		err = s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.subRepo.WithTx(tx).UpdateWithVersion(sub, now); err != nil {
				return err
			}
			return s.appendLedger(tx, sub, entry)
		})
		if err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = &Result{Subscription: sub, Events: evts}
		return nil
	})
	if err != nil {
		s.metrics.Transition(op, outcomeOf(err))
		return nil, err
	}

	s.metrics.Transition(op, "ok")
	logrus.WithFields(logrus.Fields{
		"subscription_id": id,
		"operation":       op,
		"status":          result.Subscription.Status,
	}).Info("subscription updated")
	return result, nil
}

// retry 版本冲突时指数退避重试，超过次数返回 ErrConcurrentModification
func (s *SubscriptionService) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	retries := s.cfg.ConflictRetries
	if retries <= 0 {
		retries = 5
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx))
	if errors.Is(err, repository.ErrVersionConflict) {
		return ErrConcurrentModification
	}
	return err
}

// acquire 为扣款流程加锁并读取最新订阅
func (s *SubscriptionService) acquire(ctx context.Context, id int64) (*model.Subscription, string, error) {
	token := uuid.NewString()
	err := s.retry(ctx, func() error {
		now := s.now()
		ok, err := s.subRepo.AcquireLock(id, token, now.Add(s.cfg.LockTTL), now)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			if _, err := s.Get(id); err != nil {
				return backoff.Permanent(err)
			}
			return repository.ErrVersionConflict
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	sub, err := s.Get(id)
	if err != nil {
		s.release(id, token)
		return nil, "", err
	}
	return sub, token, nil
}

func (s *SubscriptionService) loadClaimed(id int64, token string) (*model.Subscription, error) {
	sub, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if token == "" || sub.LockToken != token {
		return nil, ErrConcurrentModification
	}
	return sub, nil
}

func (s *SubscriptionService) release(id int64, token string) {
	if err := s.subRepo.ReleaseLock(id, token); err != nil {
		logrus.WithError(err).WithField("subscription_id", id).Error("failed to release subscription lock")
	}
}

// commitLocked 持锁写回订阅、追加账本并关闭扣款预留，与 extra 同一事务
func (s *SubscriptionService) commitLocked(sub *model.Subscription, token string, entry *model.LedgerEntry, charged bool, extra ...func(tx *gorm.DB) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.subRepo.WithTx(tx).CommitLocked(sub, token); err != nil {
			return err
		}
		if err := s.appendLedger(tx, sub, entry); err != nil {
			return err
		}
		if charged {
			ok, err := s.reservationRepo.WithTx(tx).Transition(token, []string{model.ReservationCharged},
				model.ReservationCommitted, nil)
			if err != nil {
				return err
			}
			if !ok {
				return repository.ErrVersionConflict
			}
		}
		for _, fn := range extra {
			if err := fn(tx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SubscriptionService) appendLedger(tx *gorm.DB, sub *model.Subscription, entry *model.LedgerEntry) error {
	entry.SubscriptionID = sub.ID
	entry.Currency = sub.Currency
	if entry.PlanID == 0 {
		entry.PlanID = sub.PlanID
	}
	entry.Reason = truncate(entry.Reason, 500)
	return s.ledgerRepo.WithTx(tx).Append(entry)
}

func (s *SubscriptionService) newReservation(token string, subID, userID int64, op string, amount money.Money, applied *AppliedDiscount) *model.ChargeReservation {
	res := &model.ChargeReservation{
		Token:          token,
		SubscriptionID: subID,
		UserID:         userID,
		Operation:      op,
		Amount:         amount.Amount,
		Currency:       amount.Currency,
		Status:         model.ReservationReserved,
	}
	if applied != nil {
		couponID := applied.Coupon.ID
		res.CouponID = &couponID
	}
	return res
}

// charge 调用支付方扣款。成功时预留标记为 charged；被拒标记 failed；超时或处理中标记 unknown 并告警
func (s *SubscriptionService) charge(ctx context.Context, op, token string, userID, subID int64, amount money.Money, desc string) (*payment.ChargeResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ChargeTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.processor.Charge(callCtx, payment.ChargeRequest{
		UserID:         userID,
		Amount:         amount,
		IdempotencyKey: token,
		Description:    desc,
	})
	s.metrics.ObserveCall(op, start)

	switch {
	case err == nil && res.Status == payment.StatusSucceeded:
		if _, err := s.reservationRepo.Transition(token, []string{model.ReservationReserved}, model.ReservationCharged,
			map[string]interface{}{"payment_ref": res.Reference}); err != nil {
			logrus.WithError(err).WithField("reservation", token).Error("failed to mark reservation charged")
		}
		return res, nil

	case payment.IsTimeout(err) || err == nil && res.Status == payment.StatusPending:
		s.metrics.PaymentFailure(op, "unknown")
		s.markReservation(token, model.ReservationUnknown, err)
		s.raise(ctx, alert.Alert{
			Severity:       alert.SeverityWarning,
			Title:          "payment outcome unknown",
			SubscriptionID: subID,
			Reservation:    token,
			Detail:         fmt.Sprintf("%s charge of %s did not complete in time; state left unchanged", op, amount),
			Fields:         map[string]interface{}{"user_id": userID, "operation": op},
		})
		return nil, ErrPaymentUnknown

	case errors.Is(err, payment.ErrDeclined) || err == nil && res.Status == payment.StatusFailed:
		s.metrics.PaymentFailure(op, "declined")
		if err == nil {
			err = payment.ErrDeclined
		}
		s.markReservation(token, model.ReservationFailed, err)
		return nil, fmt.Errorf("%w: %v", ErrPaymentFailed, err)

	default:
		s.metrics.PaymentFailure(op, "processor_error")
		s.markReservation(token, model.ReservationFailed, err)
		logrus.WithError(err).WithFields(logrus.Fields{
			"operation":   op,
			"reservation": token,
		}).Error("payment processor error")
		return nil, fmt.Errorf("%w: %v", ErrPaymentProcessor, err)
	}
}

// refundPart 退款落在单笔扣款上的部分。Token 为空表示该扣款没有预留记录
type refundPart struct {
	ChargeRef string
	Token     string
	Amount    money.Money
}

// refundParts 把退款按扣款从新到旧拆分，每笔不超过该扣款剩余可退金额。
// 没有扣款预留的订阅整笔退到最近一次扣款上
func (s *SubscriptionService) refundParts(sub *model.Subscription, amount money.Money) ([]refundPart, error) {
	charges, err := s.reservationRepo.ListRefundable(sub.ID, []string{OpCreate, OpRenew, OpUpgrade})
	if err != nil {
		return nil, err
	}
	if len(charges) == 0 {
		return []refundPart{{ChargeRef: sub.LastChargeRef, Amount: amount}}, nil
	}

	var parts []refundPart
	remaining := amount.Amount
	for _, ch := range charges {
		if remaining == 0 {
			break
		}
		if ch.Currency != sub.Currency {
			continue
		}
		take := min64(ch.Amount-ch.Refunded, remaining)
		parts = append(parts, refundPart{ChargeRef: ch.PaymentRef, Token: ch.Token, Amount: money.New(take, sub.Currency)})
		remaining -= take
	}
	if remaining > 0 {
		return nil, ErrInvalidAmount
	}
	return parts, nil
}

// markRefunded 提交时累加每笔扣款的已退金额
func (s *SubscriptionService) markRefunded(parts []refundPart) func(tx *gorm.DB) error {
	return func(tx *gorm.DB) error {
		repo := s.reservationRepo.WithTx(tx)
		for _, part := range parts {
			if part.Token == "" {
				continue
			}
			ok, err := repo.AddRefunded(part.Token, part.Amount.Amount)
			if err != nil {
				return err
			}
			if !ok {
				return repository.ErrVersionConflict
			}
		}
		return nil
	}
}

// refund 按拆分依次调用支付方退款。第一笔之后失败时已有款项退出，预留标记 unknown 交给对账人工处理
func (s *SubscriptionService) refund(ctx context.Context, token string, sub *model.Subscription, parts []refundPart) (*payment.RefundResult, error) {
	refs := make([]string, 0, len(parts))
	var total int64
	for i, part := range parts {
		key := token
		if i > 0 {
			key = fmt.Sprintf("%s-%d", token, i)
		}
		res, err := s.refundOne(ctx, part, key)
		if err != nil {
			if len(refs) > 0 {
				return nil, s.refundInterrupted(ctx, token, sub, refs, total, err)
			}
			return nil, s.refundFailed(ctx, token, sub, part.Amount, err)
		}
		refs = append(refs, res.Reference)
		total += part.Amount.Amount
	}

	ref := truncate(strings.Join(refs, ","), 100)
	if _, err := s.reservationRepo.Transition(token, []string{model.ReservationReserved}, model.ReservationCharged,
		map[string]interface{}{"payment_ref": ref}); err != nil {
		logrus.WithError(err).WithField("reservation", token).Error("failed to mark reservation charged")
	}
	return &payment.RefundResult{Reference: ref, Amount: money.New(total, sub.Currency)}, nil
}

func (s *SubscriptionService) refundOne(ctx context.Context, part refundPart, key string) (*payment.RefundResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ChargeTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.processor.Refund(callCtx, part.ChargeRef, part.Amount, key)
	s.metrics.ObserveCall(OpRefund, start)
	return res, err
}

func (s *SubscriptionService) refundFailed(ctx context.Context, token string, sub *model.Subscription, amount money.Money, err error) error {
	if payment.IsTimeout(err) {
		s.metrics.PaymentFailure(OpRefund, "unknown")
		s.markReservation(token, model.ReservationUnknown, err)
		s.raise(ctx, alert.Alert{
			Severity:       alert.SeverityWarning,
			Title:          "refund outcome unknown",
			SubscriptionID: sub.ID,
			Reservation:    token,
			Detail:         fmt.Sprintf("refund of %s did not complete in time; state left unchanged", amount),
		})
		return ErrPaymentUnknown
	}

	s.metrics.PaymentFailure(OpRefund, "processor_error")
	s.markReservation(token, model.ReservationFailed, err)
	logrus.WithError(err).WithFields(logrus.Fields{
		"subscription_id": sub.ID,
		"reservation":     token,
	}).Error("refund rejected by processor")
	return fmt.Errorf("%w: %v", ErrPaymentProcessor, err)
}

func (s *SubscriptionService) refundInterrupted(ctx context.Context, token string, sub *model.Subscription, refs []string, done int64, err error) error {
	s.metrics.PaymentFailure(OpRefund, "unknown")
	s.markReservation(token, model.ReservationUnknown, err)
	s.raise(ctx, alert.Alert{
		Severity:       alert.SeverityCritical,
		Title:          "refund partially applied",
		SubscriptionID: sub.ID,
		Reservation:    token,
		Detail: fmt.Sprintf("%s refunded (%s) before a later part failed: %v; state left unchanged",
			money.New(done, sub.Currency), strings.Join(refs, ","), err),
		Fields: map[string]interface{}{"payment_refs": refs},
	})
	return ErrPaymentUnknown
}

func (s *SubscriptionService) markReservation(token, status string, cause error) {
	fields := map[string]interface{}{}
	if cause != nil {
		fields["error"] = truncate(cause.Error(), 500)
	}
	if _, err := s.reservationRepo.Transition(token, []string{model.ReservationReserved}, status, fields); err != nil {
		logrus.WithError(err).WithField("reservation", token).Error("failed to update charge reservation")
	}
}

// integrityFailure 外部扣款/退款已成功但落库失败：预留保持 charged 供对账，发出严重告警
func (s *SubscriptionService) integrityFailure(ctx context.Context, op string, subID int64, token string, amount money.Money, ref string, cause error) error {
	s.metrics.IntegrityAlert()
	s.metrics.Transition(op, "integrity_error")
	if subID != 0 {
		s.release(subID, token)
	}
	s.raise(ctx, alert.Alert{
		Severity:       alert.SeverityCritical,
		Title:          "charge recorded by processor but not persisted",
		SubscriptionID: subID,
		Reservation:    token,
		Detail:         fmt.Sprintf("%s of %s (ref %s) succeeded externally but commit failed: %v", op, amount, ref, cause),
		Fields:         map[string]interface{}{"operation": op, "payment_ref": ref},
	})
	return fmt.Errorf("%w: %v", ErrIntegrity, cause)
}

func (s *SubscriptionService) raise(ctx context.Context, a alert.Alert) {
	a.At = s.now()
	if err := s.alerter.Send(ctx, a); err != nil {
		logrus.WithError(err).WithField("title", a.Title).Error("failed to send operator alert")
	}
}

// amountDue 本次应扣金额：价格减去持续折扣，再用账户余额抵扣。返回应扣金额和消耗的余额
func (s *SubscriptionService) amountDue(sub *model.Subscription, price money.Money) (money.Money, money.Money) {
	gross := price.Amount - sub.DiscountAmount
	if gross < 0 {
		gross = 0
	}
	credit := min64(sub.CreditBalance, gross)
	if credit < 0 {
		credit = 0
	}
	return money.New(gross-credit, price.Currency), money.New(credit, price.Currency)
}

// targetPrice 校验换套餐的目标套餐并取其在订阅币种和周期下的价格
func (s *SubscriptionService) targetPrice(ctx context.Context, sub *model.Subscription, planID int64) (money.Money, error) {
	if sub.PlanID == planID {
		return money.Money{}, ErrSamePlan
	}
	plan, err := s.catalog.GetPlan(planID)
	if err != nil {
		return money.Money{}, err
	}
	if err := s.catalog.ValidateForSubscription(plan, sub.BillingPeriod); err != nil {
		return money.Money{}, err
	}
	return s.priceFor(ctx, planID, sub.Currency, sub.BillingPeriod)
}

// priceFor 取价格快照。缺少该币种价格时，按配置通过汇率服务换算，否则返回币种不一致
func (s *SubscriptionService) priceFor(ctx context.Context, planID int64, cur, period string) (money.Money, error) {
	price, err := s.catalog.GetPrice(planID, cur, period)
	if err == nil {
		return price, nil
	}
	if !errors.Is(err, ErrNoPriceForCombination) {
		return money.Money{}, err
	}

	others, lerr := s.catalog.PricesForPeriod(planID, period)
	if lerr != nil {
		return money.Money{}, lerr
	}
	if len(others) == 0 {
		return money.Money{}, ErrNoPriceForCombination
	}
	if !s.cfg.ConvertMissingPrices || s.converter == nil {
		return money.Money{}, ErrCurrencyMismatch
	}
	converted, err := s.converter.Convert(ctx, money.New(others[0].Amount, others[0].Currency), cur)
	if err != nil {
		return money.Money{}, fmt.Errorf("%w: %v", ErrCurrencyUnavailable, err)
	}
	return converted, nil
}

func (s *SubscriptionService) event(typ string, sub *model.Subscription, amount int64, reason string, now time.Time) events.DomainEvent {
	return events.DomainEvent{
		Type:           typ,
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Status:         sub.Status,
		PlanID:         sub.PlanID,
		Amount:         amount,
		Currency:       sub.Currency,
		Reason:         reason,
		OccurredAt:     now,
	}
}

// outcomeOf 指标标签
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrPaymentFailed):
		return "payment_failed"
	case errors.Is(err, ErrPaymentUnknown):
		return "unknown"
	case errors.Is(err, ErrConcurrentModification):
		return "conflict"
	}
	if kind := KindOf(err); kind != "" {
		return kind
	}
	return "error"
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
