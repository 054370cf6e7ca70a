package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/qs3c/pricing_server/config"
	"github.com/qs3c/pricing_server/internal/model"
	"github.com/qs3c/pricing_server/internal/pkg/alert"
	"github.com/qs3c/pricing_server/internal/pkg/metrics"
	"github.com/qs3c/pricing_server/internal/pkg/payment"
	"github.com/qs3c/pricing_server/internal/repository"
)

// 对账结论
const (
	OutcomeReleased     = "released"      // 支付方无成功扣款，已释放预留和优惠券
	OutcomePending      = "pending"       // 支付方仍在处理
	OutcomeIntegrity    = "integrity"     // 支付方已扣款但本地未落库
	OutcomeManualReview = "manual_review" // 退款等无法自动判断的情况
	OutcomeLookupError  = "lookup_error"
)

// ReportUploader 对账报告存储
type ReportUploader interface {
	UploadReport(runAt time.Time, data []byte) (string, error)
}

// ReconcileItem 单条预留的对账结论
type ReconcileItem struct {
	Token          string `json:"token"`
	SubscriptionID int64  `json:"subscription_id"`
	UserID         int64  `json:"user_id"`
	Operation      string `json:"operation"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	Outcome        string `json:"outcome"`
	PaymentRef     string `json:"payment_ref,omitempty"`
	Detail         string `json:"detail,omitempty"`
}

// ReconcileReport 一次对账运行的结果
type ReconcileReport struct {
	RunAt         time.Time       `json:"run_at"`
	DryRun        bool            `json:"dry_run"`
	Scanned       int             `json:"scanned"`
	Released      int             `json:"released"`
	Pending       int             `json:"pending"`
	Integrity     int             `json:"integrity"`
	ManualReview  int             `json:"manual_review"`
	LocksReleased int             `json:"locks_released"`
	Items         []ReconcileItem `json:"items"`
	ReportURL     string          `json:"report_url,omitempty"`
}

// ReconcileService 找回中断的扣款：超时未知、进程崩溃在扣款与落库之间、锁未释放
type ReconcileService struct {
	db              *gorm.DB
	subRepo         *repository.SubscriptionRepository
	reservationRepo *repository.ReservationRepository
	coupons         *CouponService
	processor       payment.Processor
	alerter         alert.Alerter
	metrics         *metrics.Metrics
	uploader        ReportUploader
	cfg             config.BillingConfig
	batchSize       int
	now             func() time.Time
}

func NewReconcileService(
	db *gorm.DB,
	subRepo *repository.SubscriptionRepository,
	reservationRepo *repository.ReservationRepository,
	coupons *CouponService,
	processor payment.Processor,
	alerter alert.Alerter,
	m *metrics.Metrics,
	uploader ReportUploader,
	cfg *config.Config,
) *ReconcileService {
	if alerter == nil {
		alerter = alert.LogAlerter{}
	}
	c := *cfg
	c.ApplyDefaults()
	return &ReconcileService{
		db:              db,
		subRepo:         subRepo,
		reservationRepo: reservationRepo,
		coupons:         coupons,
		processor:       processor,
		alerter:         alerter,
		metrics:         m,
		uploader:        uploader,
		cfg:             c.Billing,
		batchSize:       c.Billing.SweepBatchSize,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// SetClock 替换时钟，测试使用
func (s *ReconcileService) SetClock(now func() time.Time) {
	s.now = func() time.Time { return now().UTC() }
}

// Run 扫描悬挂的扣款预留并逐条向支付方核对。dryRun 时只生成报告，不修改任何状态
func (s *ReconcileService) Run(ctx context.Context, dryRun bool) (*ReconcileReport, error) {
	now := s.now()
	report := &ReconcileReport{RunAt: now, DryRun: dryRun, Items: []ReconcileItem{}}

	stale, err := s.reservationRepo.ListStale(
		[]string{model.ReservationReserved, model.ReservationUnknown, model.ReservationCharged},
		now.Add(-s.cfg.StaleReservation), s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale reservations: %w", err)
	}

	for _, res := range stale {
		if ctx.Err() != nil {
			break
		}
		item := s.reconcile(ctx, res, dryRun)
		report.Scanned++
		switch item.Outcome {
		case OutcomeReleased:
			report.Released++
		case OutcomePending:
			report.Pending++
		case OutcomeIntegrity:
			report.Integrity++
		case OutcomeManualReview:
			report.ManualReview++
		}
		report.Items = append(report.Items, item)
	}

	expired, err := s.subRepo.ListLockExpired(now, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired locks: %w", err)
	}
	for _, sub := range expired {
		if dryRun {
			report.LocksReleased++
			continue
		}
		if err := s.subRepo.ReleaseLock(sub.ID, sub.LockToken); err != nil {
			logrus.WithError(err).WithField("subscription_id", sub.ID).Error("failed to release expired lock")
			continue
		}
		report.LocksReleased++
	}

	if s.uploader != nil && !dryRun {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return nil, err
		}
		url, err := s.uploader.UploadReport(now, data)
		if err != nil {
			logrus.WithError(err).Warn("failed to upload reconcile report")
		} else {
			report.ReportURL = url
		}
	}

	logrus.WithFields(logrus.Fields{
		"dry_run":        dryRun,
		"scanned":        report.Scanned,
		"released":       report.Released,
		"pending":        report.Pending,
		"integrity":      report.Integrity,
		"manual_review":  report.ManualReview,
		"locks_released": report.LocksReleased,
	}).Info("reconcile finished")
	return report, nil
}

func (s *ReconcileService) reconcile(ctx context.Context, res *model.ChargeReservation, dryRun bool) ReconcileItem {
	item := ReconcileItem{
		Token:          res.Token,
		SubscriptionID: res.SubscriptionID,
		UserID:         res.UserID,
		Operation:      res.Operation,
		Amount:         res.Amount,
		Currency:       res.Currency,
		Status:         res.Status,
		PaymentRef:     res.PaymentRef,
	}

	if res.Operation == OpRefund {
		item.Outcome = OutcomeManualReview
		item.Detail = "refund outcome must be checked with the processor"
		if !dryRun {
			s.raise(ctx, alert.SeverityWarning, "refund needs manual review", res, item.Detail)
		}
		return item
	}

	// charged 状态表示支付方已确认成功，无需再查
	result := &payment.ChargeResult{Status: payment.StatusSucceeded, Reference: res.PaymentRef}
	if res.Status != model.ReservationCharged {
		var err error
		result, err = s.processor.Lookup(ctx, res.Token)
		if err != nil && !errors.Is(err, payment.ErrNotFound) {
			item.Outcome = OutcomeLookupError
			item.Detail = err.Error()
			logrus.WithError(err).WithField("reservation", res.Token).Warn("payment lookup failed")
			return item
		}
		if errors.Is(err, payment.ErrNotFound) {
			result = &payment.ChargeResult{Status: payment.StatusFailed}
		}
	}

	switch result.Status {
	case payment.StatusPending:
		item.Outcome = OutcomePending
		return item

	case payment.StatusSucceeded:
		item.Outcome = OutcomeIntegrity
		item.PaymentRef = result.Reference
		item.Detail = "processor reports a successful charge with no committed ledger entry"
		if dryRun {
			return item
		}
		// 保持 charged 使该订阅不再被自动续费，等待人工补录或退款
		if res.Status != model.ReservationCharged {
			if _, err := s.reservationRepo.Transition(res.Token, []string{res.Status}, model.ReservationCharged,
				map[string]interface{}{"payment_ref": result.Reference}); err != nil {
				logrus.WithError(err).WithField("reservation", res.Token).Error("failed to mark reservation charged")
			}
		}
		s.metrics.IntegrityAlert()
		s.raise(ctx, alert.SeverityCritical, "charge recorded by processor but not persisted", res, item.Detail)
		return item
	}

	item.Outcome = OutcomeReleased
	item.Detail = "no successful charge found"
	if dryRun {
		return item
	}
	if err := s.release(res); err != nil {
		item.Outcome = OutcomeLookupError
		item.Detail = err.Error()
		logrus.WithError(err).WithField("reservation", res.Token).Error("failed to release reservation")
	}
	return item
}

// release 关闭预留并撤销优惠券核销。条件更新保证同一预留只补偿一次
func (s *ReconcileService) release(res *model.ChargeReservation) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		resolvedAt := s.now()
		ok, err := s.reservationRepo.WithTx(tx).Transition(res.Token, []string{res.Status}, model.ReservationResolved,
			map[string]interface{}{"resolved_at": resolvedAt, "error": "released by reconcile"})
		if err != nil || !ok {
			return err
		}
		if res.CouponID != nil && res.Operation == OpCreate {
			return s.coupons.Release(tx, *res.CouponID, res.UserID)
		}
		return nil
	})
}

func (s *ReconcileService) raise(ctx context.Context, severity, title string, res *model.ChargeReservation, detail string) {
	a := alert.Alert{
		Severity:       severity,
		Title:          title,
		SubscriptionID: res.SubscriptionID,
		Reservation:    res.Token,
		Detail:         detail,
		Fields: map[string]interface{}{
			"operation": res.Operation,
			"amount":    fmt.Sprintf("%d %s", res.Amount, res.Currency),
			"user_id":   res.UserID,
		},
		At: s.now(),
	}
	if err := s.alerter.Send(ctx, a); err != nil {
		logrus.WithError(err).WithField("reservation", res.Token).Error("failed to send operator alert")
	}
}
