package bootstrap

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/qs3c/pricing_server/config"
	"github.com/qs3c/pricing_server/internal/pkg/alert"
	"github.com/qs3c/pricing_server/internal/pkg/currency"
	"github.com/qs3c/pricing_server/internal/pkg/events"
	"github.com/qs3c/pricing_server/internal/pkg/metrics"
	"github.com/qs3c/pricing_server/internal/pkg/oss"
	"github.com/qs3c/pricing_server/internal/pkg/payment"
	"github.com/qs3c/pricing_server/internal/repository"
	"github.com/qs3c/pricing_server/internal/service"
)

// Services 各进程共用的服务集合
type Services struct {
	Catalog    *service.CatalogService
	Coupons    *service.CouponService
	Subs       *service.SubscriptionService
	Scheduler  *service.BillingScheduler
	Reconciler *service.ReconcileService
	Processor  payment.Processor
}

// SetupLogger 按配置设置 logrus 的级别和格式
func SetupLogger(cfg config.LogConfig) {
	logrus.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// NewProcessor 配置了 Stripe key 时使用 Stripe，否则使用沙箱
func NewProcessor(cfg *config.StripeConfig) payment.Processor {
	if cfg.APIKey == "" {
		logrus.Warn("stripe api key not configured, using sandbox payment processor")
		return payment.NewSandbox()
	}
	return payment.NewStripeProcessor(cfg.APIKey)
}

// NewReportUploader 配置了 OSS 时返回上传器，否则返回 nil
func NewReportUploader(cfg *config.OSSConfig) service.ReportUploader {
	if cfg.Endpoint == "" || cfg.AccessKeyID == "" {
		return nil
	}
	client, err := oss.NewClient(cfg)
	if err != nil {
		logrus.WithError(err).Warn("failed to init OSS client, reports will not be uploaded")
		return nil
	}
	logrus.Info("OSS client initialized")
	return client
}

// Build 组装服务。processor 为空时按配置创建
func Build(
	cfg *config.Config,
	db *gorm.DB,
	processor payment.Processor,
	sink events.Sink,
	m *metrics.Metrics,
	uploader service.ReportUploader,
) (*Services, error) {
	converter, err := currency.NewStaticConverter(&cfg.Currency)
	if err != nil {
		return nil, err
	}
	if processor == nil {
		processor = NewProcessor(&cfg.Stripe)
	}
	alerter := alert.New(&cfg.Alert)

	planRepo := repository.NewPlanRepository(db)
	couponRepo := repository.NewCouponRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	reservationRepo := repository.NewReservationRepository(db)

	catalog := service.NewCatalogService(db, planRepo, converter.Precision(), m, cfg.Billing.CatalogCacheTTL)
	coupons := service.NewCouponService(couponRepo, catalog, converter, converter.Precision(), cfg.Currency.Default)
	subs := service.NewSubscriptionService(db, subRepo, ledgerRepo, reservationRepo,
		catalog, coupons, processor, converter, alerter, m, cfg)

	return &Services{
		Catalog:    catalog,
		Coupons:    coupons,
		Subs:       subs,
		Scheduler:  service.NewBillingScheduler(subRepo, subs, sink, m, cfg),
		Reconciler: service.NewReconcileService(db, subRepo, reservationRepo, coupons, processor, alerter, m, uploader, cfg),
		Processor:  processor,
	}, nil
}
