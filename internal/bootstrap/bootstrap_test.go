package bootstrap

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/pricing_server/config"
	"github.com/qs3c/pricing_server/internal/model"
	"github.com/qs3c/pricing_server/internal/model/dto"
	"github.com/qs3c/pricing_server/internal/pkg/events"
	"github.com/qs3c/pricing_server/internal/pkg/payment"
	"github.com/qs3c/pricing_server/internal/testutil"
)

func TestSetupLogger(t *testing.T) {
	defer func() {
		logrus.SetLevel(logrus.InfoLevel)
		logrus.SetFormatter(&logrus.TextFormatter{})
	}()

	SetupLogger(config.LogConfig{Level: "debug", Format: "json"})
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	_, ok := logrus.StandardLogger().Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)

	SetupLogger(config.LogConfig{Level: "nonsense"})
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())
	_, ok = logrus.StandardLogger().Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)
}

func TestNewProcessor(t *testing.T) {
	_, ok := NewProcessor(&config.StripeConfig{}).(*payment.Sandbox)
	assert.True(t, ok)

	_, ok = NewProcessor(&config.StripeConfig{APIKey: "sk_test_123"}).(*payment.StripeProcessor)
	assert.True(t, ok)
}

func TestNewReportUploader_Unconfigured(t *testing.T) {
	assert.Nil(t, NewReportUploader(&config.OSSConfig{}))
}

func TestBuild(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	cfg := &config.Config{}
	cfg.ApplyDefaults()
	sink := &testutil.RecordingSink{}

	svc, err := Build(cfg, db, payment.NewSandbox(), sink, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, svc.Subs)
	require.NotNil(t, svc.Scheduler)
	require.NotNil(t, svc.Reconciler)

	plan := testutil.TestPricedPlan(t, db, 1200)
	res, err := svc.Subs.Create(context.Background(), 1, &dto.CreateSubscriptionRequest{
		PlanID: plan.ID, BillingPeriod: model.PeriodMonthly,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, res.Subscription.Status)
	assert.Equal(t, int64(1200), res.Subscription.CycleCharged)
	require.Len(t, res.Events, 1)
	assert.Equal(t, events.TypeCreated, res.Events[0].Type)
}

func TestBuild_InvalidRates(t *testing.T) {
	cfg := &config.Config{}
	cfg.Currency.Rates = map[string]string{"USD:EUR": "not-a-number"}
	cfg.ApplyDefaults()

	_, err := Build(cfg, nil, payment.NewSandbox(), nil, nil, nil)
	assert.Error(t, err)
}
