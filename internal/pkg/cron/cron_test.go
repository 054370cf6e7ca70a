package cron

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/pricing_server/config"
	"github.com/qs3c/pricing_server/internal/model"
	"github.com/qs3c/pricing_server/internal/pkg/currency"
	"github.com/qs3c/pricing_server/internal/pkg/payment"
	"github.com/qs3c/pricing_server/internal/pkg/queue"
	"github.com/qs3c/pricing_server/internal/repository"
	"github.com/qs3c/pricing_server/internal/service"
	"github.com/qs3c/pricing_server/internal/testutil"
)

type cronEnv struct {
	db         *gorm.DB
	cfg        *config.Config
	scheduler  *service.BillingScheduler
	reconciler *service.ReconcileService
}

func setupCronEnv(t *testing.T) (*cronEnv, func()) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	cfg := &config.Config{}
	cfg.ApplyDefaults()

	converter, err := currency.NewStaticConverter(&cfg.Currency)
	require.NoError(t, err)

	processor := payment.NewSandbox()
	subRepo := repository.NewSubscriptionRepository(db)
	resRepo := repository.NewReservationRepository(db)
	catalog := service.NewCatalogService(db, repository.NewPlanRepository(db), converter.Precision(), nil, time.Minute)
	coupons := service.NewCouponService(repository.NewCouponRepository(db), catalog, converter, converter.Precision(), "USD")
	subs := service.NewSubscriptionService(db, subRepo, repository.NewLedgerRepository(db), resRepo,
		catalog, coupons, processor, converter, &testutil.FakeAlerter{}, nil, cfg)

	env := &cronEnv{
		db:         db,
		cfg:        cfg,
		scheduler:  service.NewBillingScheduler(subRepo, subs, &testutil.RecordingSink{}, nil, cfg),
		reconciler: service.NewReconcileService(db, subRepo, resRepo, coupons, processor, &testutil.FakeAlerter{}, nil, nil, cfg),
	}
	return env, func() { testutil.CleanupTestDB(t, db) }
}

func seedDue(t *testing.T, db *gorm.DB) *model.Subscription {
	t.Helper()
	plan := testutil.TestPricedPlan(t, db, 1000)
	now := time.Now().UTC()
	return testutil.TestSubscription(t, db, 1, plan.ID,
		testutil.WithPrice(1000, "USD"),
		testutil.WithCycle(now.AddDate(0, -1, 0), now.Add(-time.Minute)))
}

func TestNewService_InvalidSpec(t *testing.T) {
	env, cleanup := setupCronEnv(t)
	defer cleanup()

	cfg := env.cfg.Scheduler
	cfg.Spec = "not a schedule"
	_, err := NewService(cfg, env.scheduler, env.reconciler, nil)
	assert.Error(t, err)

	cfg = env.cfg.Scheduler
	cfg.ReconcileSpec = "61 * * * *"
	_, err = NewService(cfg, env.scheduler, env.reconciler, nil)
	assert.Error(t, err)
}

func TestService_StartStop(t *testing.T) {
	env, cleanup := setupCronEnv(t)
	defer cleanup()

	svc, err := NewService(env.cfg.Scheduler, env.scheduler, env.reconciler, nil)
	require.NoError(t, err)
	assert.Len(t, svc.cron.Entries(), 2)

	svc.Start()
	done := make(chan struct{})
	go func() {
		svc.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestService_RunSweepInProcess(t *testing.T) {
	env, cleanup := setupCronEnv(t)
	defer cleanup()

	sub := seedDue(t, env.db)
	svc, err := NewService(env.cfg.Scheduler, env.scheduler, env.reconciler, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, svc.RunSweep(context.Background()))

	var reloaded model.Subscription
	require.NoError(t, env.db.First(&reloaded, sub.ID).Error)
	assert.True(t, reloaded.EndsAt.After(time.Now()))
	assert.Equal(t, 0, svc.RunSweep(context.Background()))
}

func TestService_RunSweepEnqueues(t *testing.T) {
	env, cleanup := setupCronEnv(t)
	defer cleanup()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sub := seedDue(t, env.db)
	q := queue.NewQueue(client, env.cfg.Scheduler.QueueName)
	svc, err := NewService(env.cfg.Scheduler, env.scheduler, env.reconciler, q)
	require.NoError(t, err)

	assert.Equal(t, 1, svc.RunSweep(context.Background()))

	length, err := q.Length(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)

	job, err := q.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, sub.ID, job.SubscriptionID)
	assert.Equal(t, service.ActionRenew, job.Action)
	assert.NotEmpty(t, job.ClaimToken)

	// 认领未处理前不会重复入队
	assert.Equal(t, 0, svc.RunSweep(context.Background()))
}

func TestService_RunReconcile(t *testing.T) {
	env, cleanup := setupCronEnv(t)
	defer cleanup()

	svc, err := NewService(env.cfg.Scheduler, env.scheduler, env.reconciler, nil)
	require.NoError(t, err)

	report := svc.RunReconcile(context.Background())
	require.NotNil(t, report)
	assert.False(t, report.DryRun)
	assert.Equal(t, 0, report.Scanned)
}
