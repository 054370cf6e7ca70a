package cron

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/pricing_server/config"
	"github.com/qs3c/pricing_server/internal/pkg/queue"
	"github.com/qs3c/pricing_server/internal/service"
)

// Service 定时任务：到期扫描与对账
type Service struct {
	cron       *cron.Cron
	scheduler  *service.BillingScheduler
	reconciler *service.ReconcileService
	queue      *queue.Queue
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewService 创建定时任务。q 不为空时扫描结果推入队列，由 worker 消费；否则在本进程内处理
func NewService(
	cfg config.SchedulerConfig,
	scheduler *service.BillingScheduler,
	reconciler *service.ReconcileService,
	q *queue.Queue,
) (*Service, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.PrintfLogger(logrus.StandardLogger())),
			cron.SkipIfStillRunning(cron.PrintfLogger(logrus.StandardLogger())),
		)),
		scheduler:  scheduler,
		reconciler: reconciler,
		queue:      q,
		ctx:        ctx,
		cancel:     cancel,
	}

	if scheduler != nil {
		if _, err := s.cron.AddFunc(cfg.Spec, func() { s.RunSweep(s.ctx) }); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.Spec, err)
		}
	}
	if reconciler != nil {
		if _, err := s.cron.AddFunc(cfg.ReconcileSpec, func() { s.RunReconcile(s.ctx) }); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid reconcile schedule %q: %w", cfg.ReconcileSpec, err)
		}
	}
	return s, nil
}

// Start 启动定时任务
func (s *Service) Start() {
	s.cron.Start()
	logrus.WithField("jobs", len(s.cron.Entries())).Info("cron service started")
}

// Stop 停止调度并等待正在执行的任务结束
func (s *Service) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	logrus.Info("cron service stopped")
}

// RunSweep 执行一轮到期扫描，返回认领数量
func (s *Service) RunSweep(ctx context.Context) int {
	if s.queue != nil {
		pushed, err := s.scheduler.Enqueue(ctx, s.queue)
		if err != nil {
			logrus.WithError(err).Error("failed to enqueue due subscriptions")
			return 0
		}
		if pushed > 0 {
			logrus.WithField("pushed", pushed).Info("due subscriptions enqueued")
		}
		return pushed
	}

	resp, err := s.scheduler.Sweep(ctx)
	if err != nil {
		logrus.WithError(err).Error("billing sweep failed")
		return 0
	}
	return resp.Claimed
}

// RunReconcile 执行一次对账
func (s *Service) RunReconcile(ctx context.Context) *service.ReconcileReport {
	report, err := s.reconciler.Run(ctx, false)
	if err != nil {
		logrus.WithError(err).Error("reconcile failed")
		return nil
	}
	return report
}
