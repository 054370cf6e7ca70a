package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/qs3c/pricing_server/internal/pkg/queue"
	"github.com/qs3c/pricing_server/internal/service"
)

const popTimeout = 5 * time.Second

// JobSource 续费任务来源
type JobSource interface {
	Pop(ctx context.Context, timeout time.Duration) (*queue.RenewalJob, error)
}

// ClaimProcessor 处理一条已认领的到期订阅
type ClaimProcessor interface {
	Process(ctx context.Context, c service.Claim) error
}

// Processor 消费调度器推入队列的到期订阅
type Processor struct {
	source    JobSource
	scheduler ClaimProcessor
}

// NewProcessor 创建任务处理器
func NewProcessor(source JobSource, scheduler ClaimProcessor) *Processor {
	return &Processor{
		source:    source,
		scheduler: scheduler,
	}
}

// Handle 处理单个任务
func (p *Processor) Handle(ctx context.Context, job *queue.RenewalJob) error {
	if job.SubscriptionID <= 0 || job.ClaimToken == "" {
		return fmt.Errorf("malformed renewal job: %+v", job)
	}

	action := job.Action
	if action == "" {
		action = service.ActionRenew
	}
	return p.scheduler.Process(ctx, service.Claim{
		SubscriptionID: job.SubscriptionID,
		Token:          job.ClaimToken,
		Action:         action,
	})
}

// Run 启动 workers 个消费协程，直到 ctx 取消
func (p *Processor) Run(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		workerID := i
		g.Go(func() error {
			p.loop(gctx, workerID)
			return nil
		})
	}

	logrus.WithField("workers", workers).Info("renewal workers started")
	err := g.Wait()
	logrus.Info("renewal workers stopped")
	return err
}

func (p *Processor) loop(ctx context.Context, workerID int) {
	log := logrus.WithField("worker", workerID)
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.source.Pop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("failed to pop renewal job")
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue // 超时，继续等待
		}

		if err := p.Handle(ctx, job); err != nil {
			// 锁到期后会被下一轮扫描重新认领
			log.WithError(err).WithField("subscription_id", job.SubscriptionID).Warn("renewal job failed")
		}
	}
}
