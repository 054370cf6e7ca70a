package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/qs3c/pricing_server/config"
	"github.com/qs3c/pricing_server/internal/bootstrap"
	"github.com/qs3c/pricing_server/internal/database"
	"github.com/qs3c/pricing_server/internal/pkg/cron"
	"github.com/qs3c/pricing_server/internal/pkg/metrics"
	"github.com/qs3c/pricing_server/internal/pkg/pubsub"
	"github.com/qs3c/pricing_server/internal/pkg/queue"
	"github.com/qs3c/pricing_server/internal/worker"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to config file")
	spoolDir   = flag.String("spool-dir", "reports", "Local directory for reconcile reports that failed to upload")
)

func main() {
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	bootstrap.SetupLogger(cfg.Log)

	// 初始化数据库
	db, err := database.Open(&cfg.Database)
	if err != nil {
		logrus.Fatalf("Failed to connect database: %v", err)
	}
	logrus.Info("Database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		logrus.Fatalf("Failed to connect redis: %v", err)
	}
	logrus.Info("Redis connected")

	spool, err := worker.NewReportSpool(bootstrap.NewReportUploader(&cfg.OSS), *spoolDir)
	if err != nil {
		logrus.Fatalf("Failed to init report spool: %v", err)
	}

	services, err := bootstrap.Build(cfg, db, nil, pubsub.NewPublisher(rdb), metrics.New(prometheus.NewRegistry()), spool)
	if err != nil {
		logrus.Fatalf("Failed to init services: %v", err)
	}

	// 队列模式下由 cron 认领入队、本进程的 worker 池消费；否则在 cron 回调内直接处理
	var renewalQueue *queue.Queue
	if cfg.Scheduler.UseQueue {
		renewalQueue = queue.NewQueue(rdb, cfg.Scheduler.QueueName)
	}

	cronService, err := cron.NewService(cfg.Scheduler, services.Scheduler, services.Reconciler, renewalQueue)
	if err != nil {
		logrus.Fatalf("Failed to init cron: %v", err)
	}

	// 创建 context 用于优雅关闭
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logrus.Info("Received shutdown signal")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)
	if renewalQueue != nil {
		processor := worker.NewProcessor(renewalQueue, services.Scheduler)
		g.Go(func() error {
			return processor.Run(gctx, cfg.Scheduler.MaxWorkers)
		})
	}
	g.Go(func() error {
		spool.Start(gctx)
		return nil
	})

	cronService.Start()
	logrus.WithFields(logrus.Fields{
		"sweep":     cfg.Scheduler.Spec,
		"reconcile": cfg.Scheduler.ReconcileSpec,
		"use_queue": cfg.Scheduler.UseQueue,
	}).Info("Worker started")

	<-gctx.Done()
	cronService.Stop()
	if err := g.Wait(); err != nil {
		logrus.WithError(err).Error("Worker stopped with error")
	}
	logrus.Info("Worker shutdown complete")
}
