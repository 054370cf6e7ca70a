package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/qs3c/pricing_server/config"
	"github.com/qs3c/pricing_server/internal/bootstrap"
	"github.com/qs3c/pricing_server/internal/database"
	"github.com/qs3c/pricing_server/internal/service"
	"github.com/qs3c/pricing_server/internal/worker"
)

var (
	dryRun   = flag.Bool("dry-run", false, "Report what would be resolved without changing anything")
	spoolDir = flag.String("spool-dir", "reports", "Local directory for reports that failed to upload")
)

func main() {
	flag.Parse()

	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	bootstrap.SetupLogger(cfg.Log)
	logrus.WithField("dry_run", *dryRun).Info("Starting reconcile task")

	// 连接数据库
	db, err := database.Open(&cfg.Database)
	if err != nil {
		logrus.Fatalf("Failed to connect database: %v", err)
	}

	spool, err := worker.NewReportSpool(bootstrap.NewReportUploader(&cfg.OSS), *spoolDir)
	if err != nil {
		logrus.Fatalf("Failed to init report spool: %v", err)
	}

	// 对账不推送事件
	services, err := bootstrap.Build(cfg, db, nil, nil, nil, spool)
	if err != nil {
		logrus.Fatalf("Failed to init services: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 对账与之前未上传成功的报告重传并行进行
	var report *service.ReconcileReport
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		report, err = services.Reconciler.Run(gctx, *dryRun)
		return err
	})
	if !*dryRun {
		g.Go(func() error {
			spool.Flush(gctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logrus.Fatalf("Reconcile failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logrus.Fatalf("Failed to write report: %v", err)
	}

	if report.Integrity > 0 || report.ManualReview > 0 {
		os.Exit(2)
	}
}
