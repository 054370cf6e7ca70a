package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/pricing_server/config"
	"github.com/qs3c/pricing_server/internal/api"
	"github.com/qs3c/pricing_server/internal/api/handler"
	"github.com/qs3c/pricing_server/internal/bootstrap"
	"github.com/qs3c/pricing_server/internal/database"
	"github.com/qs3c/pricing_server/internal/pkg/events"
	"github.com/qs3c/pricing_server/internal/pkg/metrics"
	"github.com/qs3c/pricing_server/internal/pkg/pubsub"
	"github.com/qs3c/pricing_server/internal/pkg/ws"
)

var configPath = flag.String("config", "config.yaml", "Path to config file")

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
	if err := database.Migrate(db); err != nil {
		logrus.Fatalf("Failed to migrate database: %v", err)
	}
	logrus.Info("Database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		logrus.Fatalf("Failed to connect redis: %v", err)
	}
	logrus.Info("Redis connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 计费事件经 Redis 广播，各实例的 WebSocket Hub 各自推送给在线用户
	publisher := pubsub.NewPublisher(rdb)
	wsHub := ws.NewHub()
	go func() {
		err := pubsub.NewSubscriber(rdb).Subscribe(ctx, func(evt *events.DomainEvent) {
			_ = wsHub.Publish(ctx, *evt)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithError(err).Error("billing event subscriber stopped")
		}
	}()
	logrus.Info("WebSocket hub started")

	m := metrics.New(prometheus.NewRegistry())

	services, err := bootstrap.Build(cfg, db, nil, publisher, m, bootstrap.NewReportUploader(&cfg.OSS))
	if err != nil {
		logrus.Fatalf("Failed to init services: %v", err)
	}

	// 初始化 Router
	router := api.NewRouter(
		handler.NewPlanHandler(services.Catalog),
		handler.NewCouponHandler(services.Coupons),
		handler.NewSubscriptionHandler(services.Subs, services.Catalog, publisher),
		handler.NewAdminHandler(services.Scheduler, services.Reconciler),
		handler.NewWebSocketHandler(wsHub, cfg.JWT.Secret, cfg.CORS),
		services.Subs,
		m,
		cfg,
	)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router.Setup(),
	}

	go func() {
		logrus.Infof("Server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logrus.Info("Received shutdown signal")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server shutdown failed")
	}
	logrus.Info("Server stopped")
}
