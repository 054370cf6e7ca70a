package api

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/pricing_server/config"
	"github.com/qs3c/pricing_server/internal/api/handler"
	"github.com/qs3c/pricing_server/internal/api/middleware"
	"github.com/qs3c/pricing_server/internal/pkg/metrics"
)

type Router struct {
	planHandler         *handler.PlanHandler
	couponHandler       *handler.CouponHandler
	subscriptionHandler *handler.SubscriptionHandler
	adminHandler        *handler.AdminHandler
	websocketHandler    *handler.WebSocketHandler
	access              middleware.AccessChecker
	metrics             *metrics.Metrics
	cfg                 *config.Config
}

func NewRouter(
	planHandler *handler.PlanHandler,
	couponHandler *handler.CouponHandler,
	subscriptionHandler *handler.SubscriptionHandler,
	adminHandler *handler.AdminHandler,
	websocketHandler *handler.WebSocketHandler,
	access middleware.AccessChecker,
	m *metrics.Metrics,
	cfg *config.Config,
) *Router {
	return &Router{
		planHandler:         planHandler,
		couponHandler:       couponHandler,
		subscriptionHandler: subscriptionHandler,
		adminHandler:        adminHandler,
		websocketHandler:    websocketHandler,
		access:              access,
		metrics:             m,
		cfg:                 cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(r.metrics.GinMiddleware())
	engine.Use(middleware.CORS(r.cfg.CORS))

	if r.cfg.Metrics.Enabled && r.metrics != nil {
		engine.GET(r.cfg.Metrics.Path, gin.WrapH(r.metrics.Handler()))
	}

	api := engine.Group("/api/v1")
	{
		// WebSocket
		api.GET("/ws", r.websocketHandler.Handle)

		// 公开接口 - 套餐目录
		plans := api.Group("/plans")
		{
			plans.GET("", r.planHandler.List)
			plans.GET("/default", r.planHandler.GetDefault)
			plans.GET("/:id", r.planHandler.Get)
		}

		// 需要认证的接口
		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			authenticated.POST("/coupons/validate", r.couponHandler.Validate)
			authenticated.GET("/access", r.subscriptionHandler.Access)
			authenticated.GET("/entitlements", middleware.RequireAccess(r.access), r.subscriptionHandler.Entitlements)

			subs := authenticated.Group("/subscriptions")
			{
				subs.POST("", r.subscriptionHandler.Create)
				subs.GET("", r.subscriptionHandler.List)
				subs.GET("/:id", r.subscriptionHandler.Get)
				subs.GET("/:id/ledger", r.subscriptionHandler.Ledger)
				subs.POST("/:id/upgrade", r.subscriptionHandler.Upgrade)
				subs.POST("/:id/downgrade", r.subscriptionHandler.Downgrade)
				subs.POST("/:id/pause", r.subscriptionHandler.Pause)
				subs.POST("/:id/resume", r.subscriptionHandler.Resume)
				subs.POST("/:id/cancel", r.subscriptionHandler.Cancel)
			}
		}

		// 管理接口
		admin := api.Group("/admin")
		admin.Use(middleware.Auth(r.cfg.JWT.Secret), middleware.AdminOnly())
		{
			adminPlans := admin.Group("/plans")
			{
				adminPlans.GET("", r.planHandler.AdminList)
				adminPlans.POST("", r.planHandler.Create)
				adminPlans.PUT("/default", r.planHandler.SetDefault)
				adminPlans.PUT("/:id", r.planHandler.Update)
				adminPlans.POST("/:id/prices", r.planHandler.AddPrice)
				adminPlans.PUT("/:id/prices", r.planHandler.ReplacePrice)
				adminPlans.DELETE("/:id/prices/:priceId", r.planHandler.RetirePrice)
				adminPlans.POST("/:id/activate", r.planHandler.Activate)
				adminPlans.POST("/:id/deprecate", r.planHandler.Deprecate)
			}

			adminCoupons := admin.Group("/coupons")
			{
				adminCoupons.GET("", r.couponHandler.List)
				adminCoupons.POST("", r.couponHandler.Create)
				adminCoupons.DELETE("/:id", r.couponHandler.Deactivate)
			}

			adminSubs := admin.Group("/subscriptions")
			{
				adminSubs.GET("", r.subscriptionHandler.AdminList)
				adminSubs.POST("/:id/renew", r.subscriptionHandler.Renew)
				adminSubs.POST("/:id/extend", r.subscriptionHandler.Extend)
				adminSubs.POST("/:id/refund", r.subscriptionHandler.Refund)
				adminSubs.DELETE("/:id", r.subscriptionHandler.Purge)
			}

			admin.POST("/billing/sweep", r.adminHandler.Sweep)
			admin.POST("/billing/reconcile", r.adminHandler.Reconcile)
		}
	}

	return engine
}
