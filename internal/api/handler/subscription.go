package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/pricing_server/internal/api/middleware"
	"github.com/qs3c/pricing_server/internal/model"
	"github.com/qs3c/pricing_server/internal/model/dto"
	"github.com/qs3c/pricing_server/internal/pkg/events"
	"github.com/qs3c/pricing_server/internal/pkg/response"
	"github.com/qs3c/pricing_server/internal/service"
)

type SubscriptionHandler struct {
	subs    *service.SubscriptionService
	catalog *service.CatalogService
	sink    events.Sink
}

func NewSubscriptionHandler(subs *service.SubscriptionService, catalog *service.CatalogService, sink events.Sink) *SubscriptionHandler {
	return &SubscriptionHandler{
		subs:    subs,
		catalog: catalog,
		sink:    sink,
	}
}

// Create 订阅套餐
// POST /api/v1/subscriptions
func (h *SubscriptionHandler) Create(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	res, err := h.subs.Create(c.Request.Context(), userID, &req)
	h.finish(c, res, err, "订阅成功")
}

// List 当前用户的订阅
// GET /api/v1/subscriptions
func (h *SubscriptionHandler) List(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	subs, err := h.subs.ListByUser(userID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, subs)
}

// Get 订阅详情
// GET /api/v1/subscriptions/:id
func (h *SubscriptionHandler) Get(c *gin.Context) {
	sub, ok := h.owned(c)
	if !ok {
		return
	}
	response.Success(c, sub)
}

// Ledger 订阅账本
// GET /api/v1/subscriptions/:id/ledger
func (h *SubscriptionHandler) Ledger(c *gin.Context) {
	sub, ok := h.owned(c)
	if !ok {
		return
	}
	entries, err := h.subs.Ledger(sub.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, entries)
}

// Upgrade 升级套餐
// POST /api/v1/subscriptions/:id/upgrade
func (h *SubscriptionHandler) Upgrade(c *gin.Context) {
	sub, ok := h.owned(c)
	if !ok {
		return
	}
	var req dto.UpgradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}
	prorate := req.Prorate == nil || *req.Prorate

	res, err := h.subs.Upgrade(c.Request.Context(), sub.ID, req.PlanID, prorate)
	h.finish(c, res, err, "升级成功")
}

// Downgrade 降级套餐
// POST /api/v1/subscriptions/:id/downgrade
func (h *SubscriptionHandler) Downgrade(c *gin.Context) {
	sub, ok := h.owned(c)
	if !ok {
		return
	}
	var req dto.DowngradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	res, err := h.subs.Downgrade(c.Request.Context(), sub.ID, req.PlanID)
	h.finish(c, res, err, "降级成功")
}

// Pause 暂停订阅
// POST /api/v1/subscriptions/:id/pause
func (h *SubscriptionHandler) Pause(c *gin.Context) {
	sub, ok := h.owned(c)
	if !ok {
		return
	}
	var req dto.PauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	res, err := h.subs.Pause(c.Request.Context(), sub.ID, req.ResumeAt)
	h.finish(c, res, err, "已暂停")
}

// Resume 恢复订阅
// POST /api/v1/subscriptions/:id/resume
func (h *SubscriptionHandler) Resume(c *gin.Context) {
	sub, ok := h.owned(c)
	if !ok {
		return
	}
	res, err := h.subs.Resume(c.Request.Context(), sub.ID)
	h.finish(c, res, err, "已恢复")
}

// Cancel 取消订阅
// POST /api/v1/subscriptions/:id/cancel
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	sub, ok := h.owned(c)
	if !ok {
		return
	}
	var req dto.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	res, err := h.subs.Cancel(c.Request.Context(), sub.ID, req.Reason, req.Immediate)
	h.finish(c, res, err, "已取消")
}

// Access 当前用户是否持有有效订阅
// GET /api/v1/access
func (h *SubscriptionHandler) Access(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}
	access, err := h.subs.Access(userID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, access)
}

// Entitlements 当前套餐的功能和用量限制，需经过 RequireAccess
// GET /api/v1/entitlements
func (h *SubscriptionHandler) Entitlements(c *gin.Context) {
	access, ok := middleware.GetAccess(c)
	if !ok {
		response.NoSubscriptionError(c, "")
		return
	}
	item, err := h.catalog.PlanItem(access.PlanID, false)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"subscription_id": access.SubscriptionID,
		"status":          access.Status,
		"plan_id":         item.ID,
		"plan":            item.Slug,
		"features":        item.Features,
		"limits":          item.Limits,
	})
}

// AdminList 管理端订阅列表
// GET /api/v1/admin/subscriptions
func (h *SubscriptionHandler) AdminList(c *gin.Context) {
	var req dto.SubscriptionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}
	subs, total, err := h.subs.List(req.Status, req.Page, req.PageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.SuccessPage(c, total, req.Page, req.PageSize, subs)
}

// Renew 手动续费，周期未结束时拒绝
// POST /api/v1/admin/subscriptions/:id/renew
func (h *SubscriptionHandler) Renew(c *gin.Context) {
	id, ok := parseID(c, "id", "无效的订阅ID")
	if !ok {
		return
	}
	res, err := h.subs.Renew(c.Request.Context(), id)
	h.finish(c, res, err, "续费成功")
}

// Extend 延长当前周期
// POST /api/v1/admin/subscriptions/:id/extend
func (h *SubscriptionHandler) Extend(c *gin.Context) {
	id, ok := parseID(c, "id", "无效的订阅ID")
	if !ok {
		return
	}
	var req dto.ExtendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	res, err := h.subs.Extend(c.Request.Context(), id, req.Days, req.Reason)
	h.finish(c, res, err, "已延长")
}

// Refund 退款
// POST /api/v1/admin/subscriptions/:id/refund
func (h *SubscriptionHandler) Refund(c *gin.Context) {
	id, ok := parseID(c, "id", "无效的订阅ID")
	if !ok {
		return
	}
	var req dto.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	res, err := h.subs.Refund(c.Request.Context(), id, req.Type, req.Amount, req.Cancel, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	events.Drain(c.Request.Context(), h.sink, res.Events)
	response.SuccessWithMessage(c, "退款成功", dto.RefundResponse{
		Subscription: res.Subscription,
		Refunded:     res.Refunded,
		PaymentRef:   res.PaymentRef,
	})
}

// Purge 物理删除订阅
// DELETE /api/v1/admin/subscriptions/:id
func (h *SubscriptionHandler) Purge(c *gin.Context) {
	id, ok := parseID(c, "id", "无效的订阅ID")
	if !ok {
		return
	}
	if err := h.subs.Purge(id); err != nil {
		writeError(c, err)
		return
	}
	response.SuccessWithMessage(c, "已删除", nil)
}

// owned 加载订阅并校验归属，非本人且非管理员时按不存在处理
func (h *SubscriptionHandler) owned(c *gin.Context) (*model.Subscription, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return nil, false
	}
	id, ok := parseID(c, "id", "无效的订阅ID")
	if !ok {
		return nil, false
	}

	sub, err := h.subs.Get(id)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	if sub.UserID != userID && !middleware.IsAdmin(c) {
		writeError(c, service.ErrSubscriptionNotFound)
		return nil, false
	}
	return sub, true
}

// finish 投递事件并写响应。续费失败时状态已推进，事件照常投递
func (h *SubscriptionHandler) finish(c *gin.Context, res *service.Result, err error, message string) {
	if res != nil {
		events.Drain(c.Request.Context(), h.sink, res.Events)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	response.SuccessWithMessage(c, message, res.Subscription)
}
