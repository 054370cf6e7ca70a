package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/pricing_server/internal/api/middleware"
	"github.com/qs3c/pricing_server/internal/model/dto"
	"github.com/qs3c/pricing_server/internal/pkg/response"
	"github.com/qs3c/pricing_server/internal/service"
)

type CouponHandler struct {
	coupons *service.CouponService
}

func NewCouponHandler(coupons *service.CouponService) *CouponHandler {
	return &CouponHandler{
		coupons: coupons,
	}
}

// Validate 校验优惠券并展示折扣，不核销
// POST /api/v1/coupons/validate
func (h *CouponHandler) Validate(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.ValidateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.coupons.Validate(c.Request.Context(), userID, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, resp)
}

// Create 创建优惠券
// POST /api/v1/admin/coupons
func (h *CouponHandler) Create(c *gin.Context) {
	var req dto.CreateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	coupon, err := h.coupons.CreateCoupon(&req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.SuccessWithMessage(c, "创建成功", coupon)
}

// List 优惠券列表
// GET /api/v1/admin/coupons
func (h *CouponHandler) List(c *gin.Context) {
	var req dto.CouponListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	coupons, total, err := h.coupons.ListCoupons(req.Page, req.PageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.SuccessPage(c, total, req.Page, req.PageSize, coupons)
}

// Deactivate 停用优惠券
// DELETE /api/v1/admin/coupons/:id
func (h *CouponHandler) Deactivate(c *gin.Context) {
	id, ok := parseID(c, "id", "无效的优惠券ID")
	if !ok {
		return
	}
	if err := h.coupons.DeactivateCoupon(id); err != nil {
		writeError(c, err)
		return
	}
	response.SuccessWithMessage(c, "已停用", nil)
}
