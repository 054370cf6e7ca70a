package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/pricing_server/internal/model/dto"
	"github.com/qs3c/pricing_server/internal/pkg/response"
	"github.com/qs3c/pricing_server/internal/service"
)

type PlanHandler struct {
	catalog *service.CatalogService
}

func NewPlanHandler(catalog *service.CatalogService) *PlanHandler {
	return &PlanHandler{
		catalog: catalog,
	}
}

// List 上架套餐列表
// GET /api/v1/plans
func (h *PlanHandler) List(c *gin.Context) {
	items, err := h.catalog.ActivePlanItems()
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, items)
}

// Get 套餐详情
// GET /api/v1/plans/:id
func (h *PlanHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id", "无效的套餐ID")
	if !ok {
		return
	}
	item, err := h.catalog.PlanItem(id, false)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, item)
}

// AdminList 管理端套餐列表，包含草稿和已下架套餐以及历史价格
// GET /api/v1/admin/plans?status=
func (h *PlanHandler) AdminList(c *gin.Context) {
	items, err := h.catalog.ListPlans(c.Query("status"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, items)
}

// Create 创建草稿套餐
// POST /api/v1/admin/plans
func (h *PlanHandler) Create(c *gin.Context) {
	var req dto.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	plan, err := h.catalog.CreatePlan(&req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.SuccessWithMessage(c, "创建成功", plan)
}

// Update 更新套餐
// PUT /api/v1/admin/plans/:id
func (h *PlanHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id", "无效的套餐ID")
	if !ok {
		return
	}
	var req dto.UpdatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	plan, err := h.catalog.UpdatePlan(id, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.SuccessWithMessage(c, "更新成功", plan)
}

// AddPrice 新增价格
// POST /api/v1/admin/plans/:id/prices
func (h *PlanHandler) AddPrice(c *gin.Context) {
	id, ok := parseID(c, "id", "无效的套餐ID")
	if !ok {
		return
	}
	var req dto.PriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	price, err := h.catalog.AddPrice(id, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, price)
}

// ReplacePrice 发布新版本价格
// PUT /api/v1/admin/plans/:id/prices
func (h *PlanHandler) ReplacePrice(c *gin.Context) {
	id, ok := parseID(c, "id", "无效的套餐ID")
	if !ok {
		return
	}
	var req dto.PriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	price, err := h.catalog.ReplacePrice(id, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, price)
}

// RetirePrice 退役价格
// DELETE /api/v1/admin/plans/:id/prices/:priceId
func (h *PlanHandler) RetirePrice(c *gin.Context) {
	id, ok := parseID(c, "id", "无效的套餐ID")
	if !ok {
		return
	}
	priceID, ok := parseID(c, "priceId", "无效的价格ID")
	if !ok {
		return
	}

	if err := h.catalog.RetirePrice(id, priceID); err != nil {
		writeError(c, err)
		return
	}
	response.SuccessWithMessage(c, "价格已退役", nil)
}

// Activate 上架
// POST /api/v1/admin/plans/:id/activate
func (h *PlanHandler) Activate(c *gin.Context) {
	id, ok := parseID(c, "id", "无效的套餐ID")
	if !ok {
		return
	}
	if err := h.catalog.ActivatePlan(id); err != nil {
		writeError(c, err)
		return
	}
	response.SuccessWithMessage(c, "已上架", nil)
}

// Deprecate 下架
// POST /api/v1/admin/plans/:id/deprecate
func (h *PlanHandler) Deprecate(c *gin.Context) {
	id, ok := parseID(c, "id", "无效的套餐ID")
	if !ok {
		return
	}
	if err := h.catalog.DeprecatePlan(id); err != nil {
		writeError(c, err)
		return
	}
	response.SuccessWithMessage(c, "已下架", nil)
}

// GetDefault 默认套餐
// GET /api/v1/plans/default
func (h *PlanHandler) GetDefault(c *gin.Context) {
	plan, err := h.catalog.GetDefaultPlan()
	if err != nil {
		writeError(c, err)
		return
	}
	if plan == nil {
		response.Success(c, nil)
		return
	}
	item, err := h.catalog.PlanItem(plan.ID, false)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, item)
}

// SetDefault 设置或清除默认套餐
// PUT /api/v1/admin/plans/default
func (h *PlanHandler) SetDefault(c *gin.Context) {
	var req dto.DefaultPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}
	if err := h.catalog.SetDefaultPlan(req.PlanID); err != nil {
		writeError(c, err)
		return
	}
	response.SuccessWithMessage(c, "设置成功", nil)
}

func parseID(c *gin.Context, param, message string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, message)
		return 0, false
	}
	return id, true
}
