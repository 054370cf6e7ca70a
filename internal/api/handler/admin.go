package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/pricing_server/internal/pkg/response"
	"github.com/qs3c/pricing_server/internal/service"
)

type AdminHandler struct {
	scheduler  *service.BillingScheduler
	reconciler *service.ReconcileService
}

func NewAdminHandler(scheduler *service.BillingScheduler, reconciler *service.ReconcileService) *AdminHandler {
	return &AdminHandler{
		scheduler:  scheduler,
		reconciler: reconciler,
	}
}

// Sweep 立即执行一轮到期扫描
// POST /api/v1/admin/billing/sweep
func (h *AdminHandler) Sweep(c *gin.Context) {
	resp, err := h.scheduler.Sweep(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, resp)
}

// Reconcile 立即执行一次对账
// POST /api/v1/admin/billing/reconcile?dry_run=true
func (h *AdminHandler) Reconcile(c *gin.Context) {
	dryRun, _ := strconv.ParseBool(c.DefaultQuery("dry_run", "false"))

	report, err := h.reconciler.Run(c.Request.Context(), dryRun)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, report)
}
