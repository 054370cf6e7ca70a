package handler

import (
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/pricing_server/internal/model"
	"github.com/qs3c/pricing_server/internal/pkg/events"
	"github.com/qs3c/pricing_server/internal/pkg/response"
	"github.com/qs3c/pricing_server/internal/testutil"
)

func adminRouter(h *AdminHandler) *gin.Engine {
	router := gin.New()
	admin := router.Group("/admin", mockAdmin(1))
	admin.POST("/billing/sweep", h.Sweep)
	admin.POST("/billing/reconcile", h.Reconcile)
	return router
}

func TestAdminHandler_Sweep(t *testing.T) {
	ctx, cleanup := setupServices(t)
	defer cleanup()

	plan := testutil.TestPricedPlan(t, ctx.DB, 1000)
	now := time.Now().UTC()
	sub := testutil.TestSubscription(t, ctx.DB, 10, plan.ID,
		testutil.WithPrice(1000, "USD"),
		testutil.WithCycle(now.AddDate(0, -1, -1), now.Add(-time.Hour)))
	testutil.TestSubscription(t, ctx.DB, 11, plan.ID)

	router := adminRouter(NewAdminHandler(ctx.Scheduler, ctx.Reconciler))

	w := doJSON(router, "POST", "/admin/billing/sweep", nil)
	data := dataMap(t, assertCode(t, w, response.CodeSuccess))
	assert.Equal(t, float64(1), data["claimed"])
	assert.Equal(t, float64(1), data["processed"])
	assert.Equal(t, []string{events.TypeRenewed}, ctx.Sink.Types())

	renewed, err := ctx.Subs.Get(sub.ID)
	require.NoError(t, err)
	assert.True(t, renewed.EndsAt.After(now))
	assert.Empty(t, renewed.LockToken)

	// 已续费的订阅不会被再次认领
	w = doJSON(router, "POST", "/admin/billing/sweep", nil)
	data = dataMap(t, assertCode(t, w, response.CodeSuccess))
	assert.Equal(t, float64(0), data["claimed"])
}

func TestAdminHandler_Reconcile(t *testing.T) {
	ctx, cleanup := setupServices(t)
	defer cleanup()

	old := time.Now().UTC().Add(-time.Hour)
	res := &model.ChargeReservation{
		Token:     "stale-token",
		UserID:    10,
		Operation: "create",
		Amount:    1000,
		Currency:  "USD",
		Status:    model.ReservationReserved,
		CreatedAt: old,
		UpdatedAt: old,
	}
	require.NoError(t, ctx.DB.Create(res).Error)

	router := adminRouter(NewAdminHandler(ctx.Scheduler, ctx.Reconciler))

	w := doJSON(router, "POST", "/admin/billing/reconcile?dry_run=true", nil)
	data := dataMap(t, assertCode(t, w, response.CodeSuccess))
	assert.Equal(t, true, data["dry_run"])
	assert.Equal(t, float64(1), data["scanned"])
	assert.Equal(t, float64(1), data["released"])

	var got model.ChargeReservation
	require.NoError(t, ctx.DB.Where("token = ?", res.Token).First(&got).Error)
	assert.Equal(t, model.ReservationReserved, got.Status)

	w = doJSON(router, "POST", "/admin/billing/reconcile", nil)
	data = dataMap(t, assertCode(t, w, response.CodeSuccess))
	assert.Equal(t, false, data["dry_run"])
	assert.Equal(t, float64(1), data["released"])

	require.NoError(t, ctx.DB.Where("token = ?", res.Token).First(&got).Error)
	assert.Equal(t, model.ReservationResolved, got.Status)
}
