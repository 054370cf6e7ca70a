package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/pricing_server/config"
	"github.com/qs3c/pricing_server/internal/api/middleware"
	"github.com/qs3c/pricing_server/internal/pkg/currency"
	"github.com/qs3c/pricing_server/internal/pkg/jwt"
	"github.com/qs3c/pricing_server/internal/pkg/payment"
	"github.com/qs3c/pricing_server/internal/pkg/response"
	"github.com/qs3c/pricing_server/internal/repository"
	"github.com/qs3c/pricing_server/internal/service"
	"github.com/qs3c/pricing_server/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testContext struct {
	DB         *gorm.DB
	Config     *config.Config
	Processor  *payment.Sandbox
	Sink       *testutil.RecordingSink
	Catalog    *service.CatalogService
	Coupons    *service.CouponService
	Subs       *service.SubscriptionService
	Scheduler  *service.BillingScheduler
	Reconciler *service.ReconcileService
}

func setupServices(t *testing.T) (*testContext, func()) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	cfg := &config.Config{}
	cfg.JWT.Secret = "test-secret-key-for-handlers"
	cfg.ApplyDefaults()

	converter, err := currency.NewStaticConverter(&cfg.Currency)
	require.NoError(t, err)

	subRepo := repository.NewSubscriptionRepository(db)
	resRepo := repository.NewReservationRepository(db)
	processor := payment.NewSandbox()
	alerter := &testutil.FakeAlerter{}
	sink := &testutil.RecordingSink{}

	catalog := service.NewCatalogService(db, repository.NewPlanRepository(db), converter.Precision(), nil, time.Minute)
	coupons := service.NewCouponService(repository.NewCouponRepository(db), catalog, converter, converter.Precision(), "USD")
	subs := service.NewSubscriptionService(db, subRepo, repository.NewLedgerRepository(db), resRepo,
		catalog, coupons, processor, converter, alerter, nil, cfg)

	ctx := &testContext{
		DB:         db,
		Config:     cfg,
		Processor:  processor,
		Sink:       sink,
		Catalog:    catalog,
		Coupons:    coupons,
		Subs:       subs,
		Scheduler:  service.NewBillingScheduler(subRepo, subs, sink, nil, cfg),
		Reconciler: service.NewReconcileService(db, subRepo, resRepo, coupons, processor, alerter, nil, nil, cfg),
	}

	cleanup := func() {
		testutil.CleanupTestDB(t, db)
	}

	return ctx, cleanup
}

func mockAuth(userID int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Set(middleware.RoleKey, jwt.RoleUser)
		c.Next()
	}
}

func mockAdmin(userID int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Set(middleware.RoleKey, jwt.RoleAdmin)
		c.Next()
	}
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	return resp
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		buf = bytes.NewBuffer(jsonBytes)
	} else {
		buf = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func dataMap(t *testing.T, resp response.Response) map[string]interface{} {
	t.Helper()
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data is %T", resp.Data)
	return data
}

func assertCode(t *testing.T, w *httptest.ResponseRecorder, code int) response.Response {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code)
	resp := parseResponse(t, w)
	require.Equal(t, code, resp.Code, "message: %s", resp.Message)
	return resp
}
