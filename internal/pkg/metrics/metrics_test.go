package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Transition("renew", "ok")
	m.Transition("renew", "ok")
	m.Transition("renew", "payment_failed")
	m.PaymentFailure("renew", "declined")
	m.SweepClaimed(3)
	m.SweepClaimed(0)
	m.IntegrityAlert()
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.ObserveCall("charge", time.Now())

	assert.Equal(t, float64(2), testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("renew", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("renew", "payment_failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PaymentFailuresTotal.WithLabelValues("renew", "declined")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.SweepClaimedTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.IntegrityAlertsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CatalogCacheTotal.WithLabelValues("hit")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.Transition("pause", "ok")
		m.PaymentFailure("renew", "timeout")
		m.SweepClaimed(1)
		m.IntegrityAlert()
		m.CacheLookup(true)
		m.ObserveCall("charge", time.Now())
	})
}

func TestMetrics_GinMiddlewareAndHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())

	router := gin.New()
	router.Use(m.GinMiddleware())
	router.GET("/api/v1/plans/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/plans/3", nil))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/plans/:id", "200")))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "billing_http_requests_total")
}
