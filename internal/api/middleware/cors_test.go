package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/qs3c/pricing_server/config"
)

func billingCORS() config.CORSConfig {
	return config.CORSConfig{
		AllowedOrigins: []string{"http://localhost:3000", "https://billing.example.com"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}
}

// billingRouter 挂载一个退款路由，用于检查跨域头
func billingRouter(cfg config.CORSConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORS(cfg))
	router.POST("/api/v1/subscriptions/:id/refund", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"code": 0})
	})
	return router
}

func TestCORS_RefundFromDashboard(t *testing.T) {
	router := billingRouter(billingCORS())

	req := httptest.NewRequest("POST", "/api/v1/subscriptions/42/refund", nil)
	req.Header.Set("Origin", "https://billing.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://billing.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))
	assert.Equal(t, "GET, POST, PUT, DELETE, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Authorization, Content-Type", w.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORS_RefundPreflight(t *testing.T) {
	router := billingRouter(billingCORS())

	req := httptest.NewRequest("OPTIONS", "/api/v1/subscriptions/42/refund", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
	assert.Empty(t, w.Body.String())
}

func TestCORS_UnknownSiteGetsNoOrigin(t *testing.T) {
	router := billingRouter(billingCORS())

	for _, origin := range []string{"https://evil.example.net", ""} {
		req := httptest.NewRequest("POST", "/api/v1/subscriptions/42/refund", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code, origin)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"), origin)
		assert.Empty(t, w.Header().Get("Vary"), origin)
	}
}

func TestCORS_NoOriginsConfigured(t *testing.T) {
	cfg := billingCORS()
	cfg.AllowedOrigins = nil
	router := billingRouter(cfg)

	req := httptest.NewRequest("OPTIONS", "/api/v1/subscriptions/42/refund", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestOriginAllowed(t *testing.T) {
	cfg := billingCORS()
	open := config.CORSConfig{AllowedOrigins: []string{"*"}}

	tests := []struct {
		name   string
		cfg    config.CORSConfig
		origin string
		want   bool
	}{
		{"dashboard", cfg, "https://billing.example.com", true},
		{"local frontend", cfg, "http://localhost:3000", true},
		{"port differs", cfg, "http://localhost:3001", false},
		{"scheme differs", cfg, "http://billing.example.com", false},
		{"empty origin", cfg, "", false},
		{"wildcard", open, "https://partner.example.org", true},
		{"wildcard empty origin", open, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OriginAllowed(tt.cfg, tt.origin))
		})
	}
}
