package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 计费引擎的 Prometheus 指标。所有方法允许 nil 接收者，未启用指标时直接跳过
type Metrics struct {
	registry *prometheus.Registry

	TransitionsTotal     *prometheus.CounterVec
	PaymentFailuresTotal *prometheus.CounterVec
	ChargeDuration       *prometheus.HistogramVec
	SweepClaimedTotal    prometheus.Counter
	IntegrityAlertsTotal prometheus.Counter
	CatalogCacheTotal    *prometheus.CounterVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New 创建并注册所有指标
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_transitions_total",
				Help: "Subscription operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		PaymentFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_payment_failures_total",
				Help: "Declined, failed or timed out payment processor calls",
			},
			[]string{"operation", "reason"},
		),
		ChargeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_processor_call_duration_seconds",
				Help:    "Payment processor call latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		SweepClaimedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_sweep_claimed_total",
				Help: "Subscriptions claimed by the renewal sweep",
			},
		),
		IntegrityAlertsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_integrity_alerts_total",
				Help: "Operator alerts raised for charges without a committed ledger entry",
			},
		),
		CatalogCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_catalog_cache_total",
				Help: "Plan catalog cache lookups",
			},
			[]string{"result"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	registry.MustRegister(
		m.TransitionsTotal,
		m.PaymentFailuresTotal,
		m.ChargeDuration,
		m.SweepClaimedTotal,
		m.IntegrityAlertsTotal,
		m.CatalogCacheTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// Transition 记录一次订阅操作的结果
func (m *Metrics) Transition(operation, outcome string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(operation, outcome).Inc()
}

// PaymentFailure 记录支付失败
func (m *Metrics) PaymentFailure(operation, reason string) {
	if m == nil {
		return
	}
	m.PaymentFailuresTotal.WithLabelValues(operation, reason).Inc()
}

// ObserveCall 记录支付方调用耗时
func (m *Metrics) ObserveCall(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.ChargeDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) SweepClaimed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SweepClaimedTotal.Add(float64(n))
}

func (m *Metrics) IntegrityAlert() {
	if m == nil {
		return
	}
	m.IntegrityAlertsTotal.Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CatalogCacheTotal.WithLabelValues(result).Inc()
}

// GinMiddleware 记录 HTTP 请求指标，path 使用路由模板避免高基数
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler /metrics 端点
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
