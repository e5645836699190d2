package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 邮箱指标
	InboxesCreated prometheus.Counter
	InboxesDeleted prometheus.Counter
	InboxesExpired prometheus.Counter

	// Webhook 指标
	WebhookAccepted prometheus.Counter
	WebhookRejected *prometheus.CounterVec

	// 风控指标
	RiskVerdicts   *prometheus.CounterVec
	AutoBlocks     prometheus.Counter
	BlockedCreates prometheus.Counter

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onetimemail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "onetimemail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		InboxesCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "onetimemail_inboxes_created_total",
				Help: "Total number of inboxes created",
			},
		),

		InboxesDeleted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "onetimemail_inboxes_deleted_total",
				Help: "Total number of inboxes deleted",
			},
		),

		InboxesExpired: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "onetimemail_inboxes_expired_total",
				Help: "Total number of inboxes purged after expiry",
			},
		),

		WebhookAccepted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "onetimemail_webhook_accepted_total",
				Help: "Total number of inbound mail events accepted",
			},
		),

		WebhookRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onetimemail_webhook_rejected_total",
				Help: "Total number of inbound mail events rejected",
			},
			[]string{"reason"},
		),

		RiskVerdicts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onetimemail_risk_verdicts_total",
				Help: "Total number of risk evaluations by level",
			},
			[]string{"level"},
		),

		AutoBlocks: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "onetimemail_auto_blocks_total",
				Help: "Total number of automatic block entries created",
			},
		),

		BlockedCreates: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "onetimemail_blocked_creates_total",
				Help: "Total number of inbox creations rejected by risk engine",
			},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onetimemail_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "onetimemail_panics_total",
				Help: "Total number of recovered panics",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordWebhookRejected 记录被拒绝的入站邮件事件
func (m *Metrics) RecordWebhookRejected(reason string) {
	m.WebhookRejected.WithLabelValues(reason).Inc()
}

// RecordVerdict 记录一次风控裁决
func (m *Metrics) RecordVerdict(level string, blocked bool) {
	m.RiskVerdicts.WithLabelValues(level).Inc()
	if blocked {
		m.BlockedCreates.Inc()
	}
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// Handler 返回 Prometheus 指标处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
