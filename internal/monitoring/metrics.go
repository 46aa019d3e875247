package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"account-api/internal/models"
)

// MetricsService collects operational metrics. The ledger engine reports
// operation outcomes and version conflicts through it; the HTTP layer reports
// request latencies.
type MetricsService interface {
	ObserveOperation(kind models.OperationKind, outcome string, duration time.Duration)
	ObserveVersionConflict(kind models.OperationKind)
	RecordHTTPRequest(method, path string, statusCode int, duration time.Duration)
	IncrementEventsConsumed(outcome string)
	Handler() gin.HandlerFunc
}

type prometheusMetrics struct {
	operationsTotal     *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
	versionConflicts    *prometheus.CounterVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	eventsConsumedTotal *prometheus.CounterVec
}

func NewMetricsService() MetricsService {
	return &prometheusMetrics{
		operationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Total balance operations by kind and outcome",
		}, []string{"kind", "outcome"}),

		operationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Balance operation latency by kind",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),

		versionConflicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_version_conflicts_total",
			Help: "Optimistic concurrency conflicts by operation kind",
		}, []string{"kind"}),

		httpRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"method", "path", "status"}),

		httpRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		eventsConsumedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_events_consumed_total",
			Help: "Payment events consumed by outcome (applied, rejected, requeued)",
		}, []string{"outcome"}),
	}
}

func (m *prometheusMetrics) ObserveOperation(kind models.OperationKind, outcome string, duration time.Duration) {
	m.operationsTotal.WithLabelValues(string(kind), outcome).Inc()
	m.operationDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

func (m *prometheusMetrics) ObserveVersionConflict(kind models.OperationKind) {
	m.versionConflicts.WithLabelValues(string(kind)).Inc()
}

func (m *prometheusMetrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *prometheusMetrics) IncrementEventsConsumed(outcome string) {
	m.eventsConsumedTotal.WithLabelValues(outcome).Inc()
}

// Handler exposes the prometheus scrape endpoint.
func (m *prometheusMetrics) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// HTTPMetrics is the gin middleware recording per-request metrics. The route
// template is used as the path label to keep cardinality bounded.
func HTTPMetrics(metrics MetricsService) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		path := ctx.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(ctx.Request.Method, path, ctx.Writer.Status(), time.Since(start))
	}
}
