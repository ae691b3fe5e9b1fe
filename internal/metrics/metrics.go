package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the service registry. It implements valuation.Observer.
type Metrics struct {
	registry *prometheus.Registry

	ValuationsTotal  *prometheus.CounterVec
	Confidence       prometheus.Histogram
	ComparableCount  prometheus.Histogram
	HistoryFaults    prometheus.Counter
	RequestDuration  *prometheus.HistogramVec
	BackupsCompleted *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ValuationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "appraisal_valuations_total",
			Help: "Valuation requests by outcome",
		}, []string{"status"}),
		Confidence: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "appraisal_valuation_confidence",
			Help:    "Confidence score of computed valuations",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		ComparableCount: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "appraisal_valuation_comparables",
			Help:    "Number of comparables per computed valuation",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
		}),
		HistoryFaults: factory.NewCounter(prometheus.CounterOpts{
			Name: "appraisal_history_faults_total",
			Help: "Valuation history entries that could not be stored",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "appraisal_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route", "status"}),
		BackupsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "appraisal_backups_total",
			Help: "Database backups by outcome",
		}, []string{"status"}),
	}
}

func (m *Metrics) ValuationComputed(comparables int, confidence float64) {
	m.ValuationsTotal.WithLabelValues("computed").Inc()
	m.ComparableCount.Observe(float64(comparables))
	m.Confidence.Observe(confidence)
}

// ValuationRejected counts a refused valuation under its reason label.
func (m *Metrics) ValuationRejected(reason string) {
	m.ValuationsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) HistoryFault() {
	m.HistoryFaults.Inc()
}

func (m *Metrics) BackupFinished(err error) {
	if err != nil {
		m.BackupsCompleted.WithLabelValues("failed").Inc()
		return
	}
	m.BackupsCompleted.WithLabelValues("ok").Inc()
}

// Middleware records the duration of each request under its route pattern.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
