package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the proctor service collectors on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	RequestCounter  *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	Violations     *prometheus.CounterVec
	AutoSubmits    *prometheus.CounterVec
	Completed      *prometheus.CounterVec
	ActiveAttempts prometheus.Gauge
	Evictions      prometheus.Counter
	QueueFlushes   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"method", "endpoint"},
		),
		Violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proctor_violations_total",
				Help: "Proctoring violations recorded, by type",
			},
			[]string{"type"},
		),
		AutoSubmits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proctor_auto_submits_total",
				Help: "Attempts completed without a manual submit, by cause",
			},
			[]string{"cause"},
		),
		Completed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proctor_attempts_completed_total",
				Help: "Completed attempts, by attempt status and pass outcome",
			},
			[]string{"status", "passed"},
		),
		ActiveAttempts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proctor_active_attempts",
			Help: "Attempt controllers currently held in memory",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proctor_attempt_evictions_total",
			Help: "Idle attempt controllers released by the sweeper",
		}),
		QueueFlushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proctor_archive_flushes_total",
				Help: "Archive worker batch flushes, by queue and outcome",
			},
			[]string{"queue", "outcome"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestCounter,
		m.RequestDuration,
		m.Violations,
		m.AutoSubmits,
		m.Completed,
		m.ActiveAttempts,
		m.Evictions,
		m.QueueFlushes,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.RequestCounter.WithLabelValues(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
		m.RequestDuration.WithLabelValues(c.Request.Method, endpoint).
			Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
