// Package metrics держит счётчики сервиса в собственном prometheus-реестре.
// Все методы допускают nil-получатель: метрики тогда просто не собираются.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deviceservice"

// Исходы тика (значения метки outcome).
const (
	OutcomeOK             = "ok"
	OutcomeIngestion      = "ingestion"
	OutcomeTransformation = "transformation"
	OutcomeAuth           = "auth"
	OutcomeUpload         = "upload"
	OutcomeBusy           = "busy"
)

type Metrics struct {
	registry *prometheus.Registry

	ticks            *prometheus.CounterVec // outcome
	uploadAttempts   *prometheus.CounterVec // result: ok/error
	authRequests     *prometheus.CounterVec // result: ok/error
	readingsUploaded prometheus.Counter
	rowsSkipped      prometheus.Counter
	running          prometheus.Gauge
	tickDuration     prometheus.Histogram
}

// New создаёт метрики и регистрирует их вместе с go/process-коллекторами.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Pipeline ticks by outcome",
		}, []string{"outcome"}),
		uploadAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_attempts_total",
			Help:      "Upload HTTP attempts by result",
		}, []string{"result"}),
		authRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_requests_total",
			Help:      "Login requests by result",
		}, []string{"result"}),
		readingsUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_uploaded_total",
			Help:      "Readings accepted by the remote endpoint",
		}),
		rowsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_rows_skipped_total",
			Help:      "Source rows skipped because of a wrong field count",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_running",
			Help:      "1 while the periodic pipeline is armed",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of a pipeline tick",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
	m.registry.MustRegister(
		m.ticks, m.uploadAttempts, m.authRequests,
		m.readingsUploaded, m.rowsSkipped, m.running, m.tickDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	// Метки заранее, чтобы нули были видны в /metrics до первого тика.
	for _, o := range []string{OutcomeOK, OutcomeIngestion, OutcomeTransformation, OutcomeAuth, OutcomeUpload, OutcomeBusy} {
		m.ticks.WithLabelValues(o)
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler отдаёт метрики в формате prometheus.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Tick(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(outcome).Inc()
	if outcome != OutcomeBusy {
		m.tickDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) UploadAttempt(ok bool) {
	if m == nil {
		return
	}
	m.uploadAttempts.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) AuthRequest(ok bool) {
	if m == nil {
		return
	}
	m.authRequests.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) ReadingsUploaded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.readingsUploaded.Add(float64(n))
}

func (m *Metrics) RowsSkipped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsSkipped.Add(float64(n))
}

func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.running.Set(1)
	} else {
		m.running.Set(0)
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
