// Package perfmetrics records what background transfers did: Prometheus
// counters for live monitoring and an optional CSV row per finished job.
package perfmetrics

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ftpshell/jobs"
)

const namespace = "ftpshell"

// Metrics implements jobs.Recorder.
type Metrics struct {
	registry *prometheus.Registry
	csvPath  string
	logger   *zap.Logger

	submitted *prometheus.CounterVec
	finished  *prometheus.CounterVec
	bytes     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	active    prometheus.Gauge

	csvMu sync.Mutex
}

var _ jobs.Recorder = (*Metrics)(nil)

// New registers the transfer metrics on a fresh registry. csvPath may be
// empty to skip the CSV log.
func New(csvPath string, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		csvPath:  csvPath,
		logger:   logger,
	}

	m.submitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Background transfers submitted",
		},
		[]string{"kind"},
	)
	m.finished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Background transfers reaped, by result",
		},
		[]string{"kind", "result"},
	)
	m.bytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_bytes_total",
			Help:      "Bytes moved over data connections by background transfers",
		},
		[]string{"kind"},
	)
	m.duration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_duration_seconds",
			Help:      "Wall time of background transfers",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"kind"},
	)
	m.active = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jobs_active",
		Help:      "Background transfers not yet reaped",
	})

	m.registry.MustRegister(m.submitted, m.finished, m.bytes, m.duration, m.active)
	return m
}

// Registry exposes the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// JobSubmitted counts a new job.
func (m *Metrics) JobSubmitted(job jobs.Job) {
	m.submitted.WithLabelValues(job.Kind.String()).Inc()
	m.active.Inc()
}

// JobFinished counts a reaped job and appends it to the CSV log.
func (m *Metrics) JobFinished(o jobs.Outcome) {
	kind := o.Job.Kind.String()
	result := "success"
	if !o.Success() {
		result = "failure"
	}
	m.finished.WithLabelValues(kind, result).Inc()
	m.bytes.WithLabelValues(kind).Add(float64(o.Result.Bytes))
	m.duration.WithLabelValues(kind).Observe(o.Result.Elapsed.Seconds())
	m.active.Dec()

	if m.csvPath == "" {
		return
	}
	rec := Record{
		Timestamp:      o.Finished,
		JobID:          o.Job.ID,
		Kind:           kind,
		FileName:       filepath.Base(o.Job.RemotePath),
		Bytes:          o.Result.Bytes,
		Resumed:        o.Result.Resumed(),
		ThroughputMBps: o.Result.Throughput() / (1024 * 1024),
		TimeSec:        o.Result.Elapsed.Seconds(),
		Exit:           o.ExitStatus,
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}

	m.csvMu.Lock()
	defer m.csvMu.Unlock()
	if err := LogPerformanceToCSV(m.csvPath, rec); err != nil {
		m.logger.Warn("performance log", zap.String("path", m.csvPath), zap.Error(err))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	m.logger.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
