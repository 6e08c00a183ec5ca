package contents

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector is a MetricsCollector exporting Prometheus metrics.
type PrometheusCollector struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	RotationsTotal    prometheus.Counter
	JobsTotal         *prometheus.CounterVec
	JobDuration       *prometheus.HistogramVec
	JobEntities       *prometheus.HistogramVec
	QueueDepth        *prometheus.GaugeVec
	Segments          prometheus.Gauge
}

var _ MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates the collectors and registers them on reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &PrometheusCollector{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contents_operations_total",
				Help: "Total index operations by operation and status.",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contents_operation_duration_seconds",
				Help:    "Index operation latency in seconds.",
				Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
			[]string{"operation"},
		),
		RotationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "contents_rotations_total",
				Help: "Total number of open segment rotations.",
			},
		),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contents_jobs_total",
				Help: "Total background jobs by kind (commit, merge) and status.",
			},
			[]string{"kind", "status"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contents_job_duration_seconds",
				Help:    "Background job duration in seconds.",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),
		JobEntities: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contents_job_entities",
				Help:    "Entities written per background job.",
				Buckets: prometheus.ExponentialBuckets(16, 4, 10),
			},
			[]string{"kind"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "contents_queue_depth",
				Help: "Depth of background queues.",
			},
			[]string{"queue"},
		),
		Segments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "contents_segments",
				Help: "Number of segments in the index.",
			},
		),
	}

	for _, c := range []prometheus.Collector{
		p.OperationsTotal,
		p.OperationDuration,
		p.RotationsTotal,
		p.JobsTotal,
		p.JobDuration,
		p.JobEntities,
		p.QueueDepth,
		p.Segments,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (p *PrometheusCollector) observe(op string, duration time.Duration, err error) {
	p.OperationsTotal.WithLabelValues(op, status(err)).Inc()
	p.OperationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordSetEntity implements MetricsCollector.
func (p *PrometheusCollector) RecordSetEntity(duration time.Duration, err error) {
	p.observe("set", duration, err)
}

// RecordDelete implements MetricsCollector.
func (p *PrometheusCollector) RecordDelete(duration time.Duration, err error) {
	p.observe("delete", duration, err)
}

// RecordUpdate implements MetricsCollector.
func (p *PrometheusCollector) RecordUpdate(duration time.Duration, err error) {
	p.observe("update", duration, err)
}

// RecordLookup implements MetricsCollector.
func (p *PrometheusCollector) RecordLookup(duration time.Duration, err error) {
	p.observe("lookup", duration, err)
}

// RecordRotate implements MetricsCollector.
func (p *PrometheusCollector) RecordRotate(int) {
	p.RotationsTotal.Inc()
}

func (p *PrometheusCollector) job(kind string, duration time.Duration, entities int, err error) {
	p.JobsTotal.WithLabelValues(kind, status(err)).Inc()
	p.JobDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if err == nil {
		p.JobEntities.WithLabelValues(kind).Observe(float64(entities))
	}
}

// RecordCommit implements MetricsCollector.
func (p *PrometheusCollector) RecordCommit(duration time.Duration, entities int, err error) {
	p.job("commit", duration, entities, err)
}

// RecordMerge implements MetricsCollector.
func (p *PrometheusCollector) RecordMerge(duration time.Duration, _, entities int, err error) {
	p.job("merge", duration, entities, err)
}

// RecordQueueDepth implements MetricsCollector.
func (p *PrometheusCollector) RecordQueueDepth(name string, depth int) {
	p.QueueDepth.WithLabelValues(name).Set(float64(depth))
}

// RecordSegments implements MetricsCollector.
func (p *PrometheusCollector) RecordSegments(n int) {
	p.Segments.Set(float64(n))
}
