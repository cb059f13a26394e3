package framepipe

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the pipeline-level prometheus instruments. A nil
// *Metrics disables collection; every recording method is nil-safe so
// nodes never branch on configuration.
type Metrics struct {
	FramesProcessed *prometheus.CounterVec
	FramesDropped   *prometheus.CounterVec
	FramesDelivered *prometheus.CounterVec
	QueueDepth      *prometheus.GaugeVec
	KernelDuration  *prometheus.HistogramVec
}

// NewMetrics creates the pipeline metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "framepipe",
				Subsystem: "node",
				Name:      "frames_processed_total",
				Help:      "Frames processed per node and completion status",
			},
			[]string{"node", "status"},
		),
		FramesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "framepipe",
				Subsystem: "node",
				Name:      "frames_dropped_total",
				Help:      "Frames dropped per node and reason (starvation, flush, stopped)",
			},
			[]string{"node", "reason"},
		),
		FramesDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "framepipe",
				Subsystem: "pipeline",
				Name:      "frames_delivered_total",
				Help:      "Output buffers delivered to the completion listener",
			},
			[]string{"status"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "framepipe",
				Subsystem: "node",
				Name:      "queue_depth",
				Help:      "Pending inputs queued per node",
			},
			[]string{"node"},
		),
		KernelDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "framepipe",
				Subsystem: "node",
				Name:      "kernel_duration_seconds",
				Help:      "Transform kernel execution time per node",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
			},
			[]string{"node"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.FramesProcessed,
			m.FramesDropped,
			m.FramesDelivered,
			m.QueueDepth,
			m.KernelDuration,
		)
	}

	return m
}

func (m *Metrics) frameProcessed(node string, status Status) {
	if m == nil {
		return
	}
	m.FramesProcessed.WithLabelValues(node, status.String()).Inc()
}

func (m *Metrics) frameDropped(node, reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(node, reason).Inc()
}

func (m *Metrics) frameDelivered(status Status) {
	if m == nil {
		return
	}
	m.FramesDelivered.WithLabelValues(status.String()).Inc()
}

func (m *Metrics) queueDepth(node string, depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(node).Set(float64(depth))
}

func (m *Metrics) kernelDuration(node string, d time.Duration) {
	if m == nil {
		return
	}
	m.KernelDuration.WithLabelValues(node).Observe(d.Seconds())
}
