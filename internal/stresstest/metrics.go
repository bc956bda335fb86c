package stresstest

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/studiowebux/wsprobe/internal/types"
)

const metricsNamespace = "wsprobe"

// Metrics exposes load test progress as Prometheus collectors
type Metrics struct {
	Iterations     *prometheus.CounterVec
	CloseCodes     *prometheus.CounterVec
	IterationTime  prometheus.Histogram
	ConnectTime    prometheus.Histogram
	ActiveWorkers  prometheus.Gauge
	SentBytes      prometheus.Counter
	ReceivedBytes  prometheus.Counter
	ReusedSessions prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Iterations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "iterations_total",
				Help:      "Sampler iterations by outcome",
			},
			[]string{"outcome"},
		),
		CloseCodes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "abnormal_closes_total",
				Help:      "Connections closed with a non-normal close code, by code",
			},
			[]string{"code"},
		),
		IterationTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "iteration_duration_seconds",
			Help:      "Sampler iteration duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		ConnectTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "connect_duration_seconds",
			Help:      "Time to open or reuse a connection in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_workers",
			Help:      "Workers currently running an iteration",
		}),
		SentBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sent_bytes_total",
			Help:      "Framed payload bytes sent",
		}),
		ReceivedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "received_bytes_total",
			Help:      "Response bytes collected from the backlog",
		}),
		ReusedSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reused_connections_total",
			Help:      "Iterations that reused a streaming connection",
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Iterations, m.CloseCodes, m.IterationTime, m.ConnectTime,
		m.ActiveWorkers, m.SentBytes, m.ReceivedBytes, m.ReusedSessions,
	}
}

// Observe records one sampler result
func (m *Metrics) Observe(res *types.SampleResult, outcome string) {
	if m == nil {
		return
	}
	m.Iterations.WithLabelValues(outcome).Inc()
	if res.CloseCode != 0 {
		m.CloseCodes.WithLabelValues(strconv.Itoa(res.CloseCode)).Inc()
	}
	m.IterationTime.Observe(float64(res.DurationMs) / 1000)
	m.ConnectTime.Observe(float64(res.ConnectMs) / 1000)
	m.SentBytes.Add(float64(res.SentSize))
	m.ReceivedBytes.Add(float64(res.ReceivedSize))
	if res.Reused {
		m.ReusedSessions.Inc()
	}
}

func (m *Metrics) workerBusy(delta float64) {
	if m == nil {
		return
	}
	m.ActiveWorkers.Add(delta)
}
