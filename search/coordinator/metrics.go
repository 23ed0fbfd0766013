package coordinator

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 协调节点合并的指标
type Metrics struct {
	reduceTotal    *prometheus.CounterVec
	reduceDuration *prometheus.HistogramVec
	payloadBytes   prometheus.Histogram
	decodeFailures prometheus.Counter
}

// NewMetrics 创建并注册指标，同名指标已注册时复用已有的收集器
func NewMetrics(name string, registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		reduceTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: name + "_reduce_total",
				Help: "Total number of coordinator reduces",
			},
			[]string{"status"},
		),
		reduceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_reduce_duration_seconds",
				Help:    "Duration of coordinator reduces in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"status"},
		),
		payloadBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    name + "_shard_payload_bytes",
				Help:    "Size of shard aggregation payloads",
				Buckets: prometheus.ExponentialBuckets(256, 4, 8),
			},
		),
		decodeFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: name + "_decode_failures_total",
				Help: "Total number of shard payloads that failed to decode",
			},
		),
	}

	var err error
	if m.reduceTotal, err = register(registerer, m.reduceTotal); err != nil {
		return nil, err
	}
	if m.reduceDuration, err = register(registerer, m.reduceDuration); err != nil {
		return nil, err
	}
	if m.payloadBytes, err = register(registerer, m.payloadBytes); err != nil {
		return nil, err
	}
	if m.decodeFailures, err = register(registerer, m.decodeFailures); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](registerer prometheus.Registerer, c C) (C, error) {
	err := registerer.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, errors.Wrap(err, "register metric failed")
}

func (m *Metrics) observeReduce(status string, seconds float64) {
	if m == nil {
		return
	}
	m.reduceTotal.WithLabelValues(status).Inc()
	m.reduceDuration.WithLabelValues(status).Observe(seconds)
}

func (m *Metrics) observePayload(n int) {
	if m == nil {
		return
	}
	m.payloadBytes.Observe(float64(n))
}

func (m *Metrics) decodeFailed() {
	if m == nil {
		return
	}
	m.decodeFailures.Inc()
}
