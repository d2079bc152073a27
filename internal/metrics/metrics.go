// Package metrics provides Prometheus collectors for dispatch activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics defines attributes of a struct available to its methods. A nil *Metrics records nothing.
type Metrics struct {
	admissions    *prometheus.CounterVec
	promotions    prometheus.Counter
	retirements   *prometheus.CounterVec
	sweeps        prometheus.Counter
	sweepFailures prometheus.Counter
	sweepLatency  prometheus.Histogram
	waiting       *prometheus.GaugeVec
}

// InitMetrics creates the collectors and registers them with reg.
func InitMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nowserving_admissions_total",
			Help: "Admission attempts by outcome code.",
		}, []string{"outcome"}),
		promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nowserving_promotions_total",
			Help: "Waiting entries promoted into a serving slot.",
		}),
		retirements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nowserving_retirements_total",
			Help: "Retired records written, by reason.",
		}, []string{"reason"}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nowserving_sweeps_total",
			Help: "Completed sweeps over all queues.",
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nowserving_sweep_queue_failures_total",
			Help: "Queues whose expiry evaluation failed during a sweep.",
		}),
		sweepLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nowserving_sweep_duration_seconds",
			Help:    "Wall time of a sweep over all queues.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		waiting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nowserving_waiting_entries",
			Help: "Waiting entries per queue.",
		}, []string{"queue"}),
	}
	collectors := []prometheus.Collector{m.admissions, m.promotions, m.retirements, m.sweeps, m.sweepFailures, m.sweepLatency, m.waiting}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Admission counts one admission attempt; outcome is "ok" or an error code.
func (m *Metrics) Admission(outcome string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Promotion() {
	if m == nil {
		return
	}
	m.promotions.Inc()
}

func (m *Metrics) Retirement(reason string) {
	if m == nil {
		return
	}
	m.retirements.WithLabelValues(reason).Inc()
}

// Sweep records one finished sweep.
func (m *Metrics) Sweep(elapsed time.Duration, failures int) {
	if m == nil {
		return
	}
	m.sweeps.Inc()
	m.sweepFailures.Add(float64(failures))
	m.sweepLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) Waiting(queueID string, n int) {
	if m == nil {
		return
	}
	m.waiting.WithLabelValues(queueID).Set(float64(n))
}
