package parallel

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects fork-join round statistics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	rounds   *prometheus.CounterVec
	items    prometheus.Counter
	duration prometheus.Histogram
	workers  prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spellevo",
			Subsystem: "pool",
			Name:      "rounds_total",
			Help:      "Fork-join rounds by outcome.",
		}, []string{"outcome"}),
		items: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spellevo",
			Subsystem: "pool",
			Name:      "items_total",
			Help:      "Items dispatched to pool workers.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spellevo",
			Subsystem: "pool",
			Name:      "round_duration_seconds",
			Help:      "Wall time of one fork-join round.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spellevo",
			Subsystem: "pool",
			Name:      "workers",
			Help:      "Live pool workers.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.rounds, m.items, m.duration, m.workers} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeRound(items int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.rounds.WithLabelValues(outcome).Inc()
	m.items.Add(float64(items))
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) setWorkers(n int) {
	if m == nil {
		return
	}
	m.workers.Set(float64(n))
}
