package evo

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports trainer progress. A nil *Metrics records nothing.
type Metrics struct {
	generations prometheus.Counter
	scored      prometheus.Counter
	best        prometheus.Gauge
	mean        prometheus.Gauge
	duration    prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		generations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spellevo",
			Subsystem: "trainer",
			Name:      "generations_total",
			Help:      "Completed generations.",
		}),
		scored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spellevo",
			Subsystem: "trainer",
			Name:      "networks_scored_total",
			Help:      "Networks scored against the training set.",
		}),
		best: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spellevo",
			Subsystem: "trainer",
			Name:      "best_fitness",
			Help:      "Highest raw score in the current population.",
		}),
		mean: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spellevo",
			Subsystem: "trainer",
			Name:      "mean_fitness",
			Help:      "Mean raw score of the current population.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spellevo",
			Subsystem: "trainer",
			Name:      "generation_duration_seconds",
			Help:      "Wall time of one generation.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.generations, m.scored, m.best, m.mean, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeScored() {
	if m == nil {
		return
	}
	m.scored.Inc()
}

func (m *Metrics) observeGeneration(diag GenerationDiagnostics, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.generations.Inc()
	m.best.Set(diag.BestFitness)
	m.mean.Set(diag.MeanFitness)
	m.duration.Observe(elapsed.Seconds())
}
