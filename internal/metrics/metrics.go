package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "iranfinance"

// Metrics holds the bot's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	dispatchTicks       prometheus.Counter
	dispatchTickSeconds prometheus.Histogram
	deliveries          *prometheus.CounterVec
	sourceFetch         *prometheus.CounterVec
	selectionCommits    *prometheus.CounterVec
	population          *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		dispatchTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_ticks_total",
			Help:      "Dispatcher ticks run.",
		}),
		dispatchTickSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_tick_seconds",
			Help:      "Wall time of one dispatcher tick.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Digest deliveries by outcome.",
		}, []string{"outcome"}),
		sourceFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetch_total",
			Help:      "Price source fetches by status.",
		}, []string{"status"}),
		selectionCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selection_commits_total",
			Help:      "Selection commits by status.",
		}, []string{"status"}),
		population: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "population",
			Help:      "Current catalogue items, subscribers, active subscribers and open selection sessions.",
		}, []string{"kind"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.dispatchTicks,
		m.dispatchTickSeconds,
		m.deliveries,
		m.sourceFetch,
		m.selectionCommits,
		m.population,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchTicks.Inc()
	m.dispatchTickSeconds.Observe(d.Seconds())
}

func (m *Metrics) Delivery(outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SourceFetch(err error) {
	if m == nil {
		return
	}
	m.sourceFetch.WithLabelValues(status(err)).Inc()
}

func (m *Metrics) Commit(err error) {
	if m == nil {
		return
	}
	m.selectionCommits.WithLabelValues(status(err)).Inc()
}

// Population records the sizes reported by the store plus open sessions.
func (m *Metrics) Population(items, subscribers, active, sessions int) {
	if m == nil {
		return
	}
	m.population.WithLabelValues("items").Set(float64(items))
	m.population.WithLabelValues("subscribers").Set(float64(subscribers))
	m.population.WithLabelValues("active").Set(float64(active))
	m.population.WithLabelValues("sessions").Set(float64(sessions))
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Value returns the current value of a counter or gauge series (histograms
// report their sample count).
// labels are name=value pairs; missing series read as 0.
func (m *Metrics) Value(name string, labels ...string) float64 {
	if m == nil {
		return 0
	}
	mfs, err := m.reg.Gather()
	if err != nil {
		return 0
	}
	want := map[string]string{}
	for i := 0; i+1 < len(labels); i += 2 {
		want[labels[i]] = labels[i+1]
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, metric := range mf.GetMetric() {
			got := map[string]string{}
			for _, lp := range metric.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if got[k] != v {
					continue next
				}
			}
			if c := metric.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := metric.GetGauge(); g != nil {
				return g.GetValue()
			}
			if h := metric.GetHistogram(); h != nil {
				return float64(h.GetSampleCount())
			}
		}
	}
	return 0
}
