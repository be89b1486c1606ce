package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-supervisor/internal/supervisor"
)

const namespace = "glsupervisor"

// Exit results used as the "result" label of exits_total.
const (
	ResultClean      = "clean"
	ResultError      = "error"
	ResultSpawnError = "spawn_error"
)

// Collector exposes supervisor lifecycle metrics.
//
// Each Collector owns a private registry, so several can coexist in one
// process. It implements supervisor.Observer; every update is a cheap
// in-memory operation and never blocks.
type Collector struct {
	registry    *prometheus.Registry
	maxRestarts int

	spawns          prometheus.Counter
	restarts        prometheus.Counter
	exits           *prometheus.CounterVec
	childUp         prometheus.Gauge
	budgetRemaining prometheus.Gauge
}

// NewCollector registers the metrics for the supervisor called name.
//
// Parameters:
//   - name: Supervisor name, set as a constant label on every metric
//   - maxRestarts: Restart budget used for glsupervisor_restart_budget_remaining
//   - uptime: Sampled at scrape time for glsupervisor_uptime_seconds
//
// Returns:
//   - *Collector: Collector with its own registry, ready to observe transitions
func NewCollector(name string, maxRestarts int, uptime func() int64) *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{"supervisor": name}

	c := &Collector{
		registry:    reg,
		maxRestarts: maxRestarts,
		spawns: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "spawns_total",
			Help:        "Worker spawn attempts, including failed ones",
			ConstLabels: labels,
		}),
		restarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "restarts_total",
			Help:        "Restarts scheduled after abnormal exits",
			ConstLabels: labels,
		}),
		exits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "exits_total",
			Help:        "Worker exits by result (clean, error, spawn_error)",
			ConstLabels: labels,
		}, []string{"result"}),
		childUp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "child_up",
			Help:        "1 while a worker is running",
			ConstLabels: labels,
		}),
		budgetRemaining: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "restart_budget_remaining",
			Help:        "Restarts left before the supervisor gives up",
			ConstLabels: labels,
		}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "uptime_seconds",
		Help:        "Seconds since the supervisor started",
		ConstLabels: labels,
	}, func() float64 {
		return float64(uptime())
	})

	// Pre-create the result series so rate() works from the first scrape.
	for _, r := range []string{ResultClean, ResultError, ResultSpawnError} {
		c.exits.WithLabelValues(r)
	}
	c.budgetRemaining.Set(float64(maxRestarts))

	return c
}

// Observe implements supervisor.Observer.
func (c *Collector) Observe(t supervisor.Transition) {
	switch t.To {
	case supervisor.StateRunning:
		c.spawns.Inc()
		c.childUp.Set(1)
		return

	case supervisor.StateExitedClean:
		c.exits.WithLabelValues(ResultClean).Inc()

	case supervisor.StateExitedError:
		if t.Event == supervisor.EventChildSpawnError {
			c.spawns.Inc()
			c.exits.WithLabelValues(ResultSpawnError).Inc()
		} else {
			c.exits.WithLabelValues(ResultError).Inc()
		}

	case supervisor.StateRestarting:
		c.restarts.Inc()
	}

	c.childUp.Set(0)
	c.budgetRemaining.Set(float64(c.remaining(t)))
}

func (c *Collector) remaining(t supervisor.Transition) int {
	if r := c.maxRestarts - t.RestartCount; r > 0 {
		return r
	}
	return 0
}

// Registry returns the collector's private registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
