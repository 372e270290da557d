package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fastsd/session"
)

// Collector exports controller activity as Prometheus metrics on a private
// registry. It implements session.Observer and session.DispatchObserver.
type Collector struct {
	registry *prometheus.Registry

	generations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	inits       *prometheus.CounterVec
	reshapes    prometheus.Counter
	rejections  *prometheus.CounterVec
}

// NewCollector registers the fastsd metrics plus the Go runtime and process
// collectors on a new registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fastsd_generations_total",
			Help: "Generation requests processed by the controller.",
		}, []string{"backend", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fastsd_generation_duration_seconds",
			Help:    "Inference time of successful generations.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"backend"}),
		inits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fastsd_pipeline_inits_total",
			Help: "Pipeline (re)initializations.",
		}, []string{"backend", "status"}),
		reshapes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fastsd_reshapes_total",
			Help: "Accelerated pipeline recompilations for a new shape.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fastsd_dispatch_rejections_total",
			Help: "Requests resolved by the dispatcher without running.",
		}, []string{"reason"}),
	}

	c.registry.MustRegister(
		c.generations,
		c.duration,
		c.inits,
		c.reshapes,
		c.rejections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the private registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveInit implements session.Observer.
func (c *Collector) ObserveInit(opts session.InitOptions, err error) {
	c.inits.WithLabelValues(opts.Backend.String(), status(err == nil)).Inc()
}

// ObserveGeneration implements session.Observer.
func (c *Collector) ObserveGeneration(settings session.GenerationSettings, res session.Result) {
	backend := settings.BackendMode.String()
	c.generations.WithLabelValues(backend, status(res.OK())).Inc()
	if res.OK() {
		c.duration.WithLabelValues(backend).Observe(res.Elapsed.Seconds())
	}
	if res.Reshaped {
		c.reshapes.Inc()
	}
}

// ObserveRejection implements session.DispatchObserver.
func (c *Collector) ObserveRejection(kind session.ErrorKind) {
	c.rejections.WithLabelValues(kind.String()).Inc()
}

func status(ok bool) string {
	if ok {
		return StatusSuccess
	}
	return StatusError
}
