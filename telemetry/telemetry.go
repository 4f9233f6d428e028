// Package telemetry exposes the daemon's runtime counters. Hooks are called
// inline with endpoint creation and sample publishing, so implementations
// must stay cheap.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by the daemon.
type Collector interface {
	IncHotReload(file string)
	IncEndpointCreated(kind string)
	IncEndpointFailed(kind string)
	IncSamplesPublished(node, topic string)
	AddSamplesDropped(node, topic string, count uint64)
	SetGraphNodes(count int)
	SetGraphEndpoints(readers, writers int)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncHotReload(string)                  {}
func (noopCollector) IncEndpointCreated(string)            {}
func (noopCollector) IncEndpointFailed(string)             {}
func (noopCollector) IncSamplesPublished(string, string)   {}
func (noopCollector) AddSamplesDropped(string, string, uint64) {}
func (noopCollector) SetGraphNodes(int)                    {}
func (noopCollector) SetGraphEndpoints(int, int)           {}

// PrometheusCollector exposes telemetry counters via Prometheus.
type PrometheusCollector struct {
	hotReloads       *prometheus.CounterVec
	endpointsCreated *prometheus.CounterVec
	endpointsFailed  *prometheus.CounterVec
	samplesPublished *prometheus.CounterVec
	samplesDropped   *prometheus.CounterVec
	graphNodes       prometheus.Gauge
	graphEndpoints   *prometheus.GaugeVec
}

// The vectors are package-level so repeated collector construction against
// the default registerer reuses the registered metrics instead of failing.
var (
	registryMu       sync.Mutex
	hotReloadCounter *prometheus.CounterVec
	createdCounter   *prometheus.CounterVec
	failedCounter    *prometheus.CounterVec
	publishedCounter *prometheus.CounterVec
	droppedCounter   *prometheus.CounterVec
	nodesGauge       prometheus.Gauge
	endpointsGauge   *prometheus.GaugeVec
)

func registerCounterVec(reg prometheus.Registerer, existing *prometheus.CounterVec, opts prometheus.CounterOpts, labels []string) (*prometheus.CounterVec, error) {
	if existing != nil {
		return existing, nil
	}
	counter := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(counter); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		registered, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		return registered, nil
	}
	return counter, nil
}

func registerGaugeVec(reg prometheus.Registerer, existing *prometheus.GaugeVec, opts prometheus.GaugeOpts, labels []string) (*prometheus.GaugeVec, error) {
	if existing != nil {
		return existing, nil
	}
	gauge := prometheus.NewGaugeVec(opts, labels)
	if err := reg.Register(gauge); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		registered, ok := already.ExistingCollector.(*prometheus.GaugeVec)
		if !ok {
			return nil, err
		}
		return registered, nil
	}
	return gauge, nil
}

func registerGauge(reg prometheus.Registerer, existing prometheus.Gauge, opts prometheus.GaugeOpts) (prometheus.Gauge, error) {
	if existing != nil {
		return existing, nil
	}
	gauge := prometheus.NewGauge(opts)
	if err := reg.Register(gauge); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		registered, ok := already.ExistingCollector.(prometheus.Gauge)
		if !ok {
			return nil, err
		}
		return registered, nil
	}
	return gauge, nil
}

// NewPrometheusCollector registers the required metrics with the provided
// registerer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	registryMu.Lock()
	defer registryMu.Unlock()

	var err error
	hotReloadCounter, err = registerCounterVec(reg, hotReloadCounter, prometheus.CounterOpts{
		Name: "nodebus_config_hot_reload_total",
		Help: "Number of hot reload operations triggered per configuration source file.",
	}, []string{"file"})
	if err != nil {
		return nil, err
	}
	createdCounter, err = registerCounterVec(reg, createdCounter, prometheus.CounterOpts{
		Name: "nodebus_endpoints_created_total",
		Help: "Number of endpoints created, labelled by endpoint kind.",
	}, []string{"kind"})
	if err != nil {
		return nil, err
	}
	failedCounter, err = registerCounterVec(reg, failedCounter, prometheus.CounterOpts{
		Name: "nodebus_endpoints_failed_total",
		Help: "Number of endpoint creations that failed and were rolled back.",
	}, []string{"kind"})
	if err != nil {
		return nil, err
	}
	publishedCounter, err = registerCounterVec(reg, publishedCounter, prometheus.CounterOpts{
		Name: "nodebus_samples_published_total",
		Help: "Number of samples published per node and topic.",
	}, []string{"node", "topic"})
	if err != nil {
		return nil, err
	}
	droppedCounter, err = registerCounterVec(reg, droppedCounter, prometheus.CounterOpts{
		Name: "nodebus_samples_dropped_total",
		Help: "Number of samples dropped from subscription queues per node and topic.",
	}, []string{"node", "topic"})
	if err != nil {
		return nil, err
	}
	nodesGauge, err = registerGauge(reg, nodesGauge, prometheus.GaugeOpts{
		Name: "nodebus_graph_nodes",
		Help: "Number of nodes currently visible in the graph cache.",
	})
	if err != nil {
		return nil, err
	}
	endpointsGauge, err = registerGaugeVec(reg, endpointsGauge, prometheus.GaugeOpts{
		Name: "nodebus_graph_endpoints",
		Help: "Number of endpoints currently visible in the graph cache, labelled by direction.",
	}, []string{"direction"})
	if err != nil {
		return nil, err
	}

	return &PrometheusCollector{
		hotReloads:       hotReloadCounter,
		endpointsCreated: createdCounter,
		endpointsFailed:  failedCounter,
		samplesPublished: publishedCounter,
		samplesDropped:   droppedCounter,
		graphNodes:       nodesGauge,
		graphEndpoints:   endpointsGauge,
	}, nil
}

// IncHotReload increments the counter for the provided file path.
func (p *PrometheusCollector) IncHotReload(file string) {
	if p == nil || p.hotReloads == nil {
		return
	}
	p.hotReloads.WithLabelValues(file).Inc()
}

// IncEndpointCreated counts a successful endpoint creation.
func (p *PrometheusCollector) IncEndpointCreated(kind string) {
	if p == nil || p.endpointsCreated == nil {
		return
	}
	p.endpointsCreated.WithLabelValues(kind).Inc()
}

// IncEndpointFailed counts a rolled-back endpoint creation.
func (p *PrometheusCollector) IncEndpointFailed(kind string) {
	if p == nil || p.endpointsFailed == nil {
		return
	}
	p.endpointsFailed.WithLabelValues(kind).Inc()
}

// IncSamplesPublished counts one published sample.
func (p *PrometheusCollector) IncSamplesPublished(node, topic string) {
	if p == nil || p.samplesPublished == nil {
		return
	}
	p.samplesPublished.WithLabelValues(node, topic).Inc()
}

// AddSamplesDropped records dropped samples for a subscription queue.
func (p *PrometheusCollector) AddSamplesDropped(node, topic string, count uint64) {
	if p == nil || p.samplesDropped == nil || count == 0 {
		return
	}
	p.samplesDropped.WithLabelValues(node, topic).Add(float64(count))
}

// SetGraphNodes updates the node count gauge.
func (p *PrometheusCollector) SetGraphNodes(count int) {
	if p == nil || p.graphNodes == nil {
		return
	}
	p.graphNodes.Set(float64(count))
}

// SetGraphEndpoints updates the endpoint gauges.
func (p *PrometheusCollector) SetGraphEndpoints(readers, writers int) {
	if p == nil || p.graphEndpoints == nil {
		return
	}
	p.graphEndpoints.WithLabelValues("readers").Set(float64(readers))
	p.graphEndpoints.WithLabelValues("writers").Set(float64(writers))
}
