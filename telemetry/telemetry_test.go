package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func resetRegistry() {
	registryMu.Lock()
	hotReloadCounter = nil
	createdCounter = nil
	failedCounter = nil
	publishedCounter = nil
	droppedCounter = nil
	nodesGauge = nil
	endpointsGauge = nil
	registryMu.Unlock()
}

func TestNoopCollector(t *testing.T) {
	collector := Noop()
	require.NotNil(t, collector)
	collector.IncHotReload("config.yaml")
	collector.IncEndpointCreated("subscription")
	collector.SetGraphEndpoints(1, 2)
}

func TestPrometheusCollectorRegistersAndReusesCounter(t *testing.T) {
	resetRegistry()

	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.NotNil(t, collector)

	collector.IncHotReload("a.yaml")

	metrics, err := reg.Gather()
	require.NoError(t, err)
	requireFamilyCounterValue(t, metrics, "nodebus_config_hot_reload_total", 1)

	again, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, collector.hotReloads, again.hotReloads)

	again.IncHotReload("a.yaml")

	metrics, err = reg.Gather()
	require.NoError(t, err)
	requireFamilyCounterValue(t, metrics, "nodebus_config_hot_reload_total", 2)
}

func TestPrometheusCollectorTracksEndpointsAndSamples(t *testing.T) {
	resetRegistry()

	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	collector.IncEndpointCreated("publisher")
	collector.IncEndpointFailed("service")
	collector.IncSamplesPublished("talker", "/chatter")
	collector.AddSamplesDropped("listener", "/chatter", 3)
	collector.AddSamplesDropped("listener", "/chatter", 0)
	collector.SetGraphNodes(2)
	collector.SetGraphEndpoints(4, 5)

	metrics, err := reg.Gather()
	require.NoError(t, err)
	requireFamilyCounterValue(t, metrics, "nodebus_endpoints_created_total", 1)
	requireFamilyCounterValue(t, metrics, "nodebus_endpoints_failed_total", 1)
	requireFamilyCounterValue(t, metrics, "nodebus_samples_published_total", 1)
	requireFamilyCounterValue(t, metrics, "nodebus_samples_dropped_total", 3)
}

func requireFamilyCounterValue(t *testing.T, families []*dto.MetricFamily, name string, value float64) {
	t.Helper()
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		require.Len(t, mf.Metric, 1)
		require.NotNil(t, mf.Metric[0].Counter)
		require.Equal(t, value, mf.Metric[0].Counter.GetValue())
		return
	}
	t.Fatalf("metric family %s not gathered", name)
}
