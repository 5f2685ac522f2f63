package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/DorianMazur/rn-devtools/internal/domain"
	"github.com/DorianMazur/rn-devtools/internal/usecase"
)

const namespace = "devtools_relay"

type Metrics struct {
	registry        *prometheus.Registry
	Connections     *prometheus.GaugeVec
	Devices         *prometheus.GaugeVec
	RoutedTotal     *prometheus.CounterVec
	DroppedTotal    *prometheus.CounterVec
	BroadcastsTotal prometheus.Counter
	EvictionsTotal  prometheus.Counter
}

func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open socket connections by identified role",
		}, []string{"role"}),
		Devices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Known devices by connection state",
		}, []string{"state"}),
		RoutedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_routed_total",
			Help:      "Plugin messages routed by direction",
		}, []string{"direction"}),
		DroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Inbound events dropped by reason",
		}, []string{"reason"}),
		BroadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_list_broadcasts_total",
			Help:      "Device list snapshots pushed to dashboards",
		}),
		EvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Offline devices evicted",
		}),
	}
	build := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "build_info",
		Help:        "Build metadata, always 1",
		ConstLabels: prometheus.Labels{"version": Version, "commit": Commit},
	})
	build.Set(1)
	r.MustRegister(m.Connections, m.Devices, m.RoutedTotal, m.DroppedTotal, m.BroadcastsTotal, m.EvictionsTotal, build)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

var _ usecase.RelayMetrics = (*Metrics)(nil)

func (m *Metrics) Routed(dir domain.Direction) { m.RoutedTotal.WithLabelValues(string(dir)).Inc() }

func (m *Metrics) Dropped(reason string) { m.DroppedTotal.WithLabelValues(reason).Inc() }

func (m *Metrics) DeviceListBroadcast() { m.BroadcastsTotal.Inc() }

func (m *Metrics) Evicted(n int) { m.EvictionsTotal.Add(float64(n)) }

func (m *Metrics) RegistrySize(s usecase.RegistryStats) {
	m.Devices.WithLabelValues("online").Set(float64(s.DevicesOnline))
	m.Devices.WithLabelValues("offline").Set(float64(s.DevicesOffline))
}

// ConnOpened and ConnClosed track a connection under its current role label
// ("unidentified" until the peer identifies).
func (m *Metrics) ConnOpened(role string) { m.Connections.WithLabelValues(role).Inc() }

func (m *Metrics) ConnClosed(role string) { m.Connections.WithLabelValues(role).Dec() }
