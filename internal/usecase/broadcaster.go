package usecase

import "github.com/DorianMazur/rn-devtools/internal/domain"

// Broadcaster pushes the full device list to every dashboard. It runs in the
// same turn as the registry mutation that triggered it, without diffing.
type Broadcaster struct {
	registry DeviceRegistry
	out      Emitter
	tap      Tap
	metrics  RelayMetrics
}

func NewBroadcaster(registry DeviceRegistry, out Emitter, tap Tap, metrics RelayMetrics) *Broadcaster {
	if tap == nil {
		tap = noopTap{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Broadcaster{registry: registry, out: out, tap: tap, metrics: metrics}
}

// Broadcast sends the current snapshot and returns it.
func (b *Broadcaster) Broadcast() []domain.DeviceSnapshot {
	list := b.registry.ListDevices()
	if list == nil {
		list = []domain.DeviceSnapshot{}
	}
	if dashboards := b.registry.Dashboards(); len(dashboards) > 0 {
		b.out.Emit(dashboards, domain.EventDevicesUpdate, list)
	}
	b.tap.Devices(list)
	b.metrics.DeviceListBroadcast()
	b.metrics.RegistrySize(b.registry.Stats())
	return list
}
