package usecase

import "github.com/DorianMazur/rn-devtools/internal/domain"

// Emitter delivers one event to a set of live connections. Implementations
// must not block on a slow connection.
type Emitter interface {
	Emit(connIDs []string, event string, data any)
}

// Tap receives a copy of routed traffic for external recorders.
type Tap interface {
	PluginMessage(dir domain.Direction, msg domain.PluginMessage)
	Devices(list []domain.DeviceSnapshot)
}

// RelayMetrics is the subset of instrumentation the relay reports to.
type RelayMetrics interface {
	Routed(dir domain.Direction)
	Dropped(reason string)
	DeviceListBroadcast()
	Evicted(n int)
	RegistrySize(stats RegistryStats)
}

// Drop reasons.
const (
	DropMalformed    = "malformed"
	DropUnresolved   = "unresolved_device"
	DropUnauthorized = "unauthorized"
	DropNoTarget     = "no_target"
	DropBadHello     = "bad_hello"
	DropUnknownEvent = "unknown_event"
	DropRateLimited  = "rate_limited"
	DropQueueFull    = "queue_full"
)

type noopTap struct{}

func (noopTap) PluginMessage(domain.Direction, domain.PluginMessage) {}
func (noopTap) Devices([]domain.DeviceSnapshot)                      {}

type noopMetrics struct{}

func (noopMetrics) Routed(domain.Direction)     {}
func (noopMetrics) Dropped(string)              {}
func (noopMetrics) DeviceListBroadcast()        {}
func (noopMetrics) Evicted(int)                 {}
func (noopMetrics) RegistrySize(RegistryStats) {}
