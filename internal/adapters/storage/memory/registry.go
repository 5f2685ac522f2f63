package memory

import (
	"sync"
	"time"

	"github.com/DorianMazur/rn-devtools/internal/domain"
	"github.com/DorianMazur/rn-devtools/internal/usecase"
)

// Registry is the in-memory DeviceRegistry. The relay loop is its only
// writer; the lock keeps concurrent readers (metrics, tests) safe.
type Registry struct {
	mu sync.RWMutex
	// ring by insertion order of device ids
	order   []string
	devices map[string]*domain.Device

	dashboards map[string]struct{}
	// connection id -> device ids it registered as, oldest first
	memberships map[string][]string

	now func() time.Time
}

func NewRegistry() *Registry {
	return NewRegistryWithClock(time.Now)
}

func NewRegistryWithClock(now func() time.Time) *Registry {
	return &Registry{
		order:       make([]string, 0, 16),
		devices:     make(map[string]*domain.Device, 16),
		dashboards:  make(map[string]struct{}),
		memberships: make(map[string][]string),
		now:         now,
	}
}

var _ usecase.DeviceRegistry = (*Registry)(nil)

func (r *Registry) RegisterDashboard(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dashboards[connID] = struct{}{}
}

func (r *Registry) RegisterDevice(deviceID, connID, name, platform string, meta *domain.DeviceMeta) error {
	if deviceID == "" {
		return usecase.ErrEmptyDeviceID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok {
		d = &domain.Device{DeviceID: deviceID}
		r.devices[deviceID] = d
		r.order = append(r.order, deviceID)
	}
	if name != "" {
		d.Name = name
	}
	if platform != "" {
		d.Platform = platform
	}
	if !meta.Empty() {
		d.Meta = *meta
	}
	d.LastSeen = r.now()
	d.OfflineSince = time.Time{}
	if !d.HasConnection(connID) {
		d.Connections = append(d.Connections, connID)
	}
	// join the per-device addressing group
	owned := r.memberships[connID]
	for _, id := range owned {
		if id == deviceID {
			return nil
		}
	}
	r.memberships[connID] = append(owned, deviceID)
	return nil
}

func (r *Registry) DropConnection(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dashboards, connID)
	owned, ok := r.memberships[connID]
	if !ok {
		return false
	}
	delete(r.memberships, connID)
	now := r.now()
	changed := false
	for _, deviceID := range owned {
		d := r.devices[deviceID]
		if d == nil {
			continue
		}
		for i, c := range d.Connections {
			if c == connID {
				d.Connections = append(d.Connections[:i], d.Connections[i+1:]...)
				d.LastSeen = now
				changed = true
				break
			}
		}
		if len(d.Connections) == 0 && d.OfflineSince.IsZero() {
			d.OfflineSince = now
		}
	}
	return changed
}

func (r *Registry) ListDevices() []domain.DeviceSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.DeviceSnapshot, 0, len(r.order))
	for _, id := range r.order { // preserve insertion order
		if d := r.devices[id]; d != nil {
			out = append(out, d.Snapshot())
		}
	}
	return out
}

func (r *Registry) IsDashboard(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.dashboards[connID]
	return ok
}

func (r *Registry) Dashboards() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.dashboards))
	for c := range r.dashboards {
		out = append(out, c)
	}
	return out
}

func (r *Registry) DevicesOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owned := r.memberships[connID]
	if len(owned) == 0 {
		return nil
	}
	out := make([]string, len(owned))
	copy(out, owned)
	return out
}

func (r *Registry) Connections(deviceID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d := r.devices[deviceID]
	if d == nil || len(d.Connections) == 0 {
		return nil
	}
	out := make([]string, len(d.Connections))
	copy(out, d.Connections)
	return out
}

func (r *Registry) Touch(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d := r.devices[deviceID]; d != nil {
		d.LastSeen = r.now()
	}
}

// Device returns a copy of the stored device.
func (r *Registry) Device(deviceID string) (domain.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d := r.devices[deviceID]
	if d == nil {
		return domain.Device{}, false
	}
	cp := *d
	cp.Connections = append([]string(nil), d.Connections...)
	return cp, true
}

// EvictOffline drops devices whose last connection closed before cutoff.
// Connected devices are never evicted.
func (r *Registry) EvictOffline(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []string
	i := 0
	for i < len(r.order) {
		id := r.order[i]
		d := r.devices[id]
		if d == nil || (!d.Connected() && !d.OfflineSince.IsZero() && d.OfflineSince.Before(cutoff)) {
			delete(r.devices, id)
			r.order = append(r.order[:i], r.order[i+1:]...)
			if d != nil {
				evicted = append(evicted, id)
			}
			continue
		}
		i++
	}
	return evicted
}

func (r *Registry) Stats() usecase.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := usecase.RegistryStats{Dashboards: len(r.dashboards)}
	for _, d := range r.devices {
		if d.Connected() {
			s.DevicesOnline++
		} else {
			s.DevicesOffline++
		}
	}
	return s
}
