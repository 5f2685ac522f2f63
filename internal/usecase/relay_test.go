package usecase_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DorianMazur/rn-devtools/internal/adapters/storage/memory"
	"github.com/DorianMazur/rn-devtools/internal/domain"
	"github.com/DorianMazur/rn-devtools/internal/usecase"
)

type emitted struct {
	conn  string
	event string
	data  any
}

// recorder is an Emitter that remembers every delivery per connection.
type recorder struct {
	mu  sync.Mutex
	out []emitted
}

func (r *recorder) Emit(connIDs []string, event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range connIDs {
		r.out = append(r.out, emitted{conn: c, event: event, data: data})
	}
}

func (r *recorder) to(conn, event string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []any
	for _, e := range r.out {
		if e.conn == conn && e.event == event {
			res = append(res, e.data)
		}
	}
	return res
}

func (r *recorder) lastDevices(t *testing.T, conn string) []domain.DeviceSnapshot {
	t.Helper()
	all := r.to(conn, domain.EventDevicesUpdate)
	require.NotEmpty(t, all, "no device list delivered to %s", conn)
	return all[len(all)-1].([]domain.DeviceSnapshot)
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.out = nil
	r.mu.Unlock()
}

type countingMetrics struct {
	mu      sync.Mutex
	dropped map[string]int
	routed  map[domain.Direction]int
	evicted int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{dropped: map[string]int{}, routed: map[domain.Direction]int{}}
}

func (m *countingMetrics) Routed(dir domain.Direction) {
	m.mu.Lock()
	m.routed[dir]++
	m.mu.Unlock()
}

func (m *countingMetrics) Dropped(reason string) {
	m.mu.Lock()
	m.dropped[reason]++
	m.mu.Unlock()
}
func (m *countingMetrics) DeviceListBroadcast()                {}
func (m *countingMetrics) Evicted(n int)                       { m.evicted += n }
func (m *countingMetrics) RegistrySize(usecase.RegistryStats) {}

type tapRecorder struct {
	msgs    []domain.PluginMessage
	devices int
}

func (t *tapRecorder) PluginMessage(_ domain.Direction, msg domain.PluginMessage) {
	t.msgs = append(t.msgs, msg)
}
func (t *tapRecorder) Devices([]domain.DeviceSnapshot) { t.devices++ }

type fixture struct {
	relay   *usecase.Relay
	reg     *memory.Registry
	out     *recorder
	metrics *countingMetrics
	tap     *tapRecorder
	clock   time.Time
}

func newFixture(t *testing.T, opts usecase.RelayOptions) *fixture {
	t.Helper()
	f := &fixture{out: &recorder{}, metrics: newCountingMetrics(), tap: &tapRecorder{}}
	f.clock = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	now := func() time.Time { return f.clock }
	f.reg = memory.NewRegistryWithClock(now)
	opts.Metrics = f.metrics
	opts.Tap = f.tap
	opts.Now = now
	f.relay = usecase.NewRelay(f.reg, f.out, opts)
	return f
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func (f *fixture) hello(t *testing.T, conn string, v map[string]any) {
	f.relay.Receive(conn, domain.EventHello, raw(t, v))
}

func TestDeviceThenDashboardSeesDeviceList(t *testing.T) {
	f := newFixture(t, usecase.RelayOptions{})

	f.relay.Connect("dev-conn", domain.Identity{Role: domain.RoleDevice, DeviceID: "dev-1", DeviceName: "Pixel"})
	f.relay.Connect("dash", domain.Identity{Role: domain.RoleDashboard})

	list := f.out.lastDevices(t, "dash")
	require.Len(t, list, 1)
	assert.Equal(t, "dev-1", list[0].DeviceID)
	assert.Equal(t, "Pixel", list[0].DeviceName)
	assert.True(t, list[0].IsConnected)
	assert.Equal(t, "dev-conn", list[0].ID)
}

func TestDeviceDisconnectKeepsOfflineEntry(t *testing.T) {
	f := newFixture(t, usecase.RelayOptions{})
	f.relay.Connect("dev-conn", domain.Identity{Role: domain.RoleDevice, DeviceID: "dev-1"})
	f.relay.Connect("dash", domain.Identity{Role: domain.RoleDashboard})
	f.out.reset()

	f.relay.Disconnect("dev-conn")

	list := f.out.lastDevices(t, "dash")
	require.Len(t, list, 1)
	assert.Equal(t, "dev-1", list[0].DeviceID)
	assert.False(t, list[0].IsConnected)
}

func TestDashboardDisconnectDoesNotBroadcast(t *testing.T) {
	f := newFixture(t, usecase.RelayOptions{})
	f.relay.Connect("dash-1", domain.Identity{Role: domain.RoleDashboard})
	f.relay.Connect("dash-2", domain.Identity{Role: domain.RoleDashboard})
	f.out.reset()

	f.relay.Disconnect("dash-2")
	assert.Empty(t, f.out.to("dash-1", domain.EventDevicesUpdate))
	assert.False(t, f.reg.IsDashboard("dash-2"))
}

func TestHelloMergesMetadata(t *testing.T) {
	f := newFixture(t, usecase.RelayOptions{})
	f.hello(t, "c1", map[string]any{"role": "device", "deviceId": "dev-a", "deviceName": "Phone", "platform": "ios"})
	f.clock = f.clock.Add(3 * time.Second)
	f.hello(t, "c1", map[string]any{"role": "device", "deviceId": "dev-a", "deviceName": "Renamed"})

	d, ok := f.reg.Device("dev-a")
	require.True(t, ok)
	assert.Equal(t, "Renamed", d.Name)
	assert.Equal(t, "ios", d.Platform)
	assert.Equal(t, f.clock, d.LastSeen)
}

func TestHelloWithoutDeviceIDIsIgnored(t *testing.T) {
	f := newFixture(t, usecase.RelayOptions{})
	f.hello(t, "c1", map[string]any{"role": "device"})
	assert.Empty(t, f.reg.ListDevices())
	assert.Equal(t, 1, f.metrics.dropped[usecase.DropBadHello])
}

func TestDashboardHelloTwiceDeliversOneCopyPerBroadcast(t *testing.T) {
	f := newFixture(t, usecase.RelayOptions{})
	f.hello(t, "dash", map[string]any{"role": "dashboard"})
	f.hello(t, "dash", map[string]any{"role": "dashboard"})
	f.out.reset()

	f.relay.Connect("dev-conn", domain.Identity{Role: domain.RoleDevice, DeviceID: "dev-1"})
	assert.Len(t, f.out.to("dash", domain.EventDevicesUpdate), 1)
}

func TestPluginUpIsTaggedWithSenderDevice(t *testing.T) {
	f := newFixture(t, usecase.RelayOptions{})
	f.relay.Connect("dev-conn", domain.Identity{Role: domain.RoleDevice, DeviceID: "dev-1"})
	f.relay.Connect("dash", domain.Identity{Role: domain.RoleDashboard})

	f.relay.Receive("dev-conn", domain.EventPluginUp, raw(t, map[string]any{
		"pluginId": "MMKV", "event": "snapshot", "payload": map[string]any{"keys": []string{"a"}},
	}))

	got := f.out.to("dash", domain.EventPluginUp)
	require.Len(t, got, 1)
	msg := got[0].(domain.PluginMessage)
	assert.Equal(t, "mmkv", msg.PluginID)
	assert.Equal(t, "dev-1", msg.DeviceID)
	assert.Equal(t, "snapshot", msg.Event)
	assert.JSONEq(t, `{"keys":["a"]}`, string(msg.Payload))
	assert.Equal(t, f.clock.UnixMilli(), msg.Timestamp, "relay stamps missing timestamps")
	assert.Len(t, f.tap.msgs, 1)
}

func TestPluginUpKeepsSenderTimestamp(t *testing.T) {
	f := newFixture(t, usecase.RelayOptions{})
	f.relay.Connect("dev-conn", domain.Identity{Role: domain.RoleDevice, DeviceID: "dev-1"})
	f.relay.Connect("dash", domain.Identity{Role: domain.RoleDashboard})

	f.relay.Receive("dev-conn", domain.EventPluginUp, raw(t, map[string]any{"pluginId": "p", "event": "e", "timestamp": 1234}))
	msg := f.out.to("dash", domain.EventPluginUp)[0].(domain.PluginMessage)
	assert.Equal(t, int64(1234), msg.Timestamp)
}

func TestPluginUpCannotSpoofAnotherDevice(t *testing.T) {
	f := newFixture(t, usecase.RelayOptions{})
	f.relay.Connect("conn-a", domain.Identity{Role: domain.RoleDevice, DeviceID: "dev-a"})
	f.relay.Connect("conn-b", domain.Identity{Role: domain.RoleDevice, DeviceID: "dev-b"})
	f.relay.Connect("dash", domain.Identity{Role: domain.RoleDashboard})

	f.relay.Receive("conn-a", domain.EventPluginUp, raw(t, map[string]any{"pluginId": "p", "event": "e", "deviceId": "dev-b"}))

	got := f.out.to("dash", domain.EventPluginUp)
	require.Len(t, got, 1)
	assert.Equal(t, "dev-a", got[0].(domain.PluginMessage).DeviceID)
}

func TestPluginUpHonoursClaimedIDAmongOwnRegistrations(t *testing.T) {
	f := newFixture(t, usecase.RelayOptions{})
	f.hello(t, "conn", map[string]any{"role": "device", "deviceId": "first"})
	f.hello(t, "conn", map[string]any{"role": "device", "deviceId": "second"})
	f.relay.Connect("dash", domain.Identity{Role: domain.RoleDashboard})

	f.relay.Receive("conn", domain.EventPluginUp, raw(t, map[string]any{"pluginId": "p", "event": "e", "deviceId": "second"}))
	f.relay.Receive("conn", domain.EventPluginUp, raw(t, map[string]any{"pluginId": "p", "event": "e"}))

	got := f.out.to("dash", domain.EventPluginUp)
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[0].(domain.PluginMessage).DeviceID)
	assert.Equal(t, "first", got[1].(domain.PluginMessage).DeviceID)
}

func TestPluginUpFromUnregisteredConnectionIsDropped(t *testing.T) {
	f := newFixture(t, usecase.RelayOptions{})
	f.relay.Connect("dash", domain.Identity{Role: domain.RoleDashboard})

	f.relay.Receive("stranger", domain.EventPluginUp, raw(t, map[string]any{"pluginId": "p", "event": "e"}))
	f.relay.Receive("stranger", domain.EventPluginUp, raw(t, map[string]any{"pluginId": "p", "event": "e", "deviceId": "dev-x"}))
	f.relay.Receive("dash", domain.EventPluginUp, raw(t, map[string]any{"pluginId": "p", "event": "e", "deviceId": "dev-x"}))

	assert.Empty(t, f.out.to("dash", domain.EventPluginUp))
	assert.Equal(t, 3, f.metrics.dropped[usecase.DropUnresolved])
}

func TestPluginUpMalformedIsDropped(t *testing.T) {
	f := newFixture(t, usecase.RelayOptions{})
	f.relay.Connect("dev-conn", domain.Identity{Role: domain.RoleDevice, DeviceID: "dev-1"})
	f.relay.Connect("dash", domain.Identity{Role: domain.RoleDashboard})

	for _, payload := range []any{
		map[string]any{"pluginId": "!!!", "event": "e"},
		map[string]any{"pluginId": "p", "event": ""},
		map[string]any{"event": "e"},
		"not an object",
	} {
		f.relay.Receive("dev-conn", domain.EventPluginUp, raw(t, payload))
	}
	assert.Empty(t, f.out.to("dash", domain.EventPluginUp))
	assert.Equal(t, 4, f.metrics.dropped[usecase.DropMalformed])
}

func TestPluginDownRoutedToEveryConnectionOfTarget(t *testing.T) {
	f := newFixture(t, usecase.RelayOptions{})
	f.relay.Connect("tab-1", domain.Identity{Role: domain.RoleDevice, DeviceID: "dev-1"})
	f.relay.Connect("tab-2", domain.Identity{Role: domain.RoleDevice, DeviceID: "dev-1"})
	f.relay.Connect("other", domain.Identity{Role: domain.RoleDevice, DeviceID: "dev-2"})
	f.relay.Connect("dash", domain.Identity{Role: domain.RoleDashboard})

	f.relay.Receive("dash", domain.EventPluginDown, raw(t, map[string]any{
		"pluginId": "ABC!!", "event": "go", "deviceId": "dev-1", "payload": 1,
	}))

	for _, c := range []string{"tab-1", "tab-2"} {
		got := f.out.to(c, domain.EventPluginDown)
		require.Len(t, got, 1, c)
		msg := got[0].(domain.PluginMessage)
		assert.Equal(t, "abc", msg.PluginID)
		assert.Equal(t, "dev-1", msg.DeviceID)
		assert.Equal(t, "go", msg.Event)
	}
	assert.Empty(t, f.out.to("other", domain.EventPluginDown))
	assert.Equal(t, 1, f.metrics.routed[domain.DirectionDown])
}

func TestPluginDownFromNonDashboardIsDropped(t *testing.T) {
	f := newFixture(t, usecase.RelayOptions{})
	f.relay.Connect("dev-conn", domain.Identity{Role: domain.RoleDevice, DeviceID: "dev-1"})
	f.relay.Connect("attacker", domain.Identity{Role: domain.RoleDevice, DeviceID: "dev-2"})

	f.relay.Receive("attacker", domain.EventPluginDown, raw(t, map[string]any{"pluginId": "p", "event": "e", "deviceId": "dev-1"}))
	f.relay.Receive("nobody", domain.EventPluginDown, raw(t, map[string]any{"pluginId": "p", "event": "e", "deviceId": "dev-1"}))

	assert.Empty(t, f.out.to("dev-conn", domain.EventPluginDown))
	assert.Equal(t, 2, f.metrics.dropped[usecase.DropUnauthorized])
}

func TestPluginDownRecheckedAfterDashboardLeaves(t *testing.T) {
	f := newFixture(t, usecase.RelayOptions{})
	f.relay.Connect("dev-conn", domain.Identity{Role: domain.RoleDevice, DeviceID: "dev-1"})
	f.relay.Connect("dash", domain.Identity{Role: domain.RoleDashboard})
	f.relay.Disconnect("dash")

	f.relay.Receive("dash", domain.EventPluginDown, raw(t, map[string]any{"pluginId": "p", "event": "e", "deviceId": "dev-1"}))
	assert.Empty(t, f.out.to("dev-conn", domain.EventPluginDown))
}

func TestPluginDownWithoutTargetOrOfflineTarget(t *testing.T) {
	f := newFixture(t, usecase.RelayOptions{})
	f.relay.Connect("dev-conn", domain.Identity{Role: domain.RoleDevice, DeviceID: "dev-1"})
	f.relay.Connect("dash", domain.Identity{Role: domain.RoleDashboard})
	f.relay.Disconnect("dev-conn")

	f.relay.Receive("dash", domain.EventPluginDown, raw(t, map[string]any{"pluginId": "p", "event": "e"}))
	f.relay.Receive("dash", domain.EventPluginDown, raw(t, map[string]any{"pluginId": "p", "event": "e", "deviceId": "dev-1"}))
	f.relay.Receive("dash", domain.EventPluginDown, raw(t, map[string]any{"pluginId": "p", "event": "e", "deviceId": "ghost"}))

	assert.Equal(t, 1, f.metrics.dropped[usecase.DropMalformed])
	assert.Equal(t, 2, f.metrics.dropped[usecase.DropNoTarget])
}

func TestUnknownEventIsDropped(t *testing.T) {
	f := newFixture(t, usecase.RelayOptions{})
	f.relay.Receive("c", "eval", raw(t, "process.exit()"))
	assert.Equal(t, 1, f.metrics.dropped[usecase.DropUnknownEvent])
}

func TestEvictOfflineRebroadcasts(t *testing.T) {
	f := newFixture(t, usecase.RelayOptions{OfflineTTL: 10 * time.Minute})
	f.relay.Connect("dev-conn", domain.Identity{Role: domain.RoleDevice, DeviceID: "dev-1"})
	f.relay.Connect("dash", domain.Identity{Role: domain.RoleDashboard})
	f.relay.Disconnect("dev-conn")

	f.clock = f.clock.Add(5 * time.Minute)
	assert.Empty(t, f.relay.EvictOffline())

	f.clock = f.clock.Add(6 * time.Minute)
	f.out.reset()
	assert.Equal(t, []string{"dev-1"}, f.relay.EvictOffline())
	assert.Empty(t, f.out.lastDevices(t, "dash"))
	assert.Equal(t, 1, f.metrics.evicted)
}

func TestEvictionDisabledByDefault(t *testing.T) {
	f := newFixture(t, usecase.RelayOptions{})
	f.relay.Connect("dev-conn", domain.Identity{Role: domain.RoleDevice, DeviceID: "dev-1"})
	f.relay.Disconnect("dev-conn")
	f.clock = f.clock.Add(24 * time.Hour)
	assert.Nil(t, f.relay.EvictOffline())
	assert.Len(t, f.reg.ListDevices(), 1)
}

func TestRunSerializesSubmittedEvents(t *testing.T) {
	f := newFixture(t, usecase.RelayOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.relay.Run(ctx) }()

	require.True(t, f.relay.Submit(usecase.Event{Kind: usecase.EventConnect, ConnID: "dash", Identity: domain.Identity{Role: domain.RoleDashboard}}))
	require.True(t, f.relay.Submit(usecase.Event{Kind: usecase.EventConnect, ConnID: "dev", Identity: domain.Identity{Role: domain.RoleDevice, DeviceID: "dev-1"}}))
	require.True(t, f.relay.Submit(usecase.Event{Kind: usecase.EventMessage, ConnID: "dev", Name: domain.EventPluginUp, Data: raw(t, map[string]any{"pluginId": "p", "event": "e"})}))
	require.True(t, f.relay.Submit(usecase.Event{Kind: usecase.EventDisconnect, ConnID: "dev"}))

	require.Eventually(t, func() bool {
		return len(f.out.to("dash", domain.EventDevicesUpdate)) == 3 && len(f.out.to("dash", domain.EventPluginUp)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
	assert.False(t, f.relay.Submit(usecase.Event{Kind: usecase.EventDisconnect, ConnID: "dash"}), "submit after stop")
}
