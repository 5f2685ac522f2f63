package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/DorianMazur/rn-devtools/internal/domain"
	"github.com/DorianMazur/rn-devtools/pkg/shared/redact"
)

// EventKind enumerates the connection events the relay reacts to.
type EventKind int

const (
	EventConnect EventKind = iota + 1
	EventMessage
	EventDisconnect
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventMessage:
		return "message"
	case EventDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one transport-level occurrence on a connection.
type Event struct {
	Kind   EventKind
	ConnID string
	// Identity is the handshake identity (EventConnect only).
	Identity domain.Identity
	// Name and Data carry an inbound socket event (EventMessage only).
	Name string
	Data json.RawMessage
}

type RelayOptions struct {
	Logger  *zerolog.Logger
	Tap     Tap
	Metrics RelayMetrics
	// QueueSize bounds the inbound event queue.
	QueueSize int
	// OfflineTTL enables eviction of devices offline for longer than this.
	// Zero keeps offline devices until restart.
	OfflineTTL       time.Duration
	EvictionInterval time.Duration
	Now              func() time.Time
}

const (
	defaultQueueSize        = 1024
	defaultEvictionInterval = time.Minute
	panicRecoveryDelay      = 100 * time.Millisecond
)

// Relay is the connection-event state machine. All registry mutation and
// routing happens on the goroutine running Run, so handlers never interleave.
type Relay struct {
	registry    DeviceRegistry
	out         Emitter
	broadcaster *Broadcaster
	tap         Tap
	metrics     RelayMetrics
	log         zerolog.Logger
	now         func() time.Time

	offlineTTL   time.Duration
	evictionTick time.Duration

	events chan Event
	done   chan struct{}
}

func NewRelay(registry DeviceRegistry, out Emitter, opts RelayOptions) *Relay {
	if opts.Tap == nil {
		opts.Tap = noopTap{}
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.EvictionInterval <= 0 {
		opts.EvictionInterval = defaultEvictionInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Relay{
		registry:     registry,
		out:          out,
		broadcaster:  NewBroadcaster(registry, out, opts.Tap, opts.Metrics),
		tap:          opts.Tap,
		metrics:      opts.Metrics,
		log:          logger.With().Str("component", "relay").Logger(),
		now:          opts.Now,
		offlineTTL:   opts.OfflineTTL,
		evictionTick: opts.EvictionInterval,
		events:       make(chan Event, opts.QueueSize),
		done:         make(chan struct{}),
	}
}

// Submit queues ev for the relay loop. It blocks while the queue is full and
// returns false once the loop has stopped.
func (r *Relay) Submit(ev Event) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.events <- ev:
		return true
	case <-r.done:
		return false
	}
}

// Run processes queued events until ctx is cancelled. A panic in a handler
// is logged and the loop resumes with the next event.
func (r *Relay) Run(ctx context.Context) error {
	defer close(r.done)

	var tick <-chan time.Time
	if r.offlineTTL > 0 {
		t := time.NewTicker(r.evictionTick)
		defer t.Stop()
		tick = t.C
	}

	for {
		err := r.runLoop(ctx, tick)
		if err == context.Canceled || err == context.DeadlineExceeded {
			r.log.Info().Msg("relay loop stopped")
			return nil
		}
		r.log.Error().Err(err).Msg("relay loop crashed, restarting")
		time.Sleep(panicRecoveryDelay)
	}
}

func (r *Relay) runLoop(ctx context.Context, tick <-chan time.Time) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("relay panic: %v\n%s", rec, debug.Stack())
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-r.events:
			r.Dispatch(ev)
		case <-tick:
			r.EvictOffline()
		}
	}
}

// Dispatch handles a single event synchronously.
func (r *Relay) Dispatch(ev Event) {
	switch ev.Kind {
	case EventConnect:
		r.Connect(ev.ConnID, ev.Identity)
	case EventMessage:
		r.Receive(ev.ConnID, ev.Name, ev.Data)
	case EventDisconnect:
		r.Disconnect(ev.ConnID)
	}
}

// Connect applies the handshake identity of a new connection. Connections
// without a usable identity stay unidentified until they say hello.
func (r *Relay) Connect(connID string, id domain.Identity) {
	if !id.Valid() {
		r.log.Debug().Str("conn", connID).Msg("connection unidentified at handshake")
		return
	}
	r.identify(connID, id)
}

// Receive handles one inbound socket event.
func (r *Relay) Receive(connID, name string, data json.RawMessage) {
	switch name {
	case domain.EventHello:
		id := domain.DecodeHello(data)
		if !id.Valid() {
			r.drop(connID, name, DropBadHello)
			return
		}
		r.identify(connID, id)
	case domain.EventPluginUp:
		r.routeUp(connID, data)
	case domain.EventPluginDown:
		r.routeDown(connID, data)
	default:
		r.drop(connID, name, DropUnknownEvent)
	}
}

// Disconnect forgets connID. Devices that lose their last connection stay
// registered as offline.
func (r *Relay) Disconnect(connID string) {
	wasDashboard := r.registry.IsDashboard(connID)
	changed := r.registry.DropConnection(connID)
	r.log.Debug().Str("conn", connID).Bool("dashboard", wasDashboard).Bool("devicesChanged", changed).Msg("connection closed")
	if changed {
		r.broadcaster.Broadcast()
		return
	}
	r.metrics.RegistrySize(r.registry.Stats())
}

// EvictOffline prunes devices that have been offline longer than the
// configured TTL and rebroadcasts when something was removed.
func (r *Relay) EvictOffline() []string {
	if r.offlineTTL <= 0 {
		return nil
	}
	evicted := r.registry.EvictOffline(r.now().Add(-r.offlineTTL))
	if len(evicted) == 0 {
		return nil
	}
	r.metrics.Evicted(len(evicted))
	r.log.Info().Strs("devices", evicted).Dur("ttl", r.offlineTTL).Msg("evicted offline devices")
	r.broadcaster.Broadcast()
	return evicted
}

func (r *Relay) identify(connID string, id domain.Identity) {
	switch id.Role {
	case domain.RoleDashboard:
		r.registry.RegisterDashboard(connID)
		r.log.Info().Str("conn", connID).Msg("dashboard joined")
	case domain.RoleDevice:
		if err := r.registry.RegisterDevice(id.DeviceID, connID, id.DeviceName, id.Platform, id.Meta); err != nil {
			r.drop(connID, domain.EventHello, DropBadHello)
			return
		}
		ev := r.log.Info().Str("conn", connID).Str("device", id.DeviceID).Str("name", id.DeviceName).Str("platform", id.Platform)
		if !id.Meta.Empty() {
			ev = ev.Interface("extraDeviceInfo", redact.Map(id.Meta.ExtraInfo)).Interface("envVariables", redact.Map(id.Meta.EnvVariables))
		}
		ev.Msg("device joined")
	default:
		return
	}
	r.broadcaster.Broadcast()
}

func (r *Relay) routeUp(connID string, data json.RawMessage) {
	msg := domain.DecodePluginMessage(data)
	pluginID := domain.SanitizePluginID(msg.PluginID)
	event := domain.SanitizeEvent(msg.Event)
	if pluginID == "" || event == "" {
		r.drop(connID, domain.EventPluginUp, DropMalformed)
		return
	}
	deviceID := r.senderDevice(connID, msg.DeviceID)
	if deviceID == "" {
		r.drop(connID, domain.EventPluginUp, DropUnresolved)
		return
	}
	r.registry.Touch(deviceID)

	out := domain.PluginMessage{
		PluginID:  pluginID,
		DeviceID:  deviceID,
		Event:     event,
		Payload:   msg.Payload,
		Timestamp: r.stamp(msg.Timestamp),
	}
	if dashboards := r.registry.Dashboards(); len(dashboards) > 0 {
		r.out.Emit(dashboards, domain.EventPluginUp, out)
	}
	r.tap.PluginMessage(domain.DirectionUp, out)
	r.metrics.Routed(domain.DirectionUp)
}

// senderDevice resolves the device a connection speaks for. A claimed id is
// honoured only if the connection registered under it; otherwise the oldest
// registration wins. Unregistered connections resolve to nothing.
func (r *Relay) senderDevice(connID, claimed string) string {
	owned := r.registry.DevicesOf(connID)
	if len(owned) == 0 {
		return ""
	}
	for _, d := range owned {
		if d == claimed {
			return d
		}
	}
	return owned[0]
}

func (r *Relay) routeDown(connID string, data json.RawMessage) {
	if !r.registry.IsDashboard(connID) {
		r.drop(connID, domain.EventPluginDown, DropUnauthorized)
		return
	}
	msg := domain.DecodePluginMessage(data)
	pluginID := domain.SanitizePluginID(msg.PluginID)
	event := domain.SanitizeEvent(msg.Event)
	if pluginID == "" || event == "" || msg.DeviceID == "" {
		r.drop(connID, domain.EventPluginDown, DropMalformed)
		return
	}
	targets := r.registry.Connections(msg.DeviceID)
	if len(targets) == 0 {
		r.drop(connID, domain.EventPluginDown, DropNoTarget)
		return
	}

	out := domain.PluginMessage{
		PluginID:  pluginID,
		DeviceID:  msg.DeviceID,
		Event:     event,
		Payload:   msg.Payload,
		Timestamp: r.stamp(msg.Timestamp),
	}
	r.out.Emit(targets, domain.EventPluginDown, out)
	r.tap.PluginMessage(domain.DirectionDown, out)
	r.metrics.Routed(domain.DirectionDown)
}

func (r *Relay) stamp(ts int64) int64 {
	if ts != 0 {
		return ts
	}
	return r.now().UnixMilli()
}

func (r *Relay) drop(connID, event, reason string) {
	r.metrics.Dropped(reason)
	r.log.Debug().Str("conn", connID).Str("event", event).Str("reason", reason).Msg("dropped")
}
