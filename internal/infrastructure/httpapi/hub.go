package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/DorianMazur/rn-devtools/internal/adapters/codec/socketio"
	"github.com/DorianMazur/rn-devtools/internal/domain"
	"github.com/DorianMazur/rn-devtools/internal/usecase"
	"github.com/DorianMazur/rn-devtools/pkg/shared/id"
)

const (
	writeWait        = 10 * time.Second
	roleUnidentified = "unidentified"
)

// Submitter accepts connection events for the relay loop.
type Submitter interface {
	Submit(ev usecase.Event) bool
}

// HubMetrics is what the hub reports besides the relay itself.
type HubMetrics interface {
	Dropped(reason string)
	ConnOpened(role string)
	ConnClosed(role string)
}

type HubOptions struct {
	Logger        *zerolog.Logger
	Metrics       HubMetrics
	PingInterval  time.Duration
	PingTimeout   time.Duration
	MaxPayload    int
	SendQueueSize int
	// Inbound events per second per connection; zero disables limiting
	EventsPerSec float64
	EventBurst   int
}

// Hub terminates Socket.IO connections and implements usecase.Emitter.
type Hub struct {
	opts     HubOptions
	log      zerolog.Logger
	metrics  HubMetrics
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*conn
	relay Submitter

	wg        sync.WaitGroup
	closing   chan struct{}
	closeOnce sync.Once
}

type conn struct {
	id        string
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	limiter   *rate.Limiter
	// role label for metrics; read-pump owned
	role string
}

func NewHub(opts HubOptions) *Hub {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 30 * time.Second
	}
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = 1_000_000
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = 256
	}
	if opts.EventBurst <= 0 {
		opts.EventBurst = 1
	}
	if opts.Metrics == nil {
		opts.Metrics = nopHubMetrics{}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Hub{
		opts:     opts,
		log:      logger.With().Str("component", "hub").Logger(),
		metrics:  opts.Metrics,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		conns:    make(map[string]*conn),
		closing:  make(chan struct{}),
	}
}

// SetRelay wires the event sink after construction; the relay needs the hub
// as its Emitter first.
func (h *Hub) SetRelay(r Submitter) {
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
}

// Ready reports whether the hub accepts connections.
func (h *Hub) Ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.relay != nil && !h.isClosing()
}

func (h *Hub) isClosing() bool {
	select {
	case <-h.closing:
		return true
	default:
		return false
	}
}

var _ usecase.Emitter = (*Hub)(nil)

// Emit encodes once and queues the frame on every listed connection. A
// connection whose queue is full loses this frame only.
func (h *Hub) Emit(connIDs []string, event string, data any) {
	frame, err := socketio.EncodeEvent(event, data)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("encode event")
		return
	}
	h.mu.RLock()
	targets := make([]*conn, 0, len(connIDs))
	for _, cid := range connIDs {
		if c := h.conns[cid]; c != nil {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		if !c.SafeSend(frame) && !c.closed() {
			h.metrics.Dropped(usecase.DropQueueFull)
			h.log.Debug().Str("conn", c.id).Str("event", event).Msg("send queue full, frame dropped")
		}
	}
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// HandleSocketIO serves /socket.io/ for the websocket transport.
func (h *Hub) HandleSocketIO(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("EIO") != "4" {
		writeError(w, http.StatusBadRequest, codeUnsupportedProtocol, "only Engine.IO v4 is supported", map[string]string{"EIO": q.Get("EIO")})
		return
	}
	if q.Get("transport") != "websocket" {
		writeError(w, http.StatusBadRequest, codeUnsupportedTransport, "only the websocket transport is supported", map[string]string{"transport": q.Get("transport")})
		return
	}
	if !h.Ready() {
		writeError(w, http.StatusServiceUnavailable, codeNotReady, "relay is not running", nil)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("upgrade failed")
		return
	}
	ws.SetReadLimit(int64(h.opts.MaxPayload))

	c := &conn{
		id:   id.New(),
		ws:   ws,
		send: make(chan []byte, h.opts.SendQueueSize),
		done: make(chan struct{}),
		role: roleUnidentified,
	}
	if h.opts.EventsPerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(h.opts.EventsPerSec), h.opts.EventBurst)
	}

	h.mu.Lock()
	if h.isClosing() {
		h.mu.Unlock()
		_ = ws.Close()
		return
	}
	h.conns[c.id] = c
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()
	h.metrics.ConnOpened(c.role)

	c.SafeSend(socketio.EncodeOpen(socketio.OpenParams{
		SID:          id.New(),
		PingInterval: h.opts.PingInterval,
		PingTimeout:  h.opts.PingTimeout,
		MaxPayload:   h.opts.MaxPayload,
	}))
	go h.writePump(c)

	joined := h.readPump(c, domain.IdentityFromQuery(q))

	c.close()
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
	h.metrics.ConnClosed(c.role)
	if joined {
		h.submit(usecase.Event{Kind: usecase.EventDisconnect, ConnID: c.id})
	}
	h.log.Debug().Str("conn", c.id).Msg("connection closed")
}

// readPump decodes frames until the peer leaves or goes silent. It reports
// whether the peer had joined the default namespace.
func (h *Hub) readPump(c *conn, handshake domain.Identity) bool {
	joined := false
	deadline := h.opts.PingInterval + h.opts.PingTimeout
	_ = c.ws.SetReadDeadline(time.Now().Add(deadline))
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug().Err(err).Str("conn", c.id).Msg("read ended")
			}
			return joined
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(deadline))
		if typ != websocket.TextMessage {
			// binary attachments are not supported
			continue
		}
		frame := string(data)
		kind, nsp := socketio.Classify(frame)
		switch kind {
		case socketio.FramePong, socketio.FrameNoop:
		case socketio.FramePing:
			c.SafeSend([]byte(socketio.PongFrame))
		case socketio.FrameClose:
			return joined
		case socketio.FrameDisconnect:
			if nsp == "" {
				return joined
			}
		case socketio.FrameConnect:
			if nsp != "" {
				c.SafeSend(socketio.EncodeConnectError(nsp, "Invalid namespace"))
				continue
			}
			if joined {
				continue
			}
			joined = true
			identity := handshake
			if !identity.Valid() {
				if auth := connectAuth(frame); auth != nil {
					identity = domain.DecodeHello(auth)
				}
			}
			c.SafeSend(socketio.EncodeConnect(c.id))
			h.observeRole(c, identity)
			if !h.submit(usecase.Event{Kind: usecase.EventConnect, ConnID: c.id, Identity: identity}) {
				return joined
			}
		case socketio.FrameEvent:
			if !joined || nsp != "" {
				continue
			}
			_, args, ok := socketio.ParseEvent(frame)
			if !ok {
				h.metrics.Dropped(usecase.DropMalformed)
				continue
			}
			name, payload, ok := socketio.EventData(args)
			if !ok {
				h.metrics.Dropped(usecase.DropMalformed)
				continue
			}
			if c.limiter != nil && !c.limiter.Allow() {
				h.metrics.Dropped(usecase.DropRateLimited)
				continue
			}
			if name == domain.EventHello {
				h.observeRole(c, domain.DecodeHello(payload))
			}
			if !h.submit(usecase.Event{Kind: usecase.EventMessage, ConnID: c.id, Name: name, Data: payload}) {
				return joined
			}
		default:
			// acks and unknown packets are ignored
		}
	}
}

func (h *Hub) writePump(c *conn) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, []byte(socketio.PingFrame)); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (h *Hub) submit(ev usecase.Event) bool {
	h.mu.RLock()
	r := h.relay
	h.mu.RUnlock()
	if r == nil {
		return false
	}
	return r.Submit(ev)
}

func (h *Hub) observeRole(c *conn, identity domain.Identity) {
	if !identity.Valid() {
		return
	}
	role := string(identity.Role)
	if role == c.role {
		return
	}
	h.metrics.ConnClosed(c.role)
	h.metrics.ConnOpened(role)
	c.role = role
}

// Close disconnects every peer and waits for their handlers to return.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closeOnce.Do(func() { close(h.closing) })
	for _, c := range h.conns {
		c.close()
	}
	h.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SafeSend queues frame without blocking. It reports false when the
// connection is closed or its queue is full.
func (c *conn) SafeSend(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// connectAuth returns the JSON auth object of a "40{...}" packet, if any.
func connectAuth(frame string) []byte {
	if len(frame) > 2 && frame[2] == '{' {
		return []byte(frame[2:])
	}
	return nil
}

type nopHubMetrics struct{}

func (nopHubMetrics) Dropped(string)    {}
func (nopHubMetrics) ConnOpened(string) {}
func (nopHubMetrics) ConnClosed(string) {}
