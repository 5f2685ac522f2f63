// Package client connects devices and dashboards to a devtools relay.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/DorianMazur/rn-devtools/internal/adapters/codec/socketio"
	"github.com/DorianMazur/rn-devtools/internal/domain"
)

var (
	ErrNotConnected    = errors.New("client: not connected")
	ErrNoTarget        = errors.New("client: no target device")
	ErrMissingDeviceID = errors.New("client: device role requires a device id")
	ErrClosed          = errors.New("client: closed")
)

const (
	RoleDevice    = domain.RoleDevice
	RoleDashboard = domain.RoleDashboard

	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

type Options struct {
	// URL of the relay: ws://host:port, http://host:port or a full /socket.io/ URL
	URL          string
	Role         domain.Role
	DeviceID     string
	DeviceName   string
	Platform     string
	ExtraInfo    map[string]string
	EnvVariables map[string]string

	Logger     *zerolog.Logger
	Dialer     *websocket.Dialer
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Conn is one shared relay connection. Adapters for any number of plugins
// sit on the same Conn.
type Conn struct {
	opts   Options
	url    string
	log    zerolog.Logger
	dialer *websocket.Dialer

	mu     sync.RWMutex
	ws     *websocket.Conn
	ready  chan struct{}
	cancel context.CancelFunc

	writeMu sync.Mutex

	lmu       sync.RWMutex
	listeners map[string][]listener
	nextID    uint64

	// inbound events waiting for their listeners, in arrival order
	inbox chan inbound

	startOnce sync.Once
	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

type listener struct {
	id uint64
	fn func(json.RawMessage)
}

type inbound struct {
	name string
	data json.RawMessage
}

const inboxSize = 256

func New(opts Options) (*Conn, error) {
	if opts.Role == "" {
		opts.Role = RoleDevice
	}
	if opts.Role != RoleDevice && opts.Role != RoleDashboard {
		return nil, fmt.Errorf("client: unknown role %q", opts.Role)
	}
	if opts.Role == RoleDevice && opts.DeviceID == "" {
		return nil, ErrMissingDeviceID
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 10 * time.Second
	}
	u, err := socketURL(opts)
	if err != nil {
		return nil, err
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Conn{
		opts:      opts,
		url:       u,
		log:       logger.With().Str("component", "client").Str("role", string(opts.Role)).Logger(),
		dialer:    dialer,
		ready:     make(chan struct{}),
		listeners: make(map[string][]listener),
		inbox:     make(chan inbound, inboxSize),
		closed:    make(chan struct{}),
	}, nil
}

func (c *Conn) Role() domain.Role { return c.opts.Role }

func (c *Conn) DeviceID() string { return c.opts.DeviceID }

// Start runs the connect loop in the background until ctx ends or Close is
// called. Every (re)connect announces the connection's identity.
func (c *Conn) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		select {
		case <-c.closed:
			return
		default:
		}
		ctx, cancel := context.WithCancel(ctx)
		c.mu.Lock()
		c.cancel = cancel
		c.mu.Unlock()
		c.wg.Add(1)
		go c.run(ctx)
		go c.dispatchLoop(ctx)
	})
}

// On registers fn for every inbound event named event. The returned func
// removes it. Listeners run one at a time in arrival order on a goroutine
// separate from the socket reader, so a listener may call Close.
func (c *Conn) On(event string, fn func(data json.RawMessage)) func() {
	c.lmu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[event] = append(c.listeners[event], listener{id: id, fn: fn})
	c.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.lmu.Lock()
			defer c.lmu.Unlock()
			ls := c.listeners[event]
			for i, l := range ls {
				if l.id == id {
					c.listeners[event] = append(ls[:i:i], ls[i+1:]...)
					break
				}
			}
			if len(c.listeners[event]) == 0 {
				delete(c.listeners, event)
			}
		})
	}
}

// Emit sends one event. While disconnected it returns ErrNotConnected and
// the event is lost.
func (c *Conn) Emit(event string, data any) error {
	frame, err := socketio.EncodeEvent(event, data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	c.mu.RLock()
	ws := c.ws
	c.mu.RUnlock()
	if ws == nil {
		return ErrNotConnected
	}
	return c.writeFrame(ws, frame)
}

func (c *Conn) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ws != nil
}

// WaitConnected blocks until the connection is up.
func (c *Conn) WaitConnected(ctx context.Context) error {
	c.mu.RLock()
	ready := c.ready
	c.mu.RUnlock()
	select {
	case <-ready:
		return nil
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops reconnecting, drops the connection and waits for the read
// loop. No listener is invoked for events still queued at that point.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	c.mu.RLock()
	cancel := c.cancel
	c.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	return nil
}

func (c *Conn) run(ctx context.Context) {
	defer c.wg.Done()
	backoff := c.opts.MinBackoff
	for {
		joined, err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if joined {
			backoff = c.opts.MinBackoff
		}
		c.log.Debug().Err(err).Dur("retryIn", backoff).Msg("relay connection lost")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.opts.MaxBackoff {
			backoff = c.opts.MaxBackoff
		}
	}
}

// session runs one connection from dial to close. It reports whether the
// namespace handshake completed.
func (c *Conn) session(ctx context.Context) (bool, error) {
	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()
	defer ws.Close()

	_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return false, fmt.Errorf("read open: %w", err)
	}
	open, ok := socketio.DecodeOpen(string(data))
	if !ok {
		return false, fmt.Errorf("unexpected open packet %q", data)
	}
	liveness := open.PingInterval + open.PingTimeout
	if err := c.writeFrame(ws, []byte(socketio.ConnectFrame)); err != nil {
		return false, err
	}
	if err := c.awaitConnect(ws); err != nil {
		return false, err
	}

	c.attach(ws)
	defer c.detach(ws)
	c.log.Info().Str("url", c.url).Msg("connected to relay")
	if err := c.Emit(domain.EventHello, c.hello()); err != nil {
		return true, err
	}

	for {
		_ = ws.SetReadDeadline(time.Now().Add(liveness))
		_, data, err := ws.ReadMessage()
		if err != nil {
			return true, err
		}
		frame := string(data)
		kind, nsp := socketio.Classify(frame)
		switch kind {
		case socketio.FramePing:
			if err := c.writeFrame(ws, []byte(socketio.PongFrame)); err != nil {
				return true, err
			}
		case socketio.FrameClose:
			return true, nil
		case socketio.FrameDisconnect:
			if nsp == "" {
				return true, nil
			}
		case socketio.FrameEvent:
			if nsp != "" {
				continue
			}
			_, args, ok := socketio.ParseEvent(frame)
			if !ok {
				continue
			}
			name, payload, ok := socketio.EventData(args)
			if !ok {
				continue
			}
			select {
			case c.inbox <- inbound{name: name, data: payload}:
			case <-ctx.Done():
				return true, ctx.Err()
			}
		}
	}
}

func (c *Conn) awaitConnect(ws *websocket.Conn) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read connect: %w", err)
		}
		kind, _ := socketio.Classify(string(data))
		switch kind {
		case socketio.FrameConnect:
			return nil
		case socketio.FrameConnectError:
			return fmt.Errorf("connect refused: %s", data)
		case socketio.FramePing:
			if err := c.writeFrame(ws, []byte(socketio.PongFrame)); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) attach(ws *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws = ws
	close(c.ready)
}

func (c *Conn) detach(ws *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == ws {
		c.ws = nil
		c.ready = make(chan struct{})
	}
}

func (c *Conn) writeFrame(ws *websocket.Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *Conn) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case ev := <-c.inbox:
			select {
			case <-c.closed:
				return
			default:
			}
			c.dispatch(ev.name, ev.data)
		}
	}
}

func (c *Conn) dispatch(event string, data json.RawMessage) {
	c.lmu.RLock()
	ls := append([]listener(nil), c.listeners[event]...)
	c.lmu.RUnlock()
	for _, l := range ls {
		l.fn(data)
	}
}

type helloPayload struct {
	Role       domain.Role `json:"role"`
	DeviceID   string      `json:"deviceId,omitempty"`
	DeviceName string      `json:"deviceName,omitempty"`
	Platform   string      `json:"platform,omitempty"`
}

func (c *Conn) hello() helloPayload {
	if c.opts.Role == RoleDashboard {
		return helloPayload{Role: RoleDashboard}
	}
	return helloPayload{Role: RoleDevice, DeviceID: c.opts.DeviceID, DeviceName: c.opts.DeviceName, Platform: c.opts.Platform}
}

func socketURL(opts Options) (string, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return "", fmt.Errorf("client: parse url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("client: unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("client: url %q has no host", opts.URL)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket.io/"
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	q.Set("role", string(opts.Role))
	if opts.Role == RoleDevice {
		q.Set("deviceId", opts.DeviceID)
		if opts.DeviceName != "" {
			q.Set("deviceName", opts.DeviceName)
		}
		if opts.Platform != "" {
			q.Set("platform", opts.Platform)
		}
		if len(opts.ExtraInfo) > 0 {
			b, _ := json.Marshal(opts.ExtraInfo)
			q.Set("extraDeviceInfo", string(b))
		}
		if len(opts.EnvVariables) > 0 {
			b, _ := json.Marshal(opts.EnvVariables)
			q.Set("envVariables", string(b))
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
