package client

import (
	"encoding/json"
	"time"

	"github.com/DorianMazur/rn-devtools/internal/domain"
)

// Device is one entry of the relay's device list.
type Device = domain.DeviceSnapshot

// Meta tells a dashboard listener which device a message came from.
type Meta struct {
	DeviceID string
}

type outbound struct {
	PluginID  string `json:"pluginId"`
	DeviceID  string `json:"deviceId,omitempty"`
	Event     string `json:"event"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// DevicePlugin is the device side of one plugin's message bus.
type DevicePlugin struct {
	conn     *Conn
	pluginID string
}

func NewDevicePlugin(conn *Conn, pluginID string) *DevicePlugin {
	return &DevicePlugin{conn: conn, pluginID: pluginID}
}

func (p *DevicePlugin) PluginID() string { return p.pluginID }

// SendMessage emits a plugin:up for this device.
func (p *DevicePlugin) SendMessage(event string, payload any) error {
	return p.conn.Emit(domain.EventPluginUp, outbound{
		PluginID:  p.pluginID,
		DeviceID:  p.conn.DeviceID(),
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	})
}

// AddMessageListener delivers plugin:down payloads addressed to this plugin,
// this device and event. The plugin id must match exactly as sent by the
// relay, which lowercases and filters it.
func (p *DevicePlugin) AddMessageListener(event string, fn func(payload json.RawMessage)) func() {
	return p.conn.On(domain.EventPluginDown, func(data json.RawMessage) {
		msg, ok := decodeMessage(data)
		if !ok || msg.PluginID != p.pluginID || msg.DeviceID != p.conn.DeviceID() || msg.Event != event {
			return
		}
		fn(msg.Payload)
	})
}

// DashboardPlugin is the dashboard side of one plugin's message bus. The
// target device is resolved on every call.
type DashboardPlugin struct {
	conn          *Conn
	pluginID      string
	currentDevice func() string
}

func NewDashboardPlugin(conn *Conn, pluginID string, currentDevice func() string) *DashboardPlugin {
	if currentDevice == nil {
		currentDevice = func() string { return "" }
	}
	return &DashboardPlugin{conn: conn, pluginID: pluginID, currentDevice: currentDevice}
}

func (p *DashboardPlugin) PluginID() string { return p.pluginID }

// SendMessage emits a plugin:down to deviceOverride or the current device.
// With neither it sends nothing and returns ErrNoTarget.
func (p *DashboardPlugin) SendMessage(event string, payload any, deviceOverride ...string) error {
	target := ""
	if len(deviceOverride) > 0 {
		target = deviceOverride[0]
	}
	if target == "" {
		target = p.currentDevice()
	}
	if target == "" {
		return ErrNoTarget
	}
	return p.conn.Emit(domain.EventPluginDown, outbound{
		PluginID: p.pluginID,
		DeviceID: target,
		Event:    event,
		Payload:  payload,
	})
}

// AddMessageListener delivers plugin:up payloads for this plugin and event.
// When a current device is set, messages tagged with another device are
// skipped; untagged messages always pass.
func (p *DashboardPlugin) AddMessageListener(event string, fn func(payload json.RawMessage, meta Meta)) func() {
	return p.conn.On(domain.EventPluginUp, func(data json.RawMessage) {
		msg, ok := decodeMessage(data)
		if !ok || msg.PluginID != p.pluginID || msg.Event != event {
			return
		}
		if cur := p.currentDevice(); cur != "" && msg.DeviceID != "" && msg.DeviceID != cur {
			return
		}
		fn(msg.Payload, Meta{DeviceID: msg.DeviceID})
	})
}

// Devices calls fn with every device list the relay pushes.
func Devices(conn *Conn, fn func([]Device)) func() {
	return conn.On(domain.EventDevicesUpdate, func(data json.RawMessage) {
		var list []Device
		if err := json.Unmarshal(data, &list); err != nil {
			return
		}
		fn(list)
	})
}

func decodeMessage(data json.RawMessage) (domain.PluginMessage, bool) {
	var msg domain.PluginMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, false
	}
	return msg, true
}
