package domain

import "time"

// DeviceMeta is optional metadata a device sends in its handshake query.
// It is kept on the registry entry and never broadcast.
type DeviceMeta struct {
	ExtraInfo    map[string]string `json:"extraDeviceInfo,omitempty"`
	EnvVariables map[string]string `json:"envVariables,omitempty"`
}

// Empty reports whether no metadata was supplied.
func (m *DeviceMeta) Empty() bool {
	return m == nil || (len(m.ExtraInfo) == 0 && len(m.EnvVariables) == 0)
}

// Device is a logical peer identity keyed by DeviceID. A device with no
// connections is offline but stays registered.
type Device struct {
	DeviceID string
	Name     string
	Platform string
	Meta     DeviceMeta
	LastSeen time.Time
	// OfflineSince is set when the last connection went away and cleared on
	// the next registration.
	OfflineSince time.Time
	// Connections holds live connection ids in registration order.
	Connections []string
}

// Connected reports whether the device has at least one live connection.
func (d *Device) Connected() bool { return len(d.Connections) > 0 }

// HasConnection reports whether connID is one of the device's live connections.
func (d *Device) HasConnection(connID string) bool {
	for _, c := range d.Connections {
		if c == connID {
			return true
		}
	}
	return false
}

// Snapshot returns the public view of the device as pushed to dashboards.
func (d *Device) Snapshot() DeviceSnapshot {
	s := DeviceSnapshot{
		DeviceName:  d.Name,
		DeviceID:    d.DeviceID,
		Platform:    d.Platform,
		IsConnected: d.Connected(),
		LastSeen:    d.LastSeen.UnixMilli(),
	}
	if s.DeviceName == "" {
		s.DeviceName = d.DeviceID
	}
	if len(d.Connections) > 0 {
		s.ID = d.Connections[0]
	}
	return s
}

// DeviceSnapshot is one entry of the all-devices-update list.
type DeviceSnapshot struct {
	ID          string `json:"id"`
	DeviceName  string `json:"deviceName"`
	DeviceID    string `json:"deviceId"`
	Platform    string `json:"platform,omitempty"`
	IsConnected bool   `json:"isConnected"`
	LastSeen    int64  `json:"lastSeen"`
}
