package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Wire event names.
const (
	EventHello         = "devtools:hello"
	EventPluginUp      = "plugin:up"
	EventPluginDown    = "plugin:down"
	EventDevicesUpdate = "all-devices-update"
)

const (
	maxPluginIDLen = 64
	maxEventLen    = 128
)

// PluginMessage is the routed envelope. Payload is opaque to the relay.
type PluginMessage struct {
	PluginID  string          `json:"pluginId"`
	DeviceID  string          `json:"deviceId,omitempty"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// Identity is what a connection claims to be, from either the handshake
// query or a devtools:hello event.
type Identity struct {
	Role       Role
	DeviceID   string
	DeviceName string
	Platform   string
	Meta       *DeviceMeta
}

// Valid reports whether the identity is complete enough to register.
// A device needs a device id; a dashboard needs nothing.
func (id Identity) Valid() bool {
	switch id.Role {
	case RoleDashboard:
		return true
	case RoleDevice:
		return id.DeviceID != ""
	default:
		return false
	}
}

// SanitizePluginID lower-cases raw, keeps only [a-z0-9._-] and truncates to
// 64 characters.
func SanitizePluginID(raw string) string {
	lower := strings.ToLower(raw)
	var b strings.Builder
	b.Grow(len(lower))
	for i := 0; i < len(lower) && b.Len() < maxPluginIDLen; i++ {
		c := lower[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '.' || c == '_' || c == '-' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// SanitizeEvent truncates raw to 128 characters.
func SanitizeEvent(raw string) string {
	if utf8.RuneCountInString(raw) <= maxEventLen {
		return raw
	}
	n := 0
	for i := range raw {
		if n == maxEventLen {
			return raw[:i]
		}
		n++
	}
	return raw
}

type wirePluginMessage struct {
	PluginID  json.RawMessage `json:"pluginId"`
	DeviceID  json.RawMessage `json:"deviceId"`
	Event     json.RawMessage `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// DecodePluginMessage reads a plugin envelope without sanitizing it.
// Anything that is not a JSON object decodes to the zero message.
func DecodePluginMessage(data json.RawMessage) PluginMessage {
	var w wirePluginMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return PluginMessage{}
	}
	msg := PluginMessage{
		PluginID: coerceString(w.PluginID),
		DeviceID: coerceString(w.DeviceID),
		Event:    coerceString(w.Event),
		Payload:  w.Payload,
	}
	if ts, ok := coerceMillis(w.Timestamp); ok {
		msg.Timestamp = ts
	}
	return msg
}

type wireHello struct {
	Role       json.RawMessage `json:"role"`
	DeviceID   json.RawMessage `json:"deviceId"`
	DeviceName json.RawMessage `json:"deviceName"`
	Platform   json.RawMessage `json:"platform"`
}

// DecodeHello reads a devtools:hello payload.
func DecodeHello(data json.RawMessage) Identity {
	var w wireHello
	if err := json.Unmarshal(data, &w); err != nil {
		return Identity{}
	}
	return Identity{
		Role:       Role(coerceString(w.Role)),
		DeviceID:   coerceString(w.DeviceID),
		DeviceName: coerceString(w.DeviceName),
		Platform:   coerceString(w.Platform),
	}
}

// IdentityFromQuery reads the handshake query of a new connection.
// An empty Role means the connection stays unidentified until it says hello.
func IdentityFromQuery(q url.Values) Identity {
	id := Identity{
		DeviceID:   q.Get("deviceId"),
		DeviceName: q.Get("deviceName"),
		Platform:   q.Get("platform"),
	}
	// the legacy dashboard name wins over any role
	switch role := Role(q.Get("role")); {
	case role == RoleDashboard || id.DeviceName == legacyDashboardName:
		id.Role = RoleDashboard
	case role == RoleDevice:
		id.Role = RoleDevice
	}
	meta := DeviceMeta{
		ExtraInfo:    decodeStringMap(q.Get("extraDeviceInfo")),
		EnvVariables: decodeStringMap(q.Get("envVariables")),
	}
	if !meta.Empty() {
		id.Meta = &meta
	}
	return id
}

// coerceString turns a loosely typed JSON scalar into a string: strings as
// is, numbers and booleans as their JSON text, anything else empty.
func coerceString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case '{', '[', 'n':
		return ""
	default:
		return string(raw)
	}
}

// coerceMillis reads a numeric timestamp. Values that do not fit in an
// int64 count as absent.
func coerceMillis(raw json.RawMessage) (int64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// decodeStringMap parses a JSON object query value. Non-string values keep
// their JSON text; malformed input yields nil.
func decodeStringMap(s string) map[string]string {
	if s == "" {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		v = bytes.TrimSpace(v)
		if len(v) > 0 && v[0] == '"' {
			out[k] = coerceString(v)
			continue
		}
		out[k] = string(v)
	}
	return out
}
