package socketio

import (
	"encoding/json"
	"strings"
	"time"
)

// FrameKind classifies an Engine.IO v4 text frame carrying Socket.IO v5.
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameOpen
	FrameClose
	FramePing
	FramePong
	FrameNoop
	FrameConnect
	FrameDisconnect
	FrameConnectError
	FrameEvent
	FrameAck
)

// Frames with no body.
const (
	PingFrame    = "2"
	PongFrame    = "3"
	ConnectFrame = "40"
)

// Classify reports the kind of a text frame and, for Socket.IO packets, the
// namespace it targets ("" for the default namespace).
func Classify(frame string) (FrameKind, string) {
	if frame == "" {
		return FrameUnknown, ""
	}
	switch frame[0] {
	case '0':
		return FrameOpen, ""
	case '1':
		return FrameClose, ""
	case '2':
		return FramePing, ""
	case '3':
		return FramePong, ""
	case '6':
		return FrameNoop, ""
	case '4':
	default:
		return FrameUnknown, ""
	}
	if len(frame) < 2 {
		return FrameUnknown, ""
	}
	nsp := namespaceOf(frame[2:])
	switch frame[1] {
	case '0':
		return FrameConnect, nsp
	case '1':
		return FrameDisconnect, nsp
	case '4':
		return FrameConnectError, nsp
	case '2', '5':
		return FrameEvent, nsp
	case '3', '6':
		return FrameAck, nsp
	default:
		return FrameUnknown, ""
	}
}

func namespaceOf(rest string) string {
	// binary packets carry "<attachments>-" before the namespace
	if i := strings.IndexByte(rest, '-'); i > 0 && isDigits(rest[:i]) {
		rest = rest[i+1:]
	}
	if !strings.HasPrefix(rest, "/") {
		return ""
	}
	if i := strings.IndexByte(rest, ','); i > 0 {
		rest = rest[:i]
	}
	if rest == "/" {
		return ""
	}
	return rest
}

// OpenParams is the Engine.IO handshake body sent by the server.
type OpenParams struct {
	SID          string
	PingInterval time.Duration
	PingTimeout  time.Duration
	MaxPayload   int
}

type openBody struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int64    `json:"pingInterval"`
	PingTimeout  int64    `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// EncodeOpen builds the Engine.IO open packet.
func EncodeOpen(p OpenParams) []byte {
	b, _ := json.Marshal(openBody{
		SID:          p.SID,
		Upgrades:     []string{},
		PingInterval: p.PingInterval.Milliseconds(),
		PingTimeout:  p.PingTimeout.Milliseconds(),
		MaxPayload:   p.MaxPayload,
	})
	return append([]byte{'0'}, b...)
}

// DecodeOpen parses an Engine.IO open packet.
func DecodeOpen(frame string) (OpenParams, bool) {
	if !strings.HasPrefix(frame, "0") {
		return OpenParams{}, false
	}
	var body openBody
	if err := json.Unmarshal([]byte(frame[1:]), &body); err != nil || body.SID == "" {
		return OpenParams{}, false
	}
	return OpenParams{
		SID:          body.SID,
		PingInterval: time.Duration(body.PingInterval) * time.Millisecond,
		PingTimeout:  time.Duration(body.PingTimeout) * time.Millisecond,
		MaxPayload:   body.MaxPayload,
	}, true
}

// EncodeConnect acknowledges a namespace connect on the default namespace.
func EncodeConnect(sid string) []byte {
	b, _ := json.Marshal(map[string]string{"sid": sid})
	return append([]byte(ConnectFrame), b...)
}

// EncodeConnectError refuses a namespace connect.
func EncodeConnectError(nsp, message string) []byte {
	b, _ := json.Marshal(map[string]string{"message": message})
	prefix := "44"
	if nsp != "" {
		prefix += nsp + ","
	}
	return append([]byte(prefix), b...)
}

// EncodeEvent builds a default-namespace EVENT packet: 42["event",data].
func EncodeEvent(event string, data any) ([]byte, error) {
	args := []any{event}
	if data != nil {
		args = append(args, data)
	}
	b, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return append([]byte("42"), b...), nil
}
