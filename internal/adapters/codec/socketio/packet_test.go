package socketio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		frame string
		kind  FrameKind
		nsp   string
	}{
		{"0{\"sid\":\"x\"}", FrameOpen, ""},
		{"1", FrameClose, ""},
		{"2", FramePing, ""},
		{"3", FramePong, ""},
		{"6", FrameNoop, ""},
		{"40", FrameConnect, ""},
		{"40{\"token\":\"t\"}", FrameConnect, ""},
		{"40/admin,", FrameConnect, "/admin"},
		{"40/,{}", FrameConnect, ""},
		{"41", FrameDisconnect, ""},
		{"44{\"message\":\"no\"}", FrameConnectError, ""},
		{"42[\"a\"]", FrameEvent, ""},
		{"42/x,[\"a\"]", FrameEvent, "/x"},
		{"451-/bin,[\"a\"]", FrameEvent, "/bin"},
		{"43[]", FrameAck, ""},
		{"4", FrameUnknown, ""},
		{"49", FrameUnknown, ""},
		{"", FrameUnknown, ""},
		{"x", FrameUnknown, ""},
	}
	for _, tc := range cases {
		kind, nsp := Classify(tc.frame)
		assert.Equal(t, tc.kind, kind, tc.frame)
		assert.Equal(t, tc.nsp, nsp, tc.frame)
	}
}

func TestOpenRoundTrip(t *testing.T) {
	frame := EncodeOpen(OpenParams{SID: "abc", PingInterval: 25 * time.Second, PingTimeout: 20 * time.Second, MaxPayload: 1 << 20})
	assert.JSONEq(t, `{"sid":"abc","upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1048576}`, string(frame[1:]))
	assert.Equal(t, byte('0'), frame[0])

	p, ok := DecodeOpen(string(frame))
	require.True(t, ok)
	assert.Equal(t, "abc", p.SID)
	assert.Equal(t, 25*time.Second, p.PingInterval)

	_, ok = DecodeOpen("0{}")
	assert.False(t, ok, "sid is required")
}

func TestEncodeConnect(t *testing.T) {
	assert.Equal(t, `40{"sid":"s1"}`, string(EncodeConnect("s1")))
	assert.Equal(t, `44/admin,{"message":"Invalid namespace"}`, string(EncodeConnectError("/admin", "Invalid namespace")))
	assert.Equal(t, `44{"message":"nope"}`, string(EncodeConnectError("", "nope")))
}

func TestEncodeEvent(t *testing.T) {
	b, err := EncodeEvent("plugin:up", map[string]string{"pluginId": "mmkv"})
	require.NoError(t, err)
	assert.Equal(t, `42["plugin:up",{"pluginId":"mmkv"}]`, string(b))

	b, err = EncodeEvent("all-devices-update", []int{})
	require.NoError(t, err)
	assert.Equal(t, `42["all-devices-update",[]]`, string(b))

	b, err = EncodeEvent("bare", nil)
	require.NoError(t, err)
	assert.Equal(t, `42["bare"]`, string(b))

	_, err = EncodeEvent("bad", func() {})
	assert.Error(t, err)

	nsp, args, ok := ParseEvent(string(b))
	assert.True(t, ok)
	assert.Equal(t, "", nsp)
	ev, _, ok := EventData(args)
	assert.True(t, ok)
	assert.Equal(t, "bare", ev)
}
