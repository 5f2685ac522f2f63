package navigation

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DorianMazur/rn-devtools/interfaces/go/client"
	"github.com/DorianMazur/rn-devtools/internal/infrastructure/httpapi"
	"github.com/DorianMazur/rn-devtools/internal/relaytest"
)

func TestDecodeCommands(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    Command
	}{
		{"reset with state", `{"method":"resetRoot","args":[{"index":0}]}`, ResetRoot{State: json.RawMessage(`{"index":0}`)}},
		{"reset without args", `{"method":"resetRoot"}`, ResetRoot{}},
		{"navigate by name", `{"method":"navigate","args":["Home",{"id":1}]}`, Navigate{Name: "Home", Params: json.RawMessage(`{"id":1}`)}},
		{"navigate by object", `{"method":"navigate","args":[{"name":"Profile","params":{"u":"x"}}]}`, Navigate{Name: "Profile", Params: json.RawMessage(`{"u":"x"}`)}},
		{"dispatch", `{"method":"dispatch","args":[{"type":"POP"}]}`, Dispatch{Action: json.RawMessage(`{"type":"POP"}`)}},
		{"go back ignores args", `{"method":"goBack","args":[1,2]}`, GoBack{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode(json.RawMessage(tc.payload))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	_, err := Decode(json.RawMessage(`{"method":"constructor","args":[]}`))
	assert.ErrorIs(t, err, ErrUnknownMethod)

	_, err = Decode(json.RawMessage(`{"args":[]}`))
	assert.ErrorIs(t, err, ErrUnknownMethod)

	_, err = Decode(json.RawMessage(`{"method":"navigate","args":[]}`))
	assert.Error(t, err)

	_, err = Decode(json.RawMessage(`{"method":"dispatch"}`))
	assert.Error(t, err)

	_, err = Decode(json.RawMessage(`[]`))
	assert.Error(t, err)
}

func TestEncodeDecodeAgree(t *testing.T) {
	for _, cmd := range []Command{
		ResetRoot{State: json.RawMessage(`{"routes":[]}`)},
		Navigate{Name: "Home"},
		Navigate{Name: "Home", Params: json.RawMessage(`{"a":1}`)},
		Dispatch{Action: json.RawMessage(`{"type":"GO"}`)},
		GoBack{},
	} {
		payload, err := Encode(cmd)
		require.NoError(t, err)
		got, err := Decode(payload)
		require.NoError(t, err)
		assert.Equal(t, cmd, got, string(payload))
	}

	_, err := Encode(Navigate{})
	assert.Error(t, err)
	_, err = Encode(Dispatch{})
	assert.Error(t, err)
}

func TestHandlerSkipsNilFuncs(t *testing.T) {
	var calls []string
	h := Handler{GoBack: func() { calls = append(calls, "back") }}
	h.Handle(Navigate{Name: "x"})
	h.Handle(GoBack{})
	assert.Equal(t, []string{"back"}, calls)
}

func TestBindOverRelay(t *testing.T) {
	srv := relaytest.Start(t, httpapi.HubOptions{})
	ctx := context.Background()

	dash, err := client.New(client.Options{URL: srv.WSURL(), Role: client.RoleDashboard, MinBackoff: 20 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dash.Close() })
	online := make(chan struct{}, 1)
	client.Devices(dash, func(list []client.Device) {
		for _, d := range list {
			if d.DeviceID == "phone" && d.IsConnected {
				select {
				case online <- struct{}{}:
				default:
				}
			}
		}
	})
	dash.Start(ctx)

	dev, err := client.New(client.Options{URL: srv.WSURL(), DeviceID: "phone", MinBackoff: 20 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })

	var mu sync.Mutex
	var navigated []Navigate
	errs := make(chan error, 1)
	done := make(chan struct{}, 4)
	Bind(client.NewDevicePlugin(dev, PluginID), Handler{
		Navigate: func(n Navigate) {
			mu.Lock()
			navigated = append(navigated, n)
			mu.Unlock()
			done <- struct{}{}
		},
		State: func() any { return map[string]int{"index": 2} },
	}, func(err error) { errs <- err })
	dev.Start(ctx)

	select {
	case <-online:
	case <-time.After(3 * time.Second):
		t.Fatal("device never came online")
	}

	states := make(chan json.RawMessage, 1)
	dashNav := client.NewDashboardPlugin(dash, PluginID, func() string { return "phone" })
	dashNav.AddMessageListener(EventState, func(p json.RawMessage, _ client.Meta) { states <- p })

	require.NoError(t, Invoke(dashNav, Navigate{Name: "Settings", Params: json.RawMessage(`{"tab":"a"}`)}))
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("navigate not delivered")
	}
	mu.Lock()
	assert.Equal(t, "Settings", navigated[0].Name)
	assert.JSONEq(t, `{"tab":"a"}`, string(navigated[0].Params))
	mu.Unlock()

	require.NoError(t, dashNav.SendMessage(EventInvoke, map[string]any{"method": "eval", "args": []string{"x"}}))
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrUnknownMethod)
	case <-time.After(3 * time.Second):
		t.Fatal("unknown method not reported")
	}

	require.NoError(t, RequestState(dashNav))
	select {
	case p := <-states:
		assert.JSONEq(t, `{"state":{"index":2}}`, string(p))
	case <-time.After(3 * time.Second):
		t.Fatal("state not pushed")
	}
}
