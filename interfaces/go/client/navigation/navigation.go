// Package navigation carries react-navigation commands over the plugin bus.
// Only a fixed set of methods is accepted; anything else is rejected rather
// than invoked by name.
package navigation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DorianMazur/rn-devtools/interfaces/go/client"
)

const (
	PluginID          = "react-navigation"
	EventState        = "state"
	EventStateRequest = "state.request"
	EventInvoke       = "navigation.invoke"
)

var ErrUnknownMethod = errors.New("navigation: unknown method")

// Command is one of ResetRoot, Navigate, Dispatch or GoBack.
type Command interface {
	Method() string
	args() ([]any, error)
}

// ResetRoot replaces the navigation state. A nil State resets to the initial
// state.
type ResetRoot struct {
	State json.RawMessage
}

// Navigate goes to a route by name.
type Navigate struct {
	Name   string
	Params json.RawMessage
}

// Dispatch sends a raw navigation action.
type Dispatch struct {
	Action json.RawMessage
}

type GoBack struct{}

func (ResetRoot) Method() string { return "resetRoot" }
func (Navigate) Method() string  { return "navigate" }
func (Dispatch) Method() string  { return "dispatch" }
func (GoBack) Method() string    { return "goBack" }

func (c ResetRoot) args() ([]any, error) {
	if len(c.State) == 0 {
		return []any{}, nil
	}
	return []any{c.State}, nil
}

func (c Navigate) args() ([]any, error) {
	if c.Name == "" {
		return nil, errors.New("navigation: navigate needs a route name")
	}
	if len(c.Params) == 0 {
		return []any{c.Name}, nil
	}
	return []any{c.Name, c.Params}, nil
}

func (c Dispatch) args() ([]any, error) {
	if len(c.Action) == 0 {
		return nil, errors.New("navigation: dispatch needs an action")
	}
	return []any{c.Action}, nil
}

func (GoBack) args() ([]any, error) { return []any{}, nil }

type invoke struct {
	Method string            `json:"method"`
	Args   []json.RawMessage `json:"args,omitempty"`
}

// Encode builds the navigation.invoke payload for cmd.
func Encode(cmd Command) (json.RawMessage, error) {
	args, err := cmd.args()
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"method": cmd.Method(), "args": args})
}

// Decode parses a navigation.invoke payload.
func Decode(payload json.RawMessage) (Command, error) {
	var in invoke
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, fmt.Errorf("navigation: decode invoke: %w", err)
	}
	arg := func(i int) json.RawMessage {
		if i < len(in.Args) && string(in.Args[i]) != "null" {
			return in.Args[i]
		}
		return nil
	}
	switch in.Method {
	case "resetRoot":
		return ResetRoot{State: arg(0)}, nil
	case "navigate":
		return decodeNavigate(arg(0), arg(1))
	case "dispatch":
		if arg(0) == nil {
			return nil, errors.New("navigation: dispatch needs an action")
		}
		return Dispatch{Action: arg(0)}, nil
	case "goBack":
		return GoBack{}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownMethod, in.Method)
	}
}

// decodeNavigate accepts both navigate("Route", params) and
// navigate({name, params}).
func decodeNavigate(first, second json.RawMessage) (Command, error) {
	var name string
	if err := json.Unmarshal(first, &name); err == nil && name != "" {
		return Navigate{Name: name, Params: second}, nil
	}
	var obj struct {
		Name   string          `json:"name"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(first, &obj); err != nil || obj.Name == "" {
		return nil, errors.New("navigation: navigate needs a route name")
	}
	return Navigate{Name: obj.Name, Params: obj.Params}, nil
}

// Handler runs commands on the device. Nil funcs ignore their command.
type Handler struct {
	ResetRoot func(ResetRoot)
	Navigate  func(Navigate)
	Dispatch  func(Dispatch)
	GoBack    func()
	// State returns the current root state, sent on request
	State func() any
}

func (h Handler) Handle(cmd Command) {
	switch c := cmd.(type) {
	case ResetRoot:
		if h.ResetRoot != nil {
			h.ResetRoot(c)
		}
	case Navigate:
		if h.Navigate != nil {
			h.Navigate(c)
		}
	case Dispatch:
		if h.Dispatch != nil {
			h.Dispatch(c)
		}
	case GoBack:
		if h.GoBack != nil {
			h.GoBack()
		}
	}
}

// Bind wires h to plugin. onError (may be nil) receives rejected commands.
// The returned func removes both listeners.
func Bind(plugin *client.DevicePlugin, h Handler, onError func(error)) func() {
	unInvoke := plugin.AddMessageListener(EventInvoke, func(payload json.RawMessage) {
		cmd, err := Decode(payload)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		h.Handle(cmd)
	})
	unState := plugin.AddMessageListener(EventStateRequest, func(json.RawMessage) {
		_ = SendState(plugin, h)
	})
	return func() {
		unInvoke()
		unState()
	}
}

// SendState pushes the current state, if any, as a state event.
func SendState(plugin *client.DevicePlugin, h Handler) error {
	if h.State == nil {
		return nil
	}
	state := h.State()
	if state == nil {
		return nil
	}
	return plugin.SendMessage(EventState, map[string]any{"state": state})
}

// Invoke sends cmd from a dashboard to its current (or given) device.
func Invoke(plugin *client.DashboardPlugin, cmd Command, deviceOverride ...string) error {
	payload, err := Encode(cmd)
	if err != nil {
		return err
	}
	return plugin.SendMessage(EventInvoke, payload, deviceOverride...)
}

// RequestState asks the device to push its state.
func RequestState(plugin *client.DashboardPlugin, deviceOverride ...string) error {
	return plugin.SendMessage(EventStateRequest, struct{}{}, deviceOverride...)
}
