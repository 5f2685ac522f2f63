// devtools-tail connects to a relay as a dashboard and prints device list
// updates and plugin:up traffic as JSON lines.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/DorianMazur/rn-devtools/interfaces/go/client"
	"github.com/DorianMazur/rn-devtools/internal/domain"
	"github.com/DorianMazur/rn-devtools/pkg/shared/redact"
)

type options struct {
	url         string
	plugin      string
	event       string
	device      string
	sendEvent   string
	sendPayload string
	redact      bool
	timeout     time.Duration
	verbose     bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "devtools-tail:", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := pflag.NewFlagSet("devtools-tail", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.url, "url", "ws://localhost:35515", "relay address")
	fs.StringVar(&o.plugin, "plugin", "", "only show this plugin id")
	fs.StringVar(&o.event, "event", "", "only show this event")
	fs.StringVar(&o.device, "device", "", "only show this device; also the target for --send-event")
	fs.StringVar(&o.sendEvent, "send-event", "", "send one plugin:down with this event and exit")
	fs.StringVar(&o.sendPayload, "send-payload", "", "JSON payload for --send-event")
	fs.BoolVar(&o.redact, "redact", false, "mask sensitive-looking payload fields")
	fs.DurationVar(&o.timeout, "connect-timeout", 10*time.Second, "give up if the relay is unreachable for this long")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "log connection state to stderr")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.sendEvent != "" {
		if o.plugin == "" || o.device == "" {
			return o, errors.New("--send-event needs --plugin and --device")
		}
		if o.sendPayload != "" && !json.Valid([]byte(o.sendPayload)) {
			return o, errors.New("--send-payload is not valid JSON")
		}
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	level := zerolog.WarnLevel
	if o.verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: stderr, NoColor: true}).Level(level).With().Timestamp().Logger()

	conn, err := client.New(client.Options{URL: o.url, Role: client.RoleDashboard, Logger: &logger})
	if err != nil {
		return err
	}
	defer conn.Close()

	out := &lineWriter{enc: json.NewEncoder(stdout)}
	if o.sendEvent == "" {
		client.Devices(conn, func(list []client.Device) {
			out.write(map[string]any{"type": domain.EventDevicesUpdate, "devices": list})
		})
		conn.On(domain.EventPluginUp, func(data json.RawMessage) {
			var msg domain.PluginMessage
			if err := json.Unmarshal(data, &msg); err != nil || !o.matches(msg) {
				return
			}
			if o.redact && len(msg.Payload) > 0 {
				msg.Payload = json.RawMessage(redact.RedactJSON(string(msg.Payload)))
			}
			out.write(map[string]any{"type": domain.EventPluginUp, "message": msg})
		})
	}

	conn.Start(ctx)
	waitCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	if err := conn.WaitConnected(waitCtx); err != nil {
		return fmt.Errorf("connect %s: %w", o.url, err)
	}

	if o.sendEvent != "" {
		var payload any
		if o.sendPayload != "" {
			payload = json.RawMessage(o.sendPayload)
		}
		p := client.NewDashboardPlugin(conn, o.plugin, func() string { return o.device })
		if err := p.SendMessage(o.sendEvent, payload); err != nil {
			return err
		}
		out.write(map[string]any{"type": "sent", "pluginId": o.plugin, "deviceId": o.device, "event": o.sendEvent})
		return nil
	}

	<-ctx.Done()
	return nil
}

func (o options) matches(msg domain.PluginMessage) bool {
	if o.plugin != "" && msg.PluginID != domain.SanitizePluginID(o.plugin) {
		return false
	}
	if o.event != "" && msg.Event != o.event {
		return false
	}
	if o.device != "" && msg.DeviceID != o.device {
		return false
	}
	return true
}

type lineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (w *lineWriter) write(v any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.enc.Encode(v)
}
