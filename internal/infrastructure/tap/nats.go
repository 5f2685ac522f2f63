// Package tap mirrors routed relay traffic to NATS for external recorders.
package tap

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/DorianMazur/rn-devtools/internal/domain"
	obs "github.com/DorianMazur/rn-devtools/internal/infrastructure/observability"
	"github.com/DorianMazur/rn-devtools/internal/usecase"
)

// Publisher is the part of *nats.Conn the tap needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type NATSTap struct {
	pub    Publisher
	prefix string
	log    zerolog.Logger
}

var _ usecase.Tap = (*NATSTap)(nil)

func New(pub Publisher, prefix string, logger *zerolog.Logger) *NATSTap {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	if prefix = strings.Trim(prefix, "."); prefix == "" {
		prefix = "devtools"
	}
	return &NATSTap{pub: pub, prefix: prefix, log: l.With().Str("component", "tap").Logger()}
}

// Connect dials url and returns a tap publishing under prefix. The caller
// owns the returned connection.
func Connect(url, prefix string, logger *zerolog.Logger) (*NATSTap, *nats.Conn, error) {
	t := New(nil, prefix, logger)
	nc, err := nats.Connect(url,
		nats.Name(obs.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			t.log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			t.log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	t.pub = nc
	return t, nc, nil
}

func (t *NATSTap) PluginMessage(dir domain.Direction, msg domain.PluginMessage) {
	t.publish(t.Subject(string(dir), msg.DeviceID, msg.PluginID), msg)
}

func (t *NATSTap) Devices(list []domain.DeviceSnapshot) {
	t.publish(t.prefix+".devices", list)
}

// Subject builds <prefix>.<dir>.<device>.<plugin> with NATS-safe tokens.
func (t *NATSTap) Subject(dir, deviceID, pluginID string) string {
	return strings.Join([]string{t.prefix, token(dir), token(deviceID), token(pluginID)}, ".")
}

func (t *NATSTap) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		t.log.Debug().Err(err).Str("subject", subject).Msg("tap encode failed")
		return
	}
	if err := t.pub.Publish(subject, data); err != nil {
		t.log.Debug().Err(err).Str("subject", subject).Msg("tap publish failed")
	}
}

// token replaces subject separators, wildcards and whitespace with '_'.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		if r == '.' || r == '*' || r == '>' || unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, s)
}
