// Package relaytest runs a complete in-process relay for tests.
package relaytest

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DorianMazur/rn-devtools/internal/adapters/storage/memory"
	"github.com/DorianMazur/rn-devtools/internal/infrastructure/config"
	"github.com/DorianMazur/rn-devtools/internal/infrastructure/httpapi"
	obs "github.com/DorianMazur/rn-devtools/internal/infrastructure/observability"
	"github.com/DorianMazur/rn-devtools/internal/usecase"
)

type Server struct {
	*httptest.Server
	Hub      *httpapi.Hub
	Relay    *usecase.Relay
	Registry *memory.Registry
	Metrics  *obs.Metrics
}

// Start serves a relay until the test ends.
func Start(t testing.TB, opts httpapi.HubOptions) *Server {
	t.Helper()
	metrics := obs.NewMetrics()
	if opts.Metrics == nil {
		opts.Metrics = metrics
	}
	reg := memory.NewRegistry()
	hub := httpapi.NewHub(opts)
	relay := usecase.NewRelay(reg, hub, usecase.RelayOptions{Logger: opts.Logger, Metrics: metrics})
	hub.SetRelay(relay)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = relay.Run(ctx)
	}()

	srv := httptest.NewServer(httpapi.NewRouter(&httpapi.Deps{
		Cfg:      config.Defaults(),
		Logger:   opts.Logger,
		Metrics:  metrics,
		Hub:      hub,
		Registry: reg,
	}))
	t.Cleanup(func() {
		closeCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = hub.Close(closeCtx)
		cancel()
		<-done
		srv.Close()
	})
	return &Server{Server: srv, Hub: hub, Relay: relay, Registry: reg, Metrics: metrics}
}

// WSURL is the relay address in ws:// form.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}
