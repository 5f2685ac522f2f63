package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/DorianMazur/rn-devtools/internal/infrastructure/config"
	obs "github.com/DorianMazur/rn-devtools/internal/infrastructure/observability"
	"github.com/DorianMazur/rn-devtools/internal/usecase"
)

type Deps struct {
	Cfg      config.Config
	Logger   *zerolog.Logger
	Metrics  *obs.Metrics
	Hub      *Hub
	Registry usecase.DeviceRegistry
}

func NewRouter(d *Deps) http.Handler {
	return withCORS(d.Cfg, buildBaseMux(d))
}

// buildBaseMux constructs the mux with all routes, without wrappers.
func buildBaseMux(d *Deps) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.Hub == nil || !d.Hub.Ready() {
			writeError(w, http.StatusServiceUnavailable, codeNotReady, "relay is not running", nil)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if d.Metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry(), promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		b := obs.Build()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":    b.Name,
			"version": b.Version,
			"commit":  b.Commit,
			"date":    b.Date,
			"time":    time.Now().UTC(),
		})
	})

	// Read-only view of the device list dashboards receive
	mux.HandleFunc("/api/devices", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "use GET", nil)
			return
		}
		if d.Registry == nil {
			writeError(w, http.StatusServiceUnavailable, codeNotReady, "registry unavailable", nil)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"devices": d.Registry.ListDevices()})
	})

	if d.Hub != nil {
		mux.HandleFunc("/socket.io/", d.Hub.HandleSocketIO)
	}
	return mux
}

func withCORS(cfg config.Config, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", cfg.CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Sec-WebSocket-Protocol")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}
