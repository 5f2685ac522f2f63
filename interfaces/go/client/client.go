package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/DorianMazur/rn-devtools/internal/domain"
)

// API is a small HTTP client for the relay's read-only endpoints.
type API struct {
	BaseURL string
	HTTP    *http.Client
}

func NewAPI(baseURL string) *API {
	return &API{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: http.DefaultClient}
}

type Version struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date,omitempty"`
}

// APIError is a non-200 reply from the relay.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("relay api: status %d", e.Status)
	}
	return fmt.Sprintf("relay api: %s: %s", e.Code, e.Message)
}

func (a *API) ListDevices(ctx context.Context) ([]Device, error) {
	var out struct {
		Devices []domain.DeviceSnapshot `json:"devices"`
	}
	if err := a.get(ctx, "/api/devices", &out); err != nil {
		return nil, err
	}
	return out.Devices, nil
}

func (a *API) Version(ctx context.Context) (Version, error) {
	var v Version
	err := a.get(ctx, "/api/version", &v)
	return v, err
}

func (a *API) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error APIError `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		body.Error.Status = resp.StatusCode
		return fmt.Errorf("GET %s: %w", path, &body.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
