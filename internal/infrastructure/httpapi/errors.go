package httpapi

import (
	"encoding/json"
	"net/http"
)

// Error codes returned in the JSON error body.
const (
	codeUnsupportedProtocol  = "UNSUPPORTED_PROTOCOL"
	codeUnsupportedTransport = "UNSUPPORTED_TRANSPORT"
	codeNotReady             = "NOT_READY"
	codeMethodNotAllowed     = "METHOD_NOT_ALLOWED"
)

// errorEnvelope is {"error":{"code","message","details"}}.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	if code == "" {
		code = http.StatusText(status)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: errorBody{Code: code, Message: message, Details: details}})
}
