package redact

import (
	"encoding/json"
	"strings"
)

// Substrings that mark a key as sensitive, matched case-insensitively.
var sensitiveKeys = []string{"authorization", "cookie", "token", "secret", "password", "passwd", "session", "apikey", "api_key", "private"}

const mask = "***"

// Map returns a copy of m with sensitive values masked. Handshake metadata
// such as envVariables goes through here before it reaches a log line.
func Map(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			out[k] = mask
			continue
		}
		out[k] = v
	}
	return out
}

// RedactJSON masks sensitive fields in a JSON string best-effort.
func RedactJSON(s string) string {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	redactNode(&v)
	b, err := json.Marshal(v)
	if err != nil {
		return s
	}
	return string(b)
}

func redactNode(n *any) {
	switch t := (*n).(type) {
	case map[string]any:
		for k, v := range t {
			if isSensitiveKey(k) {
				t[k] = mask
				continue
			}
			vv := any(v)
			redactNode(&vv)
			t[k] = vv
		}
	case []any:
		for i := range t {
			vv := any(t[i])
			redactNode(&vv)
			t[i] = vv
		}
	}
}

func isSensitiveKey(k string) bool {
	k = strings.ToLower(k)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
