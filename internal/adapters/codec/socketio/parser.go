package socketio

import (
	"encoding/json"
	"strings"
)

// ParseEvent splits a Socket.IO v5 EVENT packet, 42[/nsp,][ack][args], into
// its namespace and args array. The default namespace is "". The event name
// is left to EventData. Binary events (45) are rejected since attachments are
// never reassembled.
func ParseEvent(s string) (nsp, argsJSON string, ok bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "42") {
		return "", "", false
	}
	nsp, payload, ok := splitNamespaceAndAck(s[2:])
	if !ok || !strings.HasPrefix(payload, "[") {
		return "", "", false
	}
	return nsp, payload, true
}

// EventData splits an event args array into its name and first argument.
// A missing argument yields nil data.
func EventData(argsJSON string) (string, json.RawMessage, bool) {
	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(argsJSON), &arr); err != nil || len(arr) == 0 {
		return "", nil, false
	}
	var name string
	if err := json.Unmarshal(arr[0], &name); err != nil || name == "" {
		return "", nil, false
	}
	if len(arr) < 2 {
		return name, nil, true
	}
	return name, arr[1], true
}

// splitNamespaceAndAck strips an optional "/nsp," prefix and ack id digits.
func splitNamespaceAndAck(payload string) (string, string, bool) {
	if strings.HasPrefix(payload, ",") {
		payload = payload[1:]
	}
	nsp := ""
	if strings.HasPrefix(payload, "/") {
		idx := strings.IndexByte(payload, ',')
		if idx <= 0 {
			return "", "", false
		}
		nsp = payload[:idx]
		payload = payload[idx+1:]
	}
	if i := strings.IndexByte(payload, '['); i > 0 {
		if isDigits(payload[:i]) {
			payload = payload[i:]
		}
	}
	return nsp, payload, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
