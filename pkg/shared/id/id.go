package id

import "github.com/google/uuid"

// New returns a random identifier used for connections and Engine.IO sessions.
func New() string {
	return uuid.NewString()
}
