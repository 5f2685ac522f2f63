package usecase

import (
	"errors"
	"time"

	"github.com/DorianMazur/rn-devtools/internal/domain"
)

var ErrEmptyDeviceID = errors.New("device id must not be empty")

// DeviceRegistry is the single source of truth for who is connected as what.
// It is owned by the Relay; nothing else mutates it.
type DeviceRegistry interface {
	// RegisterDashboard adds connID to the dashboard set. Idempotent.
	RegisterDashboard(connID string)
	// RegisterDevice creates or merges the device and adds connID to it.
	// Empty name/platform and nil meta leave the stored values untouched.
	RegisterDevice(deviceID, connID, name, platform string, meta *domain.DeviceMeta) error
	// DropConnection removes connID everywhere and reports whether any
	// device lost a connection.
	DropConnection(connID string) bool
	ListDevices() []domain.DeviceSnapshot
	IsDashboard(connID string) bool
	Dashboards() []string
	// DevicesOf returns the device ids connID registered as, oldest first.
	DevicesOf(connID string) []string
	// Connections returns the live connection ids of a device.
	Connections(deviceID string) []string
	// Touch refreshes lastSeen of a known device.
	Touch(deviceID string)
	// EvictOffline removes devices offline since before cutoff.
	EvictOffline(cutoff time.Time) []string
	Stats() RegistryStats
}

type RegistryStats struct {
	DevicesOnline  int
	DevicesOffline int
	Dashboards     int
}
