package domain

// Role is the identity a connection announces for itself.
type Role string

const (
	RoleDevice    Role = "device"
	RoleDashboard Role = "dashboard"
)

// legacyDashboardName is the deviceName older dashboard builds put in the
// handshake query instead of a role.
const legacyDashboardName = "Dashboard"

// Direction of a routed plugin message.
type Direction string

const (
	DirectionUp   Direction = "up"   // device -> dashboards
	DirectionDown Direction = "down" // dashboard -> device
)
