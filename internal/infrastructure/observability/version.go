package observability

// Name identifies the relay in logs, metrics and /api/version.
const Name = "devtools-relay"

// Binary versioning for logs and metrics.
// Values are overwritten via -ldflags during build, e.g.
// -X github.com/DorianMazur/rn-devtools/internal/infrastructure/observability.Version=v1.2.0
var (
	Version = "dev"  // release version
	Commit  = "none" // short commit
	Date    = ""     // ISO8601 UTC build time
)

type BuildInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date,omitempty"`
}

func Build() BuildInfo {
	return BuildInfo{Name: Name, Version: Version, Commit: Commit, Date: Date}
}
