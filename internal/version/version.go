package version

// Variables populated via -ldflags at build time.
// Example:
//   go build -ldflags "-X 'github.com/dengwxn/nexus/internal/version.Version=1.0.0' -X 'github.com/dengwxn/nexus/internal/version.Commit=$(git rev-parse --short HEAD)' -X 'github.com/dengwxn/nexus/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)'"
var (
    Version = "dev"
    Commit  = ""
    Date    = ""
)

// Full returns a human friendly version string.
func Full() string {
    if Commit == "" {
        return Version
    }
    return Version + "+" + Commit
}
