// Package build holds version information stamped in at link time.
package build

import "fmt"

// Set with -ldflags "-X github.com/commonjava/folofix/pkg/build.Version=..."
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
	BuiltBy = "unknown"
)

// UserAgent identifies folofix to the tracking service.
func UserAgent() string {
	return fmt.Sprintf("folofix/%s (%s)", Version, Commit)
}
