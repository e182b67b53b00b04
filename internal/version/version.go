// Package version carries build metadata injected at link time.
package version

import "fmt"

var (
	// Version is the semantic version, set via -ldflags.
	Version = "dev"
	// Commit is the VCS revision, set via -ldflags.
	Commit = "none"
	// Date is the build date, set via -ldflags.
	Date = "unknown"
)

// String renders the full build identifier.
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date)
}
