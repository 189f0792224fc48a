// Package version holds build metadata, set with -ldflags -X at link time.
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the metadata for the -version flag and the status page.
func String() string {
	return fmt.Sprintf("body %s (%s, built %s)", Version, GitSHA, BuildTime)
}
