// Package build holds build-time metadata stamped via -ldflags.
package build

var (
	// ProjectName is used as the namespace for all exported metrics.
	ProjectName = "peerdex"

	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
