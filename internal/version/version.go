// Package version exposes build metadata injected via -ldflags.
package version

var (
	// Version is the release version, "0.0.0" for local builds.
	Version = "0.0.0"
	// GitCommit is the commit hash the binary was built from.
	GitCommit = "unknown"
	// BuildDate is the UTC timestamp of the build.
	BuildDate = "unknown"
)
