// Package version carries build metadata stamped in via -ldflags.
package version

var (
	// Version is the release tag, or "dev" for unstamped local builds.
	Version = "dev"
	// GitSHA identifies the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime records when the binary was built.
	BuildTime = "unknown"
)
