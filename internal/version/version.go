// Package version holds build information stamped in with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/cpplab/closedloop/internal/version.Version=1.2.0" ./cmd/cpp-live
//
// The values are recorded in every session's metadata.
package version

var (
	// Version is the release of cpp-live that ran the session.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is when the binary was built.
	BuildTime = "unknown"
)
