// Package version exposes build metadata stamped at link time.
package version

import "runtime"

// Overridden via -ldflags "-X github.com/sagaforge/sagaforge/pkg/version.Version=..."
// and friends; defaults apply to plain go build.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)
