// Package version holds build version information.
package version

// Version is the semsync version, overridable at build time via
// -ldflags "-X github.com/semsync/semsync/internal/version.Version=...".
var Version = "0.3.0"
