// Package utils carries small cross-cutting helpers and the build metadata
// stamped into release binaries.
package utils

import "runtime/debug"

// Overridden at link time by the release pipeline; left at their zero
// values in plain `go build` binaries.
var (
	Version   = "dev"
	Commit    = ""
	BuildDate = ""
)

// Revision resolves the commit hash: the linker-stamped value when present,
// otherwise whatever VCS revision the Go toolchain embedded.
func Revision() string {
	if Commit != "" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				return s.Value
			}
		}
	}
	return "unknown"
}
