// Package version reports what build of ama is running.
package version

import "runtime/debug"

// Set with -ldflags "-X github.com/d9705996/ama/internal/version.Version=v1.2.3"
// and likewise for Commit and Date. Commit and Date fall back to the VCS
// stamp Go embeds when building from a checkout.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch {
		case s.Key == "vcs.revision" && Commit == "unknown":
			Commit = s.Value
		case s.Key == "vcs.time" && Date == "unknown":
			Date = s.Value
		}
	}
}
