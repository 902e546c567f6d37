// Package version exposes build metadata stamped in via -ldflags.
package version

var (
	// Version is the release version (set via -ldflags).
	Version = ""
	// Commit is the git commit hash (set via -ldflags).
	Commit = ""
	// BuildTime is the build timestamp (set via -ldflags).
	BuildTime = ""
)

// devVersion marks builds without stamped release metadata.
const devVersion = "0.0.0-dev"

type Info struct {
	Version   string
	Commit    string
	BuildTime string
}

// Resolve fills in a usable version for unstamped builds: the development
// placeholder, suffixed with the build timestamp when one was stamped.
func Resolve() Info {
	info := Info{Version: Version, Commit: Commit, BuildTime: BuildTime}
	if info.Version == "" {
		info.Version = devVersion
		if info.BuildTime != "" {
			info.Version = devVersion + "+" + info.BuildTime
		}
	}
	return info
}

// String renders "version (commit)" for logs and the version command.
func String() string {
	info := Resolve()
	if info.Commit == "" {
		return info.Version
	}
	return info.Version + " (" + shortCommit(info.Commit) + ")"
}

func shortCommit(commit string) string {
	if len(commit) <= 8 {
		return commit
	}
	return commit[:8]
}
