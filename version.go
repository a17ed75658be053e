package opsclient

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// ModulePath is the import path reported in version metadata.
const ModulePath = "github.com/ambiyansyah-risyal/opsclient"

// Release builds stamp these with -ldflags, for example
//
//	go build -ldflags "-X github.com/ambiyansyah-risyal/opsclient.GitCommit=$(git rev-parse --short HEAD)" ./cmd/opsctl
//
// Left empty, commit and build date fall back to the VCS stamp the go
// command embeds when building from a checkout.
var (
	Version   = "v0.4.0"
	GitCommit = ""
	BuildDate = ""
)

func buildStamp() (commit, date string) {
	commit, date = GitCommit, BuildDate
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			switch {
			case s.Key == "vcs.revision" && commit == "":
				commit = s.Value
			case s.Key == "vcs.time" && date == "":
				date = s.Value
			}
		}
	}
	if commit == "" {
		commit = "unknown"
	}
	if date == "" {
		date = "unknown"
	}
	return commit, date
}

// GetVersion is the one-line form printed by opsctl version.
func GetVersion() string {
	commit, date := buildStamp()
	return fmt.Sprintf("opsclient %s (commit %s, built %s, %s)", Version, commit, date, runtime.Version())
}

// GetVersionInfo is the form served on the ops API /version route.
func GetVersionInfo() map[string]string {
	commit, date := buildStamp()
	return map[string]string{
		"module":     ModulePath,
		"version":    Version,
		"commit":     commit,
		"build_date": date,
		"go_version": runtime.Version(),
	}
}
