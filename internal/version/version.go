// Package version exposes the build identity of the running binary.
//
// Version, Commit, and Date default to development placeholders and are
// overridden at release time:
//
//	go build -ldflags "-X github.com/tubemux/tubemux/internal/version.Version=x.y.z \
//	                   -X github.com/tubemux/tubemux/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/tubemux/tubemux/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"fmt"
	"runtime"
)

// ApplicationName is the canonical name of this service.
const ApplicationName = "tubemux"

var (
	// Version is the semantic version of the build, or "dev".
	Version = "dev"
	// Commit is the full git commit SHA the binary was built from.
	Commit = "unknown"
	// Date is the RFC3339 build timestamp.
	Date = "unknown"
)

// Info is the version payload served by the version endpoint.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo collects the build identity plus runtime platform details.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// shortCommit abbreviates a known commit SHA to eight characters.
func shortCommit() string {
	if Commit == "unknown" || len(Commit) < 8 {
		return ""
	}
	return Commit[:8]
}

// String renders the full version line printed by the version command.
func String() string {
	info := GetInfo()
	if sc := shortCommit(); sc != "" {
		return fmt.Sprintf("%s version %s (commit: %s, built: %s, %s, %s)",
			ApplicationName, info.Version, sc, info.Date, info.GoVersion, info.Platform)
	}
	return fmt.Sprintf("%s version %s (%s, %s)", ApplicationName, info.Version, info.GoVersion, info.Platform)
}

// Short renders the compact form used for cobra's --version flag.
func Short() string {
	if sc := shortCommit(); sc != "" {
		return fmt.Sprintf("%s %s (%s)", ApplicationName, Version, sc)
	}
	return fmt.Sprintf("%s %s", ApplicationName, Version)
}

// UserAgent identifies this service to the upstream API.
func UserAgent() string {
	return ApplicationName + "/" + Version
}
