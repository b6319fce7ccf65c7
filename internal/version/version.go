// Package version reports the fnstack build.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Overridden at build time via -ldflags "-X ...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

type Info struct {
	Version   string
	GitCommit string
	BuildDate string
	GoVersion string
	Platform  string
}

// Get returns the linker-provided values, falling back to the module build
// info for binaries installed with go install.
func Get() Info {
	info := Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "unknown" {
				info.GitCommit = s.Value
			}
		case "vcs.time":
			if info.BuildDate == "unknown" {
				info.BuildDate = s.Value
			}
		}
	}
	return info
}
