// Package version resolves the binary's own version, either from the value
// injected at link time by the release process or from the module build info.
package version

import (
	"fmt"
	"runtime/debug"
)

// Overridden with ldflags on release builds.
var version = ""

func GetVersion() string {
	if version != "" {
		return version
	}

	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "unknown"
	}

	ver := info.Main.Version
	if info.Main.Sum != "" {
		ver += fmt.Sprintf(" (%s)", info.Main.Sum)
	}
	return ver
}
