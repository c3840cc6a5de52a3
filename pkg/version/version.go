// Package version exposes the build identity stamped into the sensoria
// binary.
package version

import "runtime/debug"

// Populated by the release build via -ldflags "-X". Development builds fall
// back to the embedded module build info through InitBinaryVersion.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

const (
	unstampedVersion = "dev"
	unstampedField   = "unknown"
	develVersion     = "(devel)"
)

// InitBinaryVersion fills any unstamped field from the build info embedded in
// the binary. Stamped values win.
func InitBinaryVersion() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	if Version == unstampedVersion && info.Main.Version != "" && info.Main.Version != develVersion {
		Version = info.Main.Version
	}

	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if Commit == unstampedField {
				Commit = s.Value
			}
		case "vcs.time":
			if Date == unstampedField {
				Date = s.Value
			}
		}
	}
}
