package core

import (
	"runtime/debug"
	"strings"
)

// Version is the build's reported version, resolved once at init from
// the module build metadata.
var Version = "devel"

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		Version = resolveVersion(info)
	}
}

// resolveVersion prefers the tagged module version and falls back to
// the VCS revision for local builds. Pseudo-versions count as untagged
// since the short revision carries the same information with less noise.
func resolveVersion(info *debug.BuildInfo) string {
	if v := info.Main.Version; v != "" && v != "(devel)" && !isPseudoVersion(v) {
		return v
	}

	var revision string
	var dirty bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	if revision == "" {
		return "devel"
	}

	if len(revision) > 7 {
		revision = revision[:7]
	}
	v := "devel-" + revision
	if dirty {
		v += "-dirty"
	}
	return v
}

// FormatVersion formats the version string for display. Tagged releases
// have the "v" prefix stripped; devel versions pass through as-is.
func FormatVersion(v string) string {
	return strings.TrimPrefix(v, "v")
}

// isPseudoVersion reports whether v looks like a Go module
// pseudo-version, i.e. ends with a 12-character hex commit hash as in
// v0.0.0-20260217105831-82903d1d8810.
func isPseudoVersion(v string) bool {
	// Ignore build metadata (+dirty, +incompatible, ...)
	if i := strings.Index(v, "+"); i >= 0 {
		v = v[:i]
	}
	i := strings.LastIndex(v, "-")
	if i < 0 {
		return false
	}
	hash := v[i+1:]
	if len(hash) != 12 {
		return false
	}
	for _, c := range hash {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
