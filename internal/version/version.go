// Package version resolves the running build's version and compares client
// and server releases reported over /healthz.
package version

import (
	"runtime/debug"
	"strconv"
	"strings"
)

// Effective returns v when the build injected a release version. Otherwise
// it derives one from Go build info: the module version for `go install`
// builds, or devel+<revision>[+dirty] for local builds.
func Effective(v string) string {
	if v != "" && v != "dev" {
		return v
	}
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return v
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}

	var rev, modified string
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			modified = s.Value
		}
	}
	if rev == "" {
		return v
	}
	parts := []string{"devel", rev[:min(len(rev), 12)]}
	if modified == "true" {
		parts = append(parts, "dirty")
	}
	return strings.Join(parts, "+")
}

// IsDevelopmentVersion returns true for non-release versions.
func IsDevelopmentVersion(v string) bool {
	if v == "" || v == "unknown" || v == "dev" || v == "devel" {
		return true
	}
	return strings.HasPrefix(v, "devel+")
}

// Skew describes how a client release relates to the server's.
type Skew int

const (
	SkewUnknown Skew = iota // either side is a development build
	SkewNone
	SkewClientOlder
	SkewServerOlder
)

func (s Skew) String() string {
	switch s {
	case SkewNone:
		return "up to date"
	case SkewClientOlder:
		return "client is older than server"
	case SkewServerOlder:
		return "server is older than client"
	}
	return "unknown"
}

// Compare reports the skew between a client and a server version.
func Compare(client, server string) Skew {
	if IsDevelopmentVersion(client) || IsDevelopmentVersion(server) {
		return SkewUnknown
	}
	switch {
	case isNewer(server, client):
		return SkewClientOlder
	case isNewer(client, server):
		return SkewServerOlder
	}
	return SkewNone
}

// parseSemver extracts major.minor.patch, ignoring a leading v, prerelease
// and build metadata. Missing or non-numeric parts are zero.
func parseSemver(v string) [3]int {
	var out [3]int
	v = strings.TrimPrefix(v, "v")
	if i := strings.IndexByte(v, '+'); i >= 0 {
		v = v[:i]
	}
	if i := strings.IndexByte(v, '-'); i >= 0 {
		v = v[:i]
	}
	for i, p := range strings.SplitN(v, ".", 3) {
		n, err := strconv.Atoi(p)
		if err != nil {
			return [3]int{}
		}
		out[i] = n
	}
	return out
}

// isNewer reports whether a is a strictly higher core version than b.
func isNewer(a, b string) bool {
	va, vb := parseSemver(a), parseSemver(b)
	for i := range va {
		if va[i] != vb[i] {
			return va[i] > vb[i]
		}
	}
	return false
}
