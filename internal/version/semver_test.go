package version

import "testing"

func TestParseSemver(t *testing.T) {
	tests := []struct {
		input string
		want  [3]int
	}{
		// Release tags as injected by the build and echoed by /healthz
		{"v1.2.3", [3]int{1, 2, 3}},
		{"1.2.3", [3]int{1, 2, 3}},
		{"v0.10.0", [3]int{0, 10, 0}},

		// Prerelease and build metadata do not affect the core version
		{"v2.0.0-rc.1", [3]int{2, 0, 0}},
		{"v1.0.0+build123", [3]int{1, 0, 0}},
		{"v1.0.0-beta+exp.sha.5114f85", [3]int{1, 0, 0}},

		// Module versions reported for `go install` builds
		{"v0.0.0-20260301120000-abcdef123456", [3]int{0, 0, 0}},
		{"v1.4.3-0.20260301120000-abcdef123456", [3]int{1, 4, 3}},

		// Missing parts default to zero
		{"v2.1", [3]int{2, 1, 0}},
		{"v5", [3]int{5, 0, 0}},

		// Development builds carry no core version
		{"devel+0123456789ab", [3]int{0, 0, 0}},
		{"devel+0123456789ab+dirty", [3]int{0, 0, 0}},
		{"dev", [3]int{0, 0, 0}},
		{"", [3]int{0, 0, 0}},
		{"v1.x.3", [3]int{0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseSemver(tt.input); got != tt.want {
				t.Errorf("parseSemver(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsNewer(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"v1.0.0", "v0.9.9", true},
		{"v0.10.0", "v0.9.0", true},
		{"v1.0.1", "v1.0.0", true},
		{"v1.2.3", "v1.2.3", false},
		{"v1.0.0", "v1.0.1", false},

		// A leading v on only one side still compares by number
		{"1.3.0", "v1.2.9", true},
		{"v1.2.9", "1.3.0", false},

		// Same core version: neither side is newer
		{"v1.0.0-beta", "v1.0.0", false},
		{"v1.0.0", "v1.0.0-beta", false},
		{"v1.0.0+build1", "v1.0.0+build2", false},

		// A pseudo-version after a tag is newer than the tag
		{"v1.4.3-0.20260301120000-abcdef123456", "v1.4.2", true},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			if got := isNewer(tt.a, tt.b); got != tt.want {
				t.Errorf("isNewer(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestCompareIgnoresPrefixAndPrerelease(t *testing.T) {
	tests := []struct {
		client, server string
		want           Skew
	}{
		// /healthz may report the tag without its v
		{"v1.2.0", "1.2.0", SkewNone},
		{"1.3.0", "v1.2.0", SkewServerOlder},
		{"v1.2.0-rc.2", "v1.2.0", SkewNone},
		// Development builds on either side are never flagged
		{"devel+0123456789ab+dirty", "v9.9.9", SkewUnknown},
		{"v0.1.0", "devel+0123456789ab", SkewUnknown},
	}

	for _, tt := range tests {
		if got := Compare(tt.client, tt.server); got != tt.want {
			t.Errorf("Compare(%q, %q) = %v, want %v", tt.client, tt.server, got, tt.want)
		}
	}
}
