package main

import (
	"github.com/marcus/navsync/cmd"
	"github.com/marcus/navsync/internal/version"
)

// Version may be set at build time via -ldflags "-X main.Version=...".
// If left as "dev", it is derived from Go build info.
var Version = "dev"

func main() {
	cmd.SetVersion(version.Effective(Version))
	cmd.Execute()
}
