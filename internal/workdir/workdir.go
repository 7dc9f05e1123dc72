// Package workdir locates the directory holding a navsync store, so commands
// work from anywhere below it and several checkouts can share one store via
// a .navsync-root file.
package workdir

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	storeDir = ".navsync"
	rootFile = ".navsync-root"
)

// ResolveBaseDir walks up from start to the nearest directory that contains
// a .navsync store or a .navsync-root redirect. A redirect holds the path of
// the directory to use; relative paths are taken from the file's directory.
// When nothing is found, start is returned unchanged.
func ResolveBaseDir(start string) string {
	dir, err := filepath.Abs(start)
	if err != nil {
		return start
	}
	for {
		if target, ok := readRootFile(dir); ok {
			return target
		}
		if fi, err := os.Stat(filepath.Join(dir, storeDir)); err == nil && fi.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}

func readRootFile(dir string) (string, bool) {
	content, err := os.ReadFile(filepath.Join(dir, rootFile))
	if err != nil {
		return "", false
	}
	resolved := strings.TrimSpace(string(content))
	if resolved == "" {
		return "", false
	}
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(dir, resolved)
	}
	return filepath.Clean(resolved), true
}
