// Package install locates the directory trace-launcher was installed into.
package install

import (
	"fmt"
	"os"
	"path/filepath"
)

// buildDirs are directory names produced by a local build; a launcher running
// from one of them sits three levels below the bundle it belongs to
// (<dist>/<launcher project>/target/<release|debug>).
var buildDirs = map[string]bool{
	"release": true,
	"debug":   true,
}

// DistDir returns the bundle root for a launcher executable at exePath.
func DistDir(exePath string) (string, error) {
	abs, err := filepath.Abs(exePath)
	if err != nil {
		return "", fmt.Errorf("resolve executable path: %w", err)
	}

	dir := filepath.Dir(abs)
	root := dir
	if buildDirs[filepath.Base(dir)] {
		if up, ok := climb(dir, 3); ok {
			root = up
		}
	}

	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("resolve install root %s: %w", root, err)
	}
	return resolved, nil
}

// Root returns the bundle root for the running executable.
func Root() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	return DistDir(exe)
}

func climb(dir string, levels int) (string, bool) {
	for i := 0; i < levels; i++ {
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
	return dir, true
}
