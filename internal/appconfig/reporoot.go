package appconfig

import (
	"os"
	"path/filepath"
	"strings"
)

// FindRepoRoot walks up from start to the nearest directory holding a .git
// directory, a go.mod, a stack descriptor or a repo config file.
func FindRepoRoot(start string) string {
	start = strings.TrimSpace(start)
	if start == "" {
		return ""
	}
	info, err := os.Stat(start)
	if err == nil && !info.IsDir() {
		start = filepath.Dir(start)
	}
	current := start
	for {
		if isRepoRoot(current) {
			return current
		}
		parent := filepath.Dir(current)
		if parent == current {
			return ""
		}
		current = parent
	}
}

func isRepoRoot(dir string) bool {
	if dir == "" {
		return false
	}
	if fi, err := os.Stat(filepath.Join(dir, ".git")); err == nil && fi.IsDir() {
		return true
	}
	if fi, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil && !fi.IsDir() {
		return true
	}
	for _, name := range []string{RepoFile, "fnstack.yaml"} {
		if fi, err := os.Stat(filepath.Join(dir, name)); err == nil && !fi.IsDir() {
			return true
		}
	}
	return false
}
