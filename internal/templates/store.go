// Package templates resolves runtime identifiers to locally available
// template directories.
package templates

import (
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFile lists patterns a template excludes from function sources.
const IgnoreFile = ".dockerignore"

// Store answers whether a runtime template is present locally and where.
type Store interface {
	Available(runtime string) bool
	Path(runtime string) string
}

// Dir is a Store rooted at a directory laid out as
// {root}/{repository}/{template}. Runtime identifiers without a repository
// prefix resolve directly under root.
type Dir struct {
	Root string
}

// NewDir returns a Store over root.
func NewDir(root string) *Dir {
	return &Dir{Root: root}
}

// Path returns the template directory for runtime, whether or not it exists.
func (d *Dir) Path(runtime string) string {
	parts := strings.Split(strings.Trim(strings.TrimSpace(runtime), "/"), "/")
	clean := make([]string, 0, len(parts)+1)
	clean = append(clean, d.Root)
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			continue
		}
		clean = append(clean, p)
	}
	return filepath.Join(clean...)
}

// Available reports whether the template directory exists and carries a
// Dockerfile.
func (d *Dir) Available(runtime string) bool {
	if strings.TrimSpace(runtime) == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(d.Path(runtime), "Dockerfile"))
	return err == nil && !info.IsDir()
}
