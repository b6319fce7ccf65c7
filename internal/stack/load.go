// File: internal/stack/load.go
// Brief: Descriptor decoding.

package stack

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the descriptor name looked up when no path is given.
const DefaultFile = "fnstack.yaml"

// Load reads a stack descriptor. The descriptor is expected to be schema-valid;
// only decoding errors and missing names are reported.
func Load(path string) (*Stack, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultFile
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		abs = filepath.Join(abs, DefaultFile)
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	s, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", abs, err)
	}
	s.Dir = filepath.Dir(abs)
	return s, nil
}

// Decode parses descriptor bytes.
func Decode(raw []byte) (*Stack, error) {
	var s Stack
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&s); err != nil {
		return nil, err
	}
	if strings.TrimSpace(s.Name) == "" {
		return nil, fmt.Errorf("stack name is required")
	}
	for i := range s.Functions {
		if strings.TrimSpace(s.Functions[i].Name) == "" {
			return nil, fmt.Errorf("functions[%d].name is required", i)
		}
		if s.Functions[i].Path == "" {
			s.Functions[i].Path = "./" + s.Functions[i].Name
		}
	}
	return &s, nil
}

// SourceDir returns the absolute source directory for fn.
func (s *Stack) SourceDir(fn Function) string {
	if filepath.IsAbs(fn.Path) {
		return filepath.Clean(fn.Path)
	}
	return filepath.Join(s.Dir, fn.Path)
}
