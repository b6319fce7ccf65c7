package build

import (
	"fmt"
	"os"
	"path/filepath"
)

// StackDir returns {root}/{stack}.
func StackDir(root, stackName string) string {
	return filepath.Join(root, stackName)
}

// StagingDir returns {root}/{stack}/{function}.
func StagingDir(root, stackName, function string) string {
	return filepath.Join(root, stackName, function)
}

// StageStack clears and recreates the staging tree of a stack.
func StageStack(root, stackName string) error {
	if root == "" {
		return fmt.Errorf("staging root is empty")
	}
	if stackName == "" {
		return fmt.Errorf("stack name is empty")
	}
	dir := StackDir(root, stackName)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear staging dir %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create staging dir %s: %w", dir, err)
	}
	return nil
}
