package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

func CreateDir(path string) error {
	err := os.MkdirAll(path, 0755) // owner can read, write and execute
	if err != nil && !os.IsExist(err) {
		return fmt.Errorf("%w: os.MkdirAll(%s): %w", ErrArtifact, path, err)
	}
	return nil
}

// EnsureParentDir creates the directory that will hold path.
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return CreateDir(dir)
}
