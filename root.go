package flpre

import (
	"path/filepath"
	"runtime"
)

// FindRootPath returns the module root, used as the default base for relative artifact paths.
func FindRootPath() string {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filename)
	return projectRoot
}
