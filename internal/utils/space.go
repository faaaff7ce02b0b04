package utils

import (
	"os"
	"path/filepath"
)

// spaceMargin is the headroom required on top of the expected size.
const spaceMargin = 1.2

// HasEnoughSpace reports whether the filesystem holding path can take
// required bytes plus a margin. Unknown sizes and unknown free space pass.
func HasEnoughSpace(path string, required int64) bool {
	if required <= 0 {
		return true
	}
	free, err := FreeSpace(existingDir(path))
	if err != nil {
		Debug("free space check on %s failed: %v", path, err)
		return true
	}
	return free >= uint64(float64(required)*spaceMargin)
}

// existingDir walks up from path to the nearest directory that exists.
func existingDir(path string) string {
	dir := path
	for {
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
