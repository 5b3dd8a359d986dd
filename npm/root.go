package npm

import (
	"os"
	"path/filepath"
)

// FindProjectRoot walks upward from start until it finds a directory holding
// both package.json and node_modules. When none is found, start is returned
// unchanged.
func FindProjectRoot(start string) (string, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	dir := abs
	for {
		if isFile(filepath.Join(dir, "package.json")) && isDir(filepath.Join(dir, "node_modules")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		dir = parent
	}
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
