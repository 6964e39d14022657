/* pkg/logger/paths.go */

package logger

import (
	"os"
	"path/filepath"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/xdg"
)

// PlatformLogDirs returns candidate log directories in order of priority.
func PlatformLogDirs(name string) []string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Join(filepath.Dir(exe), "logs", host))
	}
	return append(dirs,
		xdg.XDGStatePath(name, "logs"),
		filepath.Join(os.TempDir(), name, "logs"),
	)
}

// DefaultDir is the first writable directory of PlatformLogDirs.
func DefaultDir(name string) string {
	dirs := PlatformLogDirs(name)
	for _, dir := range dirs {
		if xdg.Writable(dir) {
			return dir
		}
	}
	return dirs[len(dirs)-1]
}
