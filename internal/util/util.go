package util

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath expands environment variables and a leading "~/" in path.
func ExpandPath(path string) string {
	path = os.ExpandEnv(path)
	rest, ok := strings.CutPrefix(path, "~")
	if !ok || rest == "" || (rest[0] != '/' && rest[0] != filepath.Separator) {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest[1:])
}
