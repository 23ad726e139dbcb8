package util

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SecureJoin joins an untrusted relative path onto a base directory, failing
// if the result would escape the base. Archive entries pass through here
// before extraction so a crafted entry name cannot write outside the staging
// directory.
func SecureJoin(base, rel string) (string, error) {
	if strings.Contains(rel, "\x00") {
		return "", fmt.Errorf("path contains null byte: %q", rel)
	}

	joined := filepath.Join(base, filepath.Clean("/"+rel))
	cleanBase := filepath.Clean(base)
	if joined != cleanBase && !strings.HasPrefix(joined, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory: %q", rel)
	}
	return joined, nil
}
