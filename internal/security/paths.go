// Package security keeps debug artefacts inside their run directory.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

const maxNameLen = 96

// SanitizeFilename maps s to a name made of ASCII letters, digits, '.', '_'
// and '-'. Runs of other characters become one underscore. Leading and
// trailing dots and underscores are trimmed, so the result can never be "."
// or "..". An empty result becomes "unnamed".
func SanitizeFilename(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range s {
		if b.Len() >= maxNameLen {
			break
		}
		ok := r == '.' || r == '_' || r == '-' ||
			('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')
		if !ok {
			pending = true
			continue
		}
		if pending && b.Len() > 0 {
			b.WriteByte('_')
		}
		pending = false
		b.WriteRune(r)
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unnamed"
	}
	return out
}

// WithinDirectory reports an error when path, resolved lexically against
// dir, escapes dir. It does not touch the file system, so it works for the
// in-memory recorder too.
func WithinDirectory(path, dir string) error {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("path %s is outside %s: %w", path, dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s escapes %s", path, dir)
	}
	return nil
}
