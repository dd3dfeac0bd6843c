package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"initial_position", "initial_position"},
		{"after forward/../../etc", "after_forward_.._.._etc"},
		{"..", "unnamed"},
		{"", "unnamed"},
		{"  run #7  ", "run_7"},
		{"3f2c-uuid.v1", "3f2c-uuid.v1"},
		{"ünïcode", "n_code"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), tt.in)
	}
	assert.Len(t, SanitizeFilename(strings.Repeat("a", 500)), maxNameLen)
}

func TestWithinDirectory(t *testing.T) {
	assert.NoError(t, WithinDirectory("/out/run/frames/f.png", "/out/run"))
	assert.NoError(t, WithinDirectory("/out/run", "/out/run"))
	assert.NoError(t, WithinDirectory("runs/r1/a.png", "runs/r1"))

	assert.Error(t, WithinDirectory("/out/run/../other/f.png", "/out/run"))
	assert.Error(t, WithinDirectory("/etc/passwd", "/out/run"))
	assert.Error(t, WithinDirectory("runs/r1/a.png", "/out/run"))
}
