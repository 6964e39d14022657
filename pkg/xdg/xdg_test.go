package xdg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestXDGPathsHonourEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_RUNTIME_DIR", filepath.Join(dir, "run"))

	assert.Equal(t, filepath.Join(dir, "state", "app", "logs"), XDGStatePath("app", "logs"))
	assert.Equal(t, filepath.Join(dir, "config", "app", "warden.yaml"), XDGConfigPath("app", "warden.yaml"))
	assert.Equal(t, filepath.Join(dir, "run"), XDGRuntimeDir())

	t.Setenv("XDG_RUNTIME_DIR", "")
	assert.Equal(t, os.TempDir(), XDGRuntimeDir())
}

func TestWritable(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, Writable(filepath.Join(dir, "a", "b")))

	blocker := filepath.Join(dir, "file")
	assert.NoError(t, os.WriteFile(blocker, nil, 0o600))
	assert.False(t, Writable(filepath.Join(blocker, "sub")))

	entries, err := os.ReadDir(filepath.Join(dir, "a", "b"))
	assert.NoError(t, err)
	assert.Empty(t, entries)
}
