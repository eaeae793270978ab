// Package testutil provides utilities for testing the installer in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Env holds the isolated directories created by SetupTestEnv.
type Env struct {
	Root       string
	InstallDir string // stands in for /usr/bin
	ScratchDir string // stands in for /tmp
	ConfigDir  string // stands in for /etc/kryer
	Home       string
}

// InstallPath returns the binary path inside InstallDir.
func (e *Env) InstallPath(name string) string {
	return filepath.Join(e.InstallDir, name)
}

// SetupTestEnv creates isolated directories for one test and clears the
// environment variables the installer reads, so tests never touch a real
// installation or pick up the developer's token and config. Cleanup is
// handled by t.TempDir and t.Setenv.
func SetupTestEnv(t *testing.T) *Env {
	t.Helper()

	root := t.TempDir()
	env := &Env{
		Root:       root,
		InstallDir: filepath.Join(root, "bin"),
		ScratchDir: filepath.Join(root, "tmp"),
		ConfigDir:  filepath.Join(root, "etc"),
		Home:       filepath.Join(root, "home"),
	}

	for _, dir := range []string{env.InstallDir, env.ScratchDir, env.ConfigDir, env.Home} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}

	t.Setenv("KRYER_INSTALL_CONFIG", "")
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("KRYER_GITHUB_TOKEN", "")
	t.Setenv("NO_COLOR", "1")
	t.Setenv("HOME", env.Home)
	t.Setenv("USERPROFILE", env.Home)
	t.Setenv("TMPDIR", env.ScratchDir)

	return env
}
