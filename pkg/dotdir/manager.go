// Package dotdir manages the .cumdach/ and ~/.cumdach directories.
//
// The dot directory holds everything the CLI keeps on disk: config.toml,
// the owner's keyfile, the local state database, the rotation record, and
// the logs/ audit trail. Resolution prefers a project-local directory over
// the home one so a repository can carry its own isolated identity.
package dotdir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// dirName is the name of the cumdach directory.
	dirName = ".cumdach"

	// logsDirName holds append-only run records (prune audit logs).
	logsDirName = "logs"
)

type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

// Target resolves the absolute path of the .cumdach/ directory to use and
// ensures it exists. An explicit override always wins; with none, a
// ./.cumdach in the working directory is preferred to ~/.cumdach, which is
// created on first use.
func (m *Manager) Target(overrideDir string) (string, error) {
	dir := overrideDir
	if dir == "" {
		var err error
		if dir, err = m.defaultDir(); err != nil {
			return "", err
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating cumdach directory %s: %w", dir, err)
	}

	return filepath.Abs(dir)
}

// LogsDir resolves (and creates) the logs/ subdirectory under the target
// dot directory.
func (m *Manager) LogsDir(overrideDir string) (string, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return "", err
	}

	logs := filepath.Join(dir, logsDirName)
	if err := os.MkdirAll(logs, 0o755); err != nil {
		return "", fmt.Errorf("creating logs directory %s: %w", logs, err)
	}

	return logs, nil
}

func (m *Manager) defaultDir() (string, error) {
	if cwd, err := os.Getwd(); err == nil {
		local := filepath.Join(cwd, dirName)
		if info, err := os.Stat(local); err == nil && info.IsDir() {
			return local, nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}

	return filepath.Join(home, dirName), nil
}
