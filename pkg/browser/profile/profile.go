// Package profile prepares on-disk browser user-data directories before a
// launch: it creates missing directories and clears a stale single-instance
// lock left behind by a previous process.
package profile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/entrhq/browseruse/pkg/browser/launch"
	"github.com/entrhq/browseruse/pkg/logging"
	"github.com/spf13/afero"
)

// LockFile is the marker Chromium keeps in a user-data directory while an
// instance owns it.
const LockFile = "SingletonLock"

// Manager validates, creates and repairs user-data directories.
type Manager struct {
	fs  afero.Fs
	log *logging.Logger
}

// NewManager returns a Manager on fs. A nil fs uses the OS filesystem.
func NewManager(fs afero.Fs, log *logging.Logger) *Manager {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log == nil {
		log = logging.Discard("profile")
	}
	return &Manager{fs: fs, log: log}
}

// Prepare makes userDataDir usable and returns args adjusted for it.
//
// An empty userDataDir is a no-op. A missing directory is created together
// with its parent, and --no-first-run is dropped so the engine can
// initialize the new profile. An existing directory has its SingletonLock
// removed. Directory creation failures are returned; lock removal failures
// are only logged.
func (m *Manager) Prepare(userDataDir, profileDir string, args []string) ([]string, error) {
	if userDataDir == "" {
		return args, nil
	}

	m.log.Infof("Using user data directory: %s", userDataDir)

	exists, err := afero.DirExists(m.fs, userDataDir)
	if err != nil {
		return args, fmt.Errorf("failed to stat user data directory: %w", err)
	}

	if exists {
		m.checkExisting(userDataDir, profileDir)
		return args, nil
	}

	if err := m.createParent(userDataDir); err != nil {
		return args, err
	}
	if launch.Contains(args, launch.FlagNoFirstRun) {
		args = launch.Without(args, launch.FlagNoFirstRun)
		m.log.Infof("Removed %s flag to allow creation of new user data directory", launch.FlagNoFirstRun)
	}

	if err := m.fs.MkdirAll(userDataDir, 0755); err != nil {
		return args, fmt.Errorf("failed to create user data directory %s: %w", userDataDir, err)
	}
	return args, nil
}

func (m *Manager) checkExisting(userDataDir, profileDir string) {
	if profileDir != "" {
		profilePath := filepath.Join(userDataDir, profileDir)
		if ok, _ := afero.DirExists(m.fs, profilePath); !ok {
			m.log.Warnf("Profile directory %q doesn't exist in user data directory. It will be created.", profileDir)
		}
	}

	lock := filepath.Join(userDataDir, LockFile)
	if ok, _ := m.lockPresent(lock); !ok {
		return
	}
	if err := m.fs.Remove(lock); err != nil {
		m.log.Errorf("Failed to remove %s file: %v", LockFile, err)
		return
	}
	m.log.Warnf("Detected multiple browser processes may be sharing a single user data directory! " +
		"This is not recommended and may lead to errors and failure to launch the browser.")
}

func (m *Manager) createParent(userDataDir string) error {
	parent := filepath.Dir(userDataDir)
	ok, err := afero.DirExists(m.fs, parent)
	if err != nil {
		return fmt.Errorf("failed to stat parent directory: %w", err)
	}
	if ok {
		return nil
	}

	m.log.Warnf("Parent directory of user data directory doesn't exist: %s", parent)
	// MkdirAll tolerates a concurrent creator winning the race.
	if err := m.fs.MkdirAll(parent, 0755); err != nil {
		m.log.Errorf("Failed to create parent directory: %v", err)
		return fmt.Errorf("cannot create parent directory for user data directory: %w", err)
	}
	m.log.Infof("Created parent directory: %s", parent)
	return nil
}

// lockPresent uses Lstat where available: SingletonLock is normally a
// dangling symlink, which Stat would report as missing.
func (m *Manager) lockPresent(path string) (bool, error) {
	var err error
	if lstater, ok := m.fs.(afero.Lstater); ok {
		_, _, err = lstater.LstatIfPossible(path)
	} else {
		_, err = m.fs.Stat(path)
	}
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Locked reports whether userDataDir currently carries a SingletonLock.
func (m *Manager) Locked(userDataDir string) (bool, error) {
	if userDataDir == "" {
		return false, nil
	}
	return m.lockPresent(filepath.Join(userDataDir, LockFile))
}
