package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.telvault.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".telvault")
}

// Dir returns the session-specific directory. One session corresponds to
// one remote account; its store, media and lock all live below this dir,
// so switching sessions swaps the whole archive and never merges two.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// SocketPath returns the UDS socket path for a session.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

// LockPath returns the lock file path for a session.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath returns the session's sqlite store path.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "telvault.db")
}

// MediaDir returns the root of the session's downloaded attachment tree.
// Attachment records store paths relative to this root.
func MediaDir(name string) string {
	return filepath.Join(Dir(name), "media")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "telvaultd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		MediaDir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
