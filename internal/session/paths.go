package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.wxweb.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wxweb")
}

// Dir returns the session-specific directory.
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

// AppDBPath returns the sqlite database holding snapshots, the message
// archive and the outbox.
func AppDBPath(name string) string {
	return filepath.Join(Dir(name), "wxweb.db")
}

// QRPath returns where the login QR image is written.
func QRPath(name string) string {
	return filepath.Join(Dir(name), "qr.png")
}

// MediaDir returns the directory downloads are saved into.
func MediaDir(name string) string {
	return filepath.Join(Dir(name), "media")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "wxd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree with proper permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name), MediaDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
