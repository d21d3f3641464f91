// Package profile lays out the on-disk state of each configured server
// profile under the base directory.
package profile

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the base directory when set.
const HomeEnv = "BUBBLED_HOME"

// BaseDir returns $BUBBLED_HOME, or ~/.bubbled.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".bubbled")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// ConfigPath returns the profile's bubbled.toml path.
func ConfigPath(name string) string {
	return filepath.Join(Dir(name), "bubbled.toml")
}

// SocketPath returns the control socket path for a profile.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

// DBPath returns the record store path.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "bubbled.db")
}

// AvatarDir returns the avatar cache directory.
func AvatarDir(name string) string {
	return filepath.Join(Dir(name), "cache", "avatars")
}

// AttachmentDir returns the attachment cache directory.
func AttachmentDir(name string) string {
	return filepath.Join(Dir(name), "cache", "attachments")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "bubbled.log")
}

// GlobalConfigPath returns the global config file path.
func GlobalConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name), AvatarDir(name), AttachmentDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
