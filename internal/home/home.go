package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the scriptcast home directory.
	DefaultDirName = ".scriptcast"

	// LibraryDirName is the subdirectory for the file-backed library.
	LibraryDirName = "library"

	// AudioDirName is the subdirectory for downloaded narration audio.
	AudioDirName = "audio"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Dir represents the scriptcast home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.scriptcast).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// LibraryPath returns the path to the file-backed library.
func (d *Dir) LibraryPath() string {
	return filepath.Join(d.path, LibraryDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, p := range []string{d.LibraryPath(), d.AudioDir()} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", p, err)
		}
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// AudioDir returns the directory for downloaded narration audio.
func (d *Dir) AudioDir() string {
	return filepath.Join(d.path, AudioDirName)
}

// JobAudioDir returns the audio directory for one narration job.
func (d *Dir) JobAudioDir(jobID string) string {
	return filepath.Join(d.AudioDir(), jobID)
}
