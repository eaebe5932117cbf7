// Package project sets up a directory as an fdkit workspace.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fdkit/fdkit/pkg/config"
)

const ConfigFile = config.FileName

// GeneratedDirs returns the workspace directories fdkit writes into that
// should typically be gitignored, with a trailing slash.
func GeneratedDirs(paths config.PathsConfig) []string {
	var dirs []string
	seen := map[string]bool{}
	for _, p := range []string{paths.Build, paths.Tmp, paths.Log} {
		if p == "" || filepath.IsAbs(p) {
			continue
		}
		d := filepath.ToSlash(filepath.Clean(p)) + "/"
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// Init writes a default fdkit.toml in dir and creates the metadata and
// srclib registry directories. It returns an error if the config file
// already exists.
func Init(dir string, cfg *config.Config) error {
	path := filepath.Join(dir, ConfigFile)
	if err := config.SaveFile(path, cfg); err != nil {
		return err
	}

	for _, p := range []string{cfg.Paths.Metadata, cfg.Paths.Srclibs} {
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", p, err)
		}
	}
	return nil
}

// EnsureGitignore ensures that each entry appears somewhere in the .gitignore
// file within dir. Only entries not already present are appended. Returns the
// list of entries that were actually added.
func EnsureGitignore(dir string, entries []string) ([]string, error) {
	path := filepath.Join(dir, ".gitignore")

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	present := make(map[string]bool)
	for _, line := range strings.Split(string(existing), "\n") {
		present[strings.TrimSpace(line)] = true
	}

	var toAdd []string
	for _, entry := range entries {
		if !present[entry] {
			toAdd = append(toAdd, entry)
		}
	}

	if len(toAdd) == 0 {
		return nil, nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	// Ensure we start on a new line if file doesn't end with one.
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		if _, err := f.WriteString("\n"); err != nil {
			return nil, err
		}
	}

	for _, entry := range toAdd {
		if _, err := f.WriteString(entry + "\n"); err != nil {
			return nil, err
		}
	}

	return toAdd, nil
}
