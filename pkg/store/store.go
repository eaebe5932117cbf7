// Package store maps fdkit's workspace layout onto the filesystem.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/fdkit/fdkit/pkg/apksig"
	"github.com/fdkit/fdkit/pkg/config"
)

const hashPrefix = "sha256:"

// vcsDirs are skipped by HashDir so a working copy hashes the same before
// and after its metadata changes.
var vcsDirs = map[string]bool{
	".git": true,
	".hg":  true,
	".bzr": true,
	".svn": true,
}

type Store interface {
	// Path returns the absolute filesystem path for the given segments
	// joined under the store root. Does not create or verify the path.
	Path(segments ...string) string

	// BuildDir is the working copy of an app's source.
	BuildDir(appID string) string
	// SrclibDir is the working copy of a source library.
	SrclibDir(name string) string
	// SrclibsDir holds the source library registry files.
	SrclibsDir() string
	// MetadataDir holds app metadata files.
	MetadataDir() string
	// SigDir holds the developer signature files for one version, or for
	// all versions when versionCode is zero.
	SigDir(appID string, versionCode int64) string
	TmpDir() string
	LogDir() string
}

// New returns a Store rooted at root. Relative entries of paths are
// resolved against root.
func New(root string, paths config.PathsConfig) Store {
	return &store{root: root, paths: paths}
}

// Default returns a Store rooted at the current directory.
func Default(paths config.PathsConfig) (Store, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining working directory: %w", err)
	}
	return &store{root: wd, paths: paths}, nil
}

type store struct {
	root  string
	paths config.PathsConfig
}

var _ Store = &store{}

func (s *store) Path(segments ...string) string {
	return filepath.Join(append([]string{s.root}, segments...)...)
}

func (s *store) resolve(p string, segments ...string) string {
	if !filepath.IsAbs(p) {
		p = s.Path(p)
	}
	return filepath.Join(append([]string{p}, segments...)...)
}

func (s *store) BuildDir(appID string) string {
	return s.resolve(s.paths.Build, appID)
}

func (s *store) SrclibDir(name string) string {
	return s.resolve(s.paths.Srclib, name)
}

func (s *store) SrclibsDir() string {
	return s.resolve(s.paths.Srclibs)
}

func (s *store) MetadataDir() string {
	return s.resolve(s.paths.Metadata)
}

func (s *store) SigDir(appID string, versionCode int64) string {
	return apksig.SigDir(s.MetadataDir(), appID, versionCode)
}

func (s *store) TmpDir() string {
	return s.resolve(s.paths.Tmp)
}

func (s *store) LogDir() string {
	if s.paths.Log == "" {
		return s.TmpDir()
	}
	return s.resolve(s.paths.Log)
}

// HashDir hashes the tree at dir. Symlinks contribute their target
// rather than the content they point to.
func HashDir(dir string) (string, error) {
	h := sha256.New()

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && vcsDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return "", err
	}

	sort.Strings(files)

	for _, f := range files {
		full := filepath.Join(dir, f)
		info, err := os.Lstat(full)
		if err != nil {
			return "", err
		}
		var data []byte
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(full)
			if err != nil {
				return "", err
			}
			data = []byte(target)
		} else {
			data, err = os.ReadFile(full)
			if err != nil {
				return "", err
			}
		}
		h.Write([]byte(f))
		h.Write(data)
	}

	return hashPrefix + hex.EncodeToString(h.Sum(nil)), nil
}
