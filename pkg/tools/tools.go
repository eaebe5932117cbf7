// Package tools locates the external programs fdkit shells out to.
package tools

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Well-known tool names.
const (
	Apksigner  = "apksigner"
	Jarsigner  = "jarsigner"
	Diffoscope = "diffoscope"
	Apktool    = "apktool"
	Meld       = "meld"
)

// Finder resolves tool names to executable paths. Explicitly configured
// paths win, then PATH, then the newest SDK build-tools directory.
type Finder struct {
	configured map[string]string
	sdkPath    string

	mu    sync.Mutex
	cache map[string]string
}

// NewFinder returns a Finder. configured maps tool names to paths; sdkPath
// may be empty.
func NewFinder(configured map[string]string, sdkPath string) *Finder {
	c := make(map[string]string, len(configured))
	for k, v := range configured {
		c[k] = v
	}
	return &Finder{configured: c, sdkPath: sdkPath, cache: map[string]string{}}
}

// Find returns the path of name and whether it was found. Results,
// including misses, are cached.
func (f *Finder) Find(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.cache[name]; ok {
		return p, p != ""
	}

	p := f.lookup(name)
	f.cache[name] = p
	if p != "" {
		log.WithField("tool", name).Debugf("using %s", p)
	}
	return p, p != ""
}

// MustFind is Find with a descriptive error for missing tools.
func (f *Finder) MustFind(name string) (string, error) {
	if p, ok := f.Find(name); ok {
		return p, nil
	}
	return "", fmt.Errorf("could not find %q on your system", name)
}

func (f *Finder) lookup(name string) string {
	if p := f.configured[name]; p != "" {
		if isExecutable(p) {
			return p
		}
		log.WithField("tool", name).Warnf("configured path %s is not executable", p)
		return ""
	}

	if p, err := exec.LookPath(name); err == nil {
		return p
	}

	if f.sdkPath != "" {
		return f.fromBuildTools(name)
	}
	return ""
}

// fromBuildTools searches <sdk>/build-tools/<version>/ newest first.
func (f *Finder) fromBuildTools(name string) string {
	root := filepath.Join(f.sdkPath, "build-tools")
	entries, err := os.ReadDir(root)
	if err != nil {
		return ""
	}

	var versions []string
	for _, e := range entries {
		if e.IsDir() {
			versions = append(versions, e.Name())
		}
	}
	sort.Slice(versions, func(i, j int) bool {
		return versionLess(versions[j], versions[i])
	})

	for _, v := range versions {
		p := filepath.Join(root, v, name)
		if isExecutable(p) {
			return p
		}
	}
	return ""
}

// versionLess compares dotted versions numerically, falling back to a
// string comparison for non-numeric parts (e.g. "34.0.0-rc1").
func versionLess(a, b string) bool {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		ai, aerr := strconv.Atoi(as[i])
		bi, berr := strconv.Atoi(bs[i])
		if aerr == nil && berr == nil {
			if ai != bi {
				return ai < bi
			}
			continue
		}
		if as[i] != bs[i] {
			return as[i] < bs[i]
		}
	}
	return len(as) < len(bs)
}

func isExecutable(p string) bool {
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
