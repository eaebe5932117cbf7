package runner

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fdkit/fdkit/pkg/config"
)

// FromConfig builds a Runner whose base environment carries the SDK and
// Java locations from cfg. A UTF-8 locale is forced when none is set.
func FromConfig(cfg *config.Config) *Runner {
	return New(buildEnv(os.Environ(), cfg))
}

func buildEnv(base []string, cfg *config.Config) []string {
	vars := map[string]string{}
	if cfg.SDK.Path != "" {
		vars["ANDROID_HOME"] = cfg.SDK.Path
		vars["ANDROID_SDK"] = cfg.SDK.Path
	}

	versions := make([]string, 0, len(cfg.SDK.JavaHomes))
	for v := range cfg.SDK.JavaHomes {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	for _, v := range versions {
		vars["JAVA"+v+"_HOME"] = cfg.SDK.JavaHomes[v]
	}

	if missingLocale(base) {
		vars["LANG"] = "en_US.UTF-8"
	}

	return mergeEnv(base, vars)
}

func missingLocale(env []string) bool {
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		if k == "LANG" && v != "C" {
			return false
		}
		if k == "LC_ALL" {
			return false
		}
	}
	return true
}

// WithNDK returns a Runner that puts ndk first on PATH and exports the
// usual NDK variables. An empty ndk returns r unchanged.
func (r *Runner) WithNDK(ndk string) *Runner {
	if ndk == "" {
		return r
	}

	path := ""
	for _, kv := range r.env {
		if k, v, ok := strings.Cut(kv, "="); ok && k == "PATH" {
			path = v
		}
	}
	paths := filepath.SplitList(path)
	found := false
	for _, p := range paths {
		if p == ndk {
			found = true
			break
		}
	}
	if !found {
		paths = append([]string{ndk}, paths...)
	}

	return r.With(map[string]string{
		"PATH":             strings.Join(paths, string(os.PathListSeparator)),
		"ANDROID_NDK":      ndk,
		"NDK":              ndk,
		"ANDROID_NDK_HOME": ndk,
	})
}
