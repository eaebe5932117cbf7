package srclib

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/fdkit/fdkit/pkg/metadata"
)

// Entry describes one source library, srclibs/<Name>.yml.
type Entry struct {
	RepoType string              `json:"RepoType"`
	Repo     string              `json:"Repo"`
	Subdir   metadata.StringList `json:"Subdir,omitempty"`
	Prepare  metadata.StringList `json:"Prepare,omitempty"`
}

// Registry maps library names to their entries.
type Registry map[string]*Entry

// LoadRegistry reads every *.yml file in dir. A missing dir is an empty
// registry.
func LoadRegistry(dir string) (Registry, error) {
	reg := Registry{}

	paths, err := filepath.Glob(filepath.Join(dir, "*.yml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading srclib %s: %w", p, err)
		}
		e := &Entry{}
		if err := yaml.Unmarshal(data, e); err != nil {
			return nil, fmt.Errorf("parsing srclib %s: %w", p, err)
		}
		if e.RepoType == "" || e.Repo == "" {
			return nil, fmt.Errorf("srclib %s: RepoType and Repo are required", p)
		}
		reg[strings.TrimSuffix(filepath.Base(p), ".yml")] = e
	}
	return reg, nil
}

// Names returns the library names in sorted order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
