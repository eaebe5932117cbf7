// Package metadata loads the per-app records that drive source
// preparation.
package metadata

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"
)

// App is one app's metadata file, metadata/<id>.yml.
type App struct {
	ID                string     `json:"-"`
	RepoType          string     `json:"RepoType"`
	Repo              string     `json:"Repo"`
	UpdateCheckIgnore StringList `json:"UpdateCheckIgnore,omitempty"`
	Builds            []Build    `json:"Builds,omitempty"`
}

// Build is one buildable version of an app. Commit is the revision in
// the backend's native format.
type Build struct {
	VersionName string     `json:"versionName"`
	VersionCode int64      `json:"versionCode"`
	Commit      Scalar     `json:"commit"`
	Subdir      string     `json:"subdir,omitempty"`
	Submodules  bool       `json:"submodules,omitempty"`
	Init        StringList `json:"init,omitempty"`
	Srclibs     []string   `json:"srclibs,omitempty"`
}

// ErrNoBuild is returned when an app has no build for a version code.
var ErrNoBuild = errors.New("no such build")

// Load reads metadata/<appID>.yml from dir.
func Load(dir, appID string) (*App, error) {
	path := filepath.Join(dir, appID+".yml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading metadata for %s: %w", appID, err)
	}
	return Parse(appID, data)
}

// Parse decodes metadata for appID.
func Parse(appID string, data []byte) (*App, error) {
	app := &App{}
	if err := yaml.Unmarshal(data, app); err != nil {
		return nil, fmt.Errorf("parsing metadata for %s: %w", appID, err)
	}
	app.ID = appID
	if app.RepoType == "" {
		return nil, fmt.Errorf("metadata for %s: RepoType is required", appID)
	}
	return app, nil
}

// Build returns the build with the given version code.
func (a *App) Build(versionCode int64) (*Build, error) {
	for i := range a.Builds {
		if a.Builds[i].VersionCode == versionCode {
			return &a.Builds[i], nil
		}
	}
	return nil, fmt.Errorf("%s version code %d: %w", a.ID, versionCode, ErrNoBuild)
}

// LatestBuild returns the build with the highest version code.
func (a *App) LatestBuild() (*Build, error) {
	if len(a.Builds) == 0 {
		return nil, fmt.Errorf("%s has no builds: %w", a.ID, ErrNoBuild)
	}
	latest := &a.Builds[0]
	for i := range a.Builds[1:] {
		if b := &a.Builds[i+1]; b.VersionCode > latest.VersionCode {
			latest = b
		}
	}
	return latest, nil
}
