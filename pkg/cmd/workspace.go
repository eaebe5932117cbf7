package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/fdkit/fdkit/pkg/apksig"
	"github.com/fdkit/fdkit/pkg/metadata"
	"github.com/fdkit/fdkit/pkg/prepare"
	"github.com/fdkit/fdkit/pkg/runner"
	"github.com/fdkit/fdkit/pkg/srclib"
	"github.com/fdkit/fdkit/pkg/store"
	"github.com/fdkit/fdkit/pkg/tools"
)

// workspace bundles what a command needs, built once from Cfg.
type workspace struct {
	store  store.Store
	runner *runner.Runner
	tools  *tools.Finder
}

func newWorkspace() (*workspace, error) {
	st, err := store.Default(Cfg.Paths)
	if err != nil {
		return nil, err
	}
	return &workspace{
		store:  st,
		runner: runner.FromConfig(Cfg),
		tools:  tools.NewFinder(Cfg.ToolPaths(), Cfg.SDK.Path),
	}, nil
}

// tmpDir returns the scratch directory, creating it if needed.
func (w *workspace) tmpDir() (string, error) {
	dir := w.store.TmpDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	return dir, nil
}

func (w *workspace) verifier() (*apksig.Verifier, error) {
	tmp, err := w.tmpDir()
	if err != nil {
		return nil, err
	}
	v := apksig.NewVerifier(Cfg, w.tools, w.runner)
	v.PolicyDir = tmp
	return v, nil
}

func (w *workspace) preparer() (*prepare.Preparer, error) {
	reg, err := srclib.LoadRegistry(w.store.SrclibsDir())
	if err != nil {
		return nil, err
	}
	return prepare.New(Cfg, w.store, w.runner, reg), nil
}

func (w *workspace) loadApp(appID string) (*metadata.App, error) {
	return metadata.Load(w.store.MetadataDir(), appID)
}

func parseVersionCode(s string) (int64, error) {
	vc, err := strconv.ParseInt(s, 10, 64)
	if err != nil || vc <= 0 {
		return 0, fmt.Errorf("invalid version code %q", s)
	}
	return vc, nil
}
