// Package prepare gets an app's source tree ready for a build: the right
// revision, its submodules, its source libraries and the properties files
// that point at them.
package prepare

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/fdkit/fdkit/pkg/config"
	"github.com/fdkit/fdkit/pkg/metadata"
	"github.com/fdkit/fdkit/pkg/runner"
	"github.com/fdkit/fdkit/pkg/srclib"
	"github.com/fdkit/fdkit/pkg/store"
	"github.com/fdkit/fdkit/pkg/vcs"
)

// RepoTypeSrclib marks an app whose main source is a source library.
const RepoTypeSrclib = "srclib"

type Preparer struct {
	Config  *config.Config
	Store   store.Store
	Runner  *runner.Runner
	Srclibs *srclib.Resolver
}

// New wires a Preparer. Builds run with the configured NDK on PATH.
func New(cfg *config.Config, st store.Store, r *runner.Runner, reg srclib.Registry) *Preparer {
	r = r.WithNDK(cfg.SDK.NDK)
	return &Preparer{
		Config: cfg,
		Store:  st,
		Runner: r,
		Srclibs: &srclib.Resolver{
			Registry: reg,
			Root:     st.SrclibDir(""),
			Runner:   r,
			Vars:     vars(cfg),
		},
	}
}

func vars(cfg *config.Config) metadata.Vars {
	return metadata.Vars{SDK: cfg.SDK.Path, NDK: cfg.SDK.NDK, Mvn3: cfg.SDK.Mvn3}
}

// Prepared describes a prepared source tree.
type Prepared struct {
	// Root is the build directory, or its subdir when the build has one.
	Root string
	// Srclibs lists every library used, including the app's own source
	// when that is a library.
	Srclibs []*srclib.Resolved
	// TreeHash covers the prepared build directory, VCS metadata excluded.
	TreeHash string
}

// Handle returns the working copy handle for app's main source.
func (p *Preparer) Handle(app *metadata.App) (*vcs.Handle, error) {
	if app.RepoType == RepoTypeSrclib {
		h, err := p.Srclibs.Handle(app.Repo)
		if err != nil {
			return nil, err
		}
		h.Srclib = &vcs.SrclibBinding{Name: app.Repo, Path: h.Local}
		return h, nil
	}

	kind, err := vcs.ParseKind(app.RepoType)
	if err != nil {
		return nil, err
	}
	return vcs.New(kind, app.Repo, p.Store.BuildDir(app.ID), p.Runner)
}

// Prepare takes h to build's revision and sets up everything around it.
func (p *Preparer) Prepare(ctx context.Context, h *vcs.Handle, app *metadata.App, build *metadata.Build, refresh bool) (*Prepared, error) {
	buildDir := h.Local
	root := buildDir
	if build.Subdir != "" {
		root = filepath.Join(buildDir, build.Subdir)
	}

	log.Infof("Getting source for revision %s", build.Commit)
	if err := h.GotoRevision(ctx, build.Commit.String(), refresh); err != nil {
		return nil, err
	}

	if build.Submodules {
		log.Info("Initialising submodules")
		err := h.InitSubmodules(ctx)
		switch {
		case errors.Is(err, vcs.ErrNoSubmodules):
			log.Warnf("%s:%s asks for submodules but has none", app.ID, build.VersionName)
		case err != nil:
			return nil, err
		}
	}

	// Only checked now since the subdir may not exist at other revisions.
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("missing subdir %s", root)
	}

	if len(build.Init) > 0 {
		cmd := vars(p.Config).BuildVars(build).Substitute(build.Init.Joined())
		log.Infof("Running 'init' commands in %s", root)
		res, err := p.Runner.Run(ctx, runner.Cmd{Args: []string{"bash", "-x", "-c", "--", cmd}, Dir: root, Output: true})
		if err != nil {
			return nil, err
		}
		if err := res.Check(fmt.Sprintf("Error running init command for %s:%s", app.ID, build.VersionName)); err != nil {
			return nil, err
		}
	}

	out := &Prepared{Root: root}
	if len(build.Srclibs) > 0 {
		log.Info("Collecting source libraries")
	}
	for _, spec := range build.Srclibs {
		lib, err := p.Srclibs.Resolve(ctx, spec, srclib.Options{Prepare: true, Refresh: refresh, Build: build})
		if err != nil {
			return nil, err
		}
		out.Srclibs = append(out.Srclibs, lib)
	}

	for _, lib := range out.Srclibs {
		if lib.Number == "" {
			continue
		}
		n, err := strconv.Atoi(lib.Number)
		if err != nil {
			return nil, fmt.Errorf("srclib %s: bad number %q", lib.Name, lib.Number)
		}
		if err := srclib.Place(root, n, lib.Dir); err != nil {
			return nil, fmt.Errorf("placing srclib %s: %w", lib.Name, err)
		}
	}

	if b := h.Srclib; b != nil {
		out.Srclibs = append(out.Srclibs, &srclib.Resolved{Name: b.Name, Number: b.Number, Dir: b.Path, Handle: h})
	}

	if err := p.writeLocalProperties(buildDir, build.Subdir); err != nil {
		return nil, err
	}

	hash, err := store.HashDir(buildDir)
	if err != nil {
		return nil, fmt.Errorf("hashing %s: %w", buildDir, err)
	}
	out.TreeHash = hash
	log.WithField("dir", buildDir).Debugf("Source tree %s", hash)

	return out, nil
}

// writeLocalProperties points every local.properties from buildDir down
// to subdir at the configured SDK and NDK.
func (p *Preparer) writeLocalProperties(buildDir, subdir string) error {
	paths := []string{filepath.Join(buildDir, "local.properties")}
	if subdir != "" {
		cur := buildDir
		for _, d := range strings.Split(filepath.ToSlash(subdir), "/") {
			cur = filepath.Join(cur, d)
			paths = append(paths, filepath.Join(cur, "local.properties"))
		}
	}

	var extra strings.Builder
	if sdk := p.Config.SDK.Path; sdk != "" {
		fmt.Fprintf(&extra, "sdk.dir=%s\nsdk-location=%s\n", sdk, sdk)
	}
	// Some Gradle versions fail cryptically on an ndk.dir that does not
	// exist, even when the NDK is not needed.
	if ndk := p.Config.SDK.NDK; ndk != "" {
		if _, err := os.Stat(ndk); err == nil {
			fmt.Fprintf(&extra, "ndk.dir=%s\nndk-location=%s\n", ndk, ndk)
		}
	}
	if extra.Len() == 0 {
		return nil
	}

	for _, path := range paths {
		props, err := os.ReadFile(path)
		switch {
		case err == nil:
			log.Infof("Updating local.properties file at %s", path)
			props = append(props, '\n')
		case os.IsNotExist(err):
			log.Infof("Creating local.properties file at %s", path)
		default:
			return fmt.Errorf("reading %s: %w", path, err)
		}
		props = append(props, extra.String()...)
		if err := os.WriteFile(path, props, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return nil
}
