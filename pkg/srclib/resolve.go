// Package srclib resolves named source libraries to checked out
// directories.
package srclib

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/fdkit/fdkit/pkg/metadata"
	"github.com/fdkit/fdkit/pkg/runner"
	"github.com/fdkit/fdkit/pkg/vcs"
)

// Options control a single Resolve call.
type Options struct {
	// Prepare runs the library's prepare command.
	Prepare bool
	// Refresh lets the library's handle contact its remote.
	Refresh bool
	// BasePath returns the library root instead of the chosen subdir.
	BasePath bool
	// Build, when set, provides $$COMMIT$$ and friends to the prepare
	// command.
	Build *metadata.Build
}

// Resolved is a checked out source library.
type Resolved struct {
	Name   string
	Number string
	// Dir is the directory to reference the library by.
	Dir    string
	Handle *vcs.Handle
}

// Resolver checks out libraries under Root/<name>. Handles are kept for
// the resolver's lifetime so each library is fetched at most once.
type Resolver struct {
	Registry Registry
	Root     string
	Runner   *runner.Runner
	Vars     metadata.Vars

	handles map[string]*vcs.Handle
}

// Handle returns the working copy handle for the named library.
func (r *Resolver) Handle(name string) (*vcs.Handle, error) {
	if h, ok := r.handles[name]; ok {
		return h, nil
	}

	entry, ok := r.Registry[name]
	if !ok {
		return nil, &ParseError{Spec: name, Reason: "srclib " + name + " not found"}
	}
	kind, err := vcs.ParseKind(entry.RepoType)
	if err != nil {
		return nil, fmt.Errorf("srclib %s: %w", name, err)
	}

	dir := filepath.Join(r.Root, name)
	h, err := vcs.New(kind, entry.Repo, dir, r.Runner)
	if err != nil {
		return nil, fmt.Errorf("srclib %s: %w", name, err)
	}

	if r.handles == nil {
		r.handles = map[string]*vcs.Handle{}
	}
	r.handles[name] = h
	return h, nil
}

// Resolve parses spec, takes the library to its ref and returns where it
// lives. The number is passed through untouched.
func (r *Resolver) Resolve(ctx context.Context, spec string, opts Options) (*Resolved, error) {
	s, err := ParseSpec(spec)
	if err != nil {
		return nil, err
	}
	if _, ok := r.Registry[s.Name]; !ok {
		return nil, &ParseError{Spec: spec, Reason: "srclib " + s.Name + " not found"}
	}

	h, err := r.Handle(s.Name)
	if err != nil {
		return nil, err
	}
	h.Srclib = &vcs.SrclibBinding{Name: s.Name, Number: s.Number, Path: h.Local}

	log.WithField("srclib", s.Name).Infof("Getting source library at %s", s.Ref)
	if err := h.GotoRevision(ctx, s.Ref, opts.Refresh); err != nil {
		return nil, fmt.Errorf("srclib %s: %w", s.Name, err)
	}

	entry := r.Registry[s.Name]
	libDir := pickDir(h.Local, s.Subdir, entry.Subdir)

	if opts.Prepare && len(entry.Prepare) > 0 {
		vars := r.Vars
		if opts.Build != nil {
			vars = vars.BuildVars(opts.Build)
		}
		cmd := vars.Substitute(entry.Prepare.Joined())

		res, err := r.Runner.Run(ctx, runner.Cmd{Args: []string{"bash", "-x", "-c", "--", cmd}, Dir: libDir, Output: true})
		if err != nil {
			return nil, err
		}
		if err := res.Check("Error running prepare command for srclib " + s.Name); err != nil {
			return nil, err
		}
	}

	if opts.BasePath {
		libDir = h.Local
	}

	return &Resolved{Name: s.Name, Number: s.Number, Dir: libDir, Handle: h}, nil
}

// pickDir chooses the explicit subdir, else the first candidate that
// exists, else the library root.
func pickDir(root, explicit string, candidates []string) string {
	if explicit != "" {
		return filepath.Join(root, explicit)
	}
	for _, c := range candidates {
		p := filepath.Join(root, c)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return root
}
