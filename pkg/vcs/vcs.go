// Package vcs takes working copies of git, git-svn, hg and bzr
// repositories to a clean checkout of a given revision.
//
// Every working copy is paired with a sidecar marker next to it that
// records the kind and remote it was created from. A missing or different
// marker causes the working copy to be deleted and cloned again, so an
// existing checkout can never be silently pointed at different content.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/fdkit/fdkit/pkg/runner"
)

// Kind names a version control backend.
type Kind string

const (
	Git    Kind = "git"
	GitSvn Kind = "git-svn"
	Hg     Kind = "hg"
	Bzr    Kind = "bzr"
)

// ParseKind validates a repository type as found in metadata.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case Git, GitSvn, Hg, Bzr:
		return k, nil
	case "svn":
		return "", &Error{Msg: "deprecated vcs type 'svn' - please use 'git-svn' instead"}
	default:
		return "", &Error{Msg: "invalid vcs type " + s}
	}
}

const sidecarPrefix = ".fdkitvcs-"

// tagPattern is the conservative charset tags are filtered to.
var tagPattern = regexp.MustCompile(`^[-A-Za-z0-9_./]+$`)

// SrclibBinding records the source library a handle was resolved for.
type SrclibBinding struct {
	Name   string
	Number string
	Path   string
}

// Handle identifies one working copy. It is meant to live for a single
// source preparation pass and is not safe for concurrent use.
type Handle struct {
	Kind     Kind
	Remote   string
	Local    string
	Username string
	Password string
	Srclib   *SrclibBinding

	backend     backend
	runner      *runner.Runner
	cloneFailed bool
	refreshed   bool
}

// backend is the set of small per-tool steps GotoRevision sequences.
type backend interface {
	clone(ctx context.Context) error
	// checkRepo fails unless the tool reports local as its own top level.
	checkRepo(ctx context.Context) error
	reset(ctx context.Context) error
	clean(ctx context.Context) error
	fetch(ctx context.Context) error
	defaultRev() string
	checkout(ctx context.Context, rev string) error
	postClean(ctx context.Context) error
	initSubmodules(ctx context.Context) error
	tags(ctx context.Context) ([]string, error)
	latestTags(ctx context.Context) ([]string, error)
	ref(ctx context.Context) (string, error)
	versionCmd() []string
}

// New returns a handle for the working copy at local. Credentials in the
// form user:pass@remote are split off for git-svn and bzr remotes.
func New(kind Kind, remote, local string, r *runner.Runner) (*Handle, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(local)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", local, err)
	}

	h := &Handle{Kind: kind, Remote: remote, Local: abs, runner: r}
	if kind == GitSvn || kind == Bzr {
		if err := h.splitCredentials(); err != nil {
			return nil, err
		}
	}

	log.Debugf("Getting %s vcs interface for %s", kind, h.Remote)

	rp := repo{remote: h.Remote, local: h.Local, runner: r}
	switch kind {
	case Git:
		h.backend = &gitBackend{repo: rp}
	case GitSvn:
		h.backend = newGitSvnBackend(rp, h.Username)
	case Hg:
		h.backend = &hgBackend{repo: rp}
	case Bzr:
		h.backend = &bzrBackend{repo: rp}
	}
	return h, nil
}

func (h *Handle) splitCredentials() error {
	if !strings.Contains(h.Remote, "@") {
		return nil
	}
	creds, remote, _ := strings.Cut(h.Remote, "@")
	if strings.Contains(remote, "@") {
		return &Error{Msg: "too many '@' signs in remote"}
	}
	user, pass, ok := strings.Cut(creds, ":")
	if !ok {
		return &Error{Msg: "password required with username"}
	}
	h.Username, h.Password, h.Remote = user, pass, remote
	return nil
}

// SidecarPath is the marker file that records where Local came from.
func (h *Handle) SidecarPath() string {
	return filepath.Join(filepath.Dir(h.Local), sidecarPrefix+filepath.Base(h.Local))
}

func (h *Handle) marker() string {
	return string(h.Kind) + " " + h.Remote
}

// CloneFailed reports whether a clone attempt on this handle has failed.
func (h *Handle) CloneFailed() bool {
	return h.cloneFailed
}

// GotoRevision takes the working copy to a clean checkout of rev. The
// working copy may be dirty or missing beforehand. An empty rev selects
// the backend's default branch. The remote is contacted at most once per
// handle, and never when refresh is false.
func (h *Handle) GotoRevision(ctx context.Context, rev string, refresh bool) error {
	if h.cloneFailed {
		return &Error{Msg: "downloading the repository already failed once, not trying again"}
	}

	sidecar := h.SidecarPath()
	want := h.marker()
	writeback := true
	deleteRepo := false

	if exists(h.Local) {
		data, err := os.ReadFile(sidecar)
		switch {
		case err == nil && strings.TrimSpace(string(data)) == want:
			writeback = false
		case err == nil:
			deleteRepo = true
			log.Infof("Repository details for %s changed - deleting", h.Local)
		case errors.Is(err, os.ErrNotExist):
			deleteRepo = true
			log.Infof("Repository details for %s missing - deleting", h.Local)
		default:
			return &Error{Msg: "reading " + sidecar, Err: err}
		}
	}
	if deleteRepo {
		if err := os.RemoveAll(h.Local); err != nil {
			return &Error{Msg: "deleting " + h.Local, Err: err}
		}
	}

	if !refresh {
		h.refreshed = true
	}

	err := h.gotoRevision(ctx, rev)

	// The marker reflects the attempted kind and remote even when the
	// revision itself failed.
	if writeback && !h.cloneFailed {
		if werr := writeSidecar(sidecar, want); werr != nil {
			return &Error{Msg: "writing " + sidecar, Err: errors.Join(err, werr)}
		}
	}
	return err
}

func (h *Handle) gotoRevision(ctx context.Context, rev string) error {
	b := h.backend

	if !exists(h.Local) {
		if err := b.clone(ctx); err != nil {
			h.cloneFailed = true
			return err
		}
		// A fresh clone is as current as a fetch would make it.
		h.refreshed = true
		if err := b.checkRepo(ctx); err != nil {
			return err
		}
	} else {
		if err := b.checkRepo(ctx); err != nil {
			return err
		}
		if err := b.reset(ctx); err != nil {
			return err
		}
		if err := b.clean(ctx); err != nil {
			return err
		}
		if !h.refreshed {
			if err := b.fetch(ctx); err != nil {
				return err
			}
			h.refreshed = true
		}
	}

	if rev == "" {
		rev = b.defaultRev()
	}
	if err := b.checkout(ctx, rev); err != nil {
		return err
	}
	return b.postClean(ctx)
}

// InitSubmodules initialises and updates submodules recursively.
// ErrNoSubmodules is returned when the working copy declares none.
func (h *Handle) InitSubmodules(ctx context.Context) error {
	return h.backend.initSubmodules(ctx)
}

// Tags lists the repository's tags, dropping names outside a
// conservative charset.
func (h *Handle) Tags(ctx context.Context) ([]string, error) {
	all, err := h.backend.tags(ctx)
	if err != nil {
		return nil, err
	}
	return filterTags(all), nil
}

func filterTags(all []string) []string {
	var tags []string
	for _, t := range all {
		if tagPattern.MatchString(t) {
			tags = append(tags, t)
		}
	}
	return tags
}

// LatestTags lists tags ordered from newest to oldest.
func (h *Handle) LatestTags(ctx context.Context) ([]string, error) {
	return h.backend.latestTags(ctx)
}

// Ref returns the backend-native identifier of the checked out revision,
// or "" when it cannot be determined.
func (h *Handle) Ref(ctx context.Context) (string, error) {
	return h.backend.ref(ctx)
}

// ClientVersion returns the first line of the tool's version output.
func (h *Handle) ClientVersion(ctx context.Context) (string, error) {
	res, err := h.runner.Run(ctx, runner.Cmd{Args: h.backend.versionCmd(), SeparateStderr: true})
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(res.String(), "\n")
	return line, nil
}

func writeSidecar(path, data string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
