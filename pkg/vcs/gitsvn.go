package vcs

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/fdkit/fdkit/pkg/runner"
)

var gitSvnEnv = map[string]string{
	"GIT_TERMINAL_PROMPT": "0",
	"GIT_ASKPASS":         "/bin/true",
	"SSH_ASKPASS":         "/bin/true",
	"GIT_SSH":             "/bin/false",
	"SVN_SSH":             "/bin/false",
}

type gitSvnBackend struct {
	repo
	username string
	// client checks the remote before cloning. It must not follow
	// redirects so each Location can be inspected.
	client *http.Client
}

var _ backend = &gitSvnBackend{}

func newGitSvnBackend(rp repo, username string) *gitSvnBackend {
	return &gitSvnBackend{
		repo:     rp,
		username: username,
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (g *gitSvnBackend) git(ctx context.Context, c runner.Cmd) (*runner.Result, error) {
	c.Args = append([]string{"git", "-c", "core.askpass=/bin/true", "-c", "core.sshCommand=/bin/false"}, c.Args...)
	c.Env = gitSvnEnv
	if c.Dir == "" {
		c.Dir = g.local
	}
	return g.run(ctx, c)
}

func (g *gitSvnBackend) mustGit(ctx context.Context, msg string, args ...string) error {
	res, err := g.git(ctx, runner.Cmd{Args: args})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &Error{Msg: msg, Output: res.String()}
	}
	return nil
}

// svnRemote is a remote with its layout options split off, as in
// "https://host/repo;trunk=trunk;tags=tags".
type svnRemote struct {
	url  string
	opts []string
}

func parseSvnRemote(remote string) svnRemote {
	parts := strings.Split(remote, ";")
	r := svnRemote{url: parts[0]}
	for _, p := range parts[1:] {
		switch {
		case strings.HasPrefix(p, "trunk="):
			r.opts = append(r.opts, "-T", strings.TrimPrefix(p, "trunk="))
		case strings.HasPrefix(p, "tags="):
			r.opts = append(r.opts, "-t", strings.TrimPrefix(p, "tags="))
		case strings.HasPrefix(p, "branches="):
			r.opts = append(r.opts, "-b", strings.TrimPrefix(p, "branches="))
		}
	}
	return r
}

// validateRemote rejects anything but HTTPS and makes sure the server's
// certificate checks out and it does not redirect off HTTPS, since git
// svn itself is lax about both.
func validateRemote(ctx context.Context, client *http.Client, remote string) error {
	if !strings.HasPrefix(remote, "https://") {
		return &Error{Msg: "HTTPS must be used with Subversion URLs!"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, remote, nil)
	if err != nil {
		return &Error{Msg: "SVN certificate pre-validation failed", Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return &Error{Msg: "SVN certificate pre-validation failed", Err: err}
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &Error{Msg: fmt.Sprintf("SVN certificate pre-validation failed: %s", resp.Status)}
	}
	if loc := resp.Header.Get("Location"); loc != "" && !strings.HasPrefix(loc, "https://") {
		return &Error{Msg: fmt.Sprintf("Invalid redirect to non-HTTPS: %s -> %s", remote, loc)}
	}
	return nil
}

func (g *gitSvnBackend) clone(ctx context.Context) error {
	r := parseSvnRemote(g.remote)
	if err := validateRemote(ctx, g.client, r.url); err != nil {
		return err
	}

	args := append([]string{"svn", "clone"}, r.opts...)
	if g.username != "" {
		args = append(args, "--username", g.username)
	}
	args = append(args, "--", r.url, g.local)

	parent := filepath.Dir(g.local)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return &Error{Msg: "creating " + parent, Err: err}
	}
	res, err := g.git(ctx, runner.Cmd{Args: args, Dir: parent, Output: true})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &Error{Msg: "git svn clone failed", Output: res.String()}
	}
	return nil
}

func (g *gitSvnBackend) checkRepo(ctx context.Context) error {
	return g.checkTopLevel(ctx, "git", "rev-parse", "--show-toplevel")
}

func (g *gitSvnBackend) reset(ctx context.Context) error {
	return g.mustGit(ctx, "Git reset failed", "reset", "--hard")
}

func (g *gitSvnBackend) clean(ctx context.Context) error {
	return g.mustGit(ctx, "Git clean failed", "clean", "-dffx")
}

func (g *gitSvnBackend) fetch(ctx context.Context) error {
	if err := g.mustGit(ctx, "Git svn fetch failed", "svn", "fetch"); err != nil {
		return err
	}
	return g.mustGit(ctx, "Git svn rebase failed", "svn", "rebase")
}

// defaultRev assumes trunk.
func (g *gitSvnBackend) defaultRev() string {
	return "master"
}

// checkout tries rev as an svn tag, then as an svn revision (optionally
// prefixed by a branch, as in "branch/1234"), then as a git treeish.
func (g *gitSvnBackend) checkout(ctx context.Context, rev string) error {
	tag := strings.ReplaceAll(rev, " ", "%20")
	for _, prefix := range []string{"origin/", ""} {
		res, err := g.git(ctx, runner.Cmd{Args: []string{"checkout", prefix + "tags/" + tag}})
		if err != nil {
			return err
		}
		if res.ExitCode == 0 {
			return nil
		}
	}

	branch, svnRev := "master", rev
	if b, r, ok := strings.Cut(rev, "/"); ok {
		branch, svnRev = b, r
		if i := strings.Index(svnRev, "/"); i >= 0 {
			svnRev = svnRev[:i]
		}
	}
	if !strings.HasPrefix(svnRev, "r") {
		svnRev = "r" + svnRev
	}

	gitRev := ""
	for _, prefix := range []string{"origin/", ""} {
		res, err := g.git(ctx, runner.Cmd{
			Args:           []string{"svn", "find-rev", "--before", svnRev, prefix + branch},
			SeparateStderr: true,
		})
		if err != nil {
			return err
		}
		if res.ExitCode == 0 {
			if gitRev = strings.TrimSpace(res.String()); gitRev != "" {
				break
			}
		}
	}

	if gitRev == "" {
		return g.mustGit(ctx, fmt.Sprintf("No git treeish found and direct git checkout of '%s' failed", rev), "checkout", rev)
	}
	return g.mustGit(ctx, fmt.Sprintf("Git checkout of '%s' failed", rev), "checkout", gitRev)
}

func (g *gitSvnBackend) postClean(ctx context.Context) error {
	return g.clean(ctx)
}

func (g *gitSvnBackend) initSubmodules(context.Context) error {
	return fmt.Errorf("submodules: %w", ErrNotSupported)
}

// tags lists the svn tags git-svn has imported.
func (g *gitSvnBackend) tags(ctx context.Context) ([]string, error) {
	if err := g.checkRepo(ctx); err != nil {
		return nil, err
	}
	for _, prefix := range []string{"origin", ""} {
		dir := filepath.Join(g.local, ".git", "svn", "refs", "remotes", prefix, "tags")
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		tags := make([]string, 0, len(entries))
		for _, e := range entries {
			tags = append(tags, e.Name())
		}
		return tags, nil
	}
	return nil, nil
}

func (g *gitSvnBackend) latestTags(context.Context) ([]string, error) {
	return nil, fmt.Errorf("latest tags: %w", ErrNotSupported)
}

// ref is the svn revision of HEAD, or "" if git-svn cannot map it.
func (g *gitSvnBackend) ref(ctx context.Context) (string, error) {
	if err := g.checkRepo(ctx); err != nil {
		return "", err
	}
	res, err := g.run(ctx, runner.Cmd{Args: []string{"git", "svn", "find-rev", "HEAD"}, Dir: g.local, SeparateStderr: true})
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", nil
	}
	return strings.TrimSpace(res.String()), nil
}

func (g *gitSvnBackend) versionCmd() []string {
	return []string{"git", "svn", "--version"}
}
