package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/fdkit/fdkit/pkg/runner"
)

// rewriteDomains are the hosts whose SSH remotes are forced onto HTTPS
// with dummy credentials, so a submodule can never make git prompt or
// fall back to ssh.
var rewriteDomains = []string{"bitbucket.org", "github.com", "gitlab.com"}

var latestTagPattern = regexp.MustCompile(`tag: ([^),]*)`)

// gitNoPromptEnv keeps every git version away from terminals and ssh.
var gitNoPromptEnv = map[string]string{
	"GIT_TERMINAL_PROMPT": "0",
	"GIT_ASKPASS":         "/bin/true",
	"SSH_ASKPASS":         "/bin/true",
	"GIT_SSH":             "/bin/false",
}

func gitHardening() []string {
	args := []string{
		"-c", "core.askpass=/bin/true",
		"-c", "core.sshCommand=/bin/false",
		"-c", "url.https://.insteadOf=ssh://",
	}
	for _, d := range rewriteDomains {
		args = append(args,
			"-c", "url.https://u:p@"+d+"/.insteadOf=git@"+d+":",
			"-c", "url.https://u:p@"+d+".insteadOf=git://"+d,
			"-c", "url.https://u:p@"+d+".insteadOf=https://"+d,
		)
	}
	return args
}

type gitBackend struct {
	repo
}

var _ backend = &gitBackend{}

// network runs a git command that may talk to a remote.
func (g *gitBackend) network(ctx context.Context, msg, dir string, args ...string) error {
	_, err := g.must(ctx, msg, runner.Cmd{
		Args:   append(append([]string{"git"}, gitHardening()...), args...),
		Dir:    dir,
		Env:    gitNoPromptEnv,
		Output: true,
	})
	return err
}

func (g *gitBackend) git(ctx context.Context, msg string, args ...string) (*runner.Result, error) {
	return g.must(ctx, msg, runner.Cmd{Args: append([]string{"git"}, args...), Dir: g.local})
}

func (g *gitBackend) clone(ctx context.Context) error {
	return g.network(ctx, "Git clone failed", "", "clone", "--", g.remote, g.local)
}

func (g *gitBackend) checkRepo(ctx context.Context) error {
	return g.checkTopLevel(ctx, "git", "rev-parse", "--show-toplevel")
}

func (g *gitBackend) reset(ctx context.Context) error {
	if _, err := g.git(ctx, "Git reset failed", "reset", "--hard"); err != nil {
		return err
	}
	_, err := g.git(ctx, "Git reset failed", "submodule", "foreach", "--recursive", "git", "reset", "--hard")
	return err
}

// clean runs before checkout too, in case untracked files are tracked in
// the target revision.
func (g *gitBackend) clean(ctx context.Context) error {
	if _, err := g.git(ctx, "Git clean failed", "clean", "-dffx"); err != nil {
		return err
	}
	_, err := g.git(ctx, "Git clean failed", "submodule", "foreach", "--recursive", "git", "clean", "-dffx")
	return err
}

func (g *gitBackend) fetch(ctx context.Context) error {
	if err := g.network(ctx, "Git fetch failed", g.local, "fetch", "origin"); err != nil {
		return err
	}
	if err := g.network(ctx, "Git fetch failed", g.local, "fetch", "--prune", "--tags", "--force", "origin"); err != nil {
		return err
	}
	return g.setHead(ctx)
}

// setHead recreates origin/HEAD the way clone would, in case it
// disappeared.
func (g *gitBackend) setHead(ctx context.Context) error {
	res, err := g.run(ctx, runner.Cmd{Args: []string{"git", "remote", "set-head", "origin", "--auto"}, Dir: g.local})
	if err != nil {
		return err
	}
	if res.ExitCode == 0 {
		return nil
	}

	out := res.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 || !strings.Contains(lines[0], "Multiple remote HEAD branches") {
		return &Error{Msg: "Git remote set-head failed", Output: out}
	}
	fields := strings.Fields(lines[1])
	if len(fields) == 0 {
		return &Error{Msg: "Git remote set-head failed", Output: out}
	}
	branch := fields[len(fields)-1]

	res2, err := g.run(ctx, runner.Cmd{Args: []string{"git", "remote", "set-head", "origin", "--", branch}, Dir: g.local})
	if err != nil {
		return err
	}
	if res2.ExitCode != 0 {
		return &Error{Msg: "Git remote set-head failed", Output: out + "\n" + res2.String()}
	}
	return nil
}

// defaultRev is the remote's advertised default branch.
func (g *gitBackend) defaultRev() string {
	return "origin/HEAD"
}

func (g *gitBackend) checkout(ctx context.Context, rev string) error {
	_, err := g.git(ctx, fmt.Sprintf("Git checkout of '%s' failed", rev), "checkout", "-f", rev)
	return err
}

func (g *gitBackend) postClean(ctx context.Context) error {
	_, err := g.git(ctx, "Git clean failed", "clean", "-dffx")
	return err
}

func (g *gitBackend) initSubmodules(ctx context.Context) error {
	if err := g.checkRepo(ctx); err != nil {
		return err
	}

	path := filepath.Join(g.local, ".gitmodules")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ErrNoSubmodules
	}
	if err != nil {
		return &Error{Msg: "reading .gitmodules", Err: err}
	}

	// Submodules behind ssh would need an account and a key.
	fixed := rewriteSubmoduleURLs(data)
	if !bytes.Equal(fixed, data) {
		if err := os.WriteFile(path, fixed, 0o644); err != nil {
			return &Error{Msg: "writing .gitmodules", Err: err}
		}
	}

	if _, err := g.git(ctx, "Git submodule sync failed", "submodule", "sync"); err != nil {
		return err
	}
	return g.network(ctx, "Git submodule update failed", g.local, "submodule", "update", "--init", "--force", "--recursive")
}

func rewriteSubmoduleURLs(data []byte) []byte {
	for _, d := range rewriteDomains {
		data = bytes.ReplaceAll(data, []byte("git@"+d+":"), []byte("https://u:p@"+d+"/"))
	}
	return data
}

func (g *gitBackend) tags(ctx context.Context) ([]string, error) {
	if err := g.checkRepo(ctx); err != nil {
		return nil, err
	}
	res, err := g.git(ctx, "Git tag failed", "tag")
	if err != nil {
		return nil, err
	}
	return splitLines(res.String()), nil
}

func (g *gitBackend) latestTags(ctx context.Context) ([]string, error) {
	if err := g.checkRepo(ctx); err != nil {
		return nil, err
	}
	res, err := g.git(ctx, "Git log failed", "log", "--tags", "--simplify-by-decoration", "--pretty=format:%d")
	if err != nil {
		return nil, err
	}
	return parseDecorations(res.String()), nil
}

// parseDecorations pulls tag names out of %d decorations, keeping the
// newest-first order of git log.
func parseDecorations(out string) []string {
	var tags []string
	for _, line := range strings.Split(out, "\n") {
		for _, m := range latestTagPattern.FindAllStringSubmatch(line, -1) {
			tags = append(tags, m[1])
		}
	}
	return tags
}

func (g *gitBackend) ref(ctx context.Context) (string, error) {
	if err := g.checkRepo(ctx); err != nil {
		return "", err
	}
	res, err := g.git(ctx, "Git rev-parse failed", "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.String()), nil
}

func (g *gitBackend) versionCmd() []string {
	return []string{"git", "--version"}
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimRight(line, "\r"); line != "" {
			out = append(out, line)
		}
	}
	return out
}
