package vcs

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fdkit/fdkit/pkg/runner"
)

// repo is the state every backend shares.
type repo struct {
	remote string
	local  string
	runner *runner.Runner
}

// run executes args. Only a failure to start the tool is an error; the
// caller judges the exit code.
func (r *repo) run(ctx context.Context, c runner.Cmd) (*runner.Result, error) {
	res, err := r.runner.Run(ctx, c)
	if err != nil {
		return nil, &Error{Msg: "running " + c.Args[0], Err: err}
	}
	return res, nil
}

// must runs c and turns a non-zero exit into an Error carrying msg.
func (r *repo) must(ctx context.Context, msg string, c runner.Cmd) (*runner.Result, error) {
	res, err := r.run(ctx, c)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, &Error{Msg: msg, Output: res.String()}
	}
	return res, nil
}

// checkTopLevel compares the tool's idea of the repository root with the
// working copy path. A different answer means local is not a repository
// and the tool walked up into some enclosing one.
func (r *repo) checkTopLevel(ctx context.Context, args ...string) error {
	res, err := r.run(ctx, runner.Cmd{Args: args, Dir: r.local, SeparateStderr: true})
	if err != nil {
		return err
	}
	top := strings.TrimRight(res.String(), "\r\n")
	if res.ExitCode != 0 || !samePath(top, r.local) {
		return &Error{Msg: "Repository mismatch", Output: top}
	}
	return nil
}

func samePath(a, b string) bool {
	if a == "" {
		return false
	}
	if ra, err := filepath.EvalSymlinks(a); err == nil {
		a = ra
	}
	if rb, err := filepath.EvalSymlinks(b); err == nil {
		b = rb
	}
	return filepath.Clean(a) == filepath.Clean(b)
}
