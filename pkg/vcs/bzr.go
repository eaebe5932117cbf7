package vcs

import (
	"context"
	"fmt"
	"strings"

	"github.com/fdkit/fdkit/pkg/runner"
)

// bzrEnv keeps bzr off ssh entirely.
var bzrEnv = map[string]string{"BZR_SSH": "false"}

type bzrBackend struct {
	repo
}

var _ backend = &bzrBackend{}

func (b *bzrBackend) bzr(ctx context.Context, msg string, args ...string) (*runner.Result, error) {
	return b.must(ctx, msg, runner.Cmd{Args: append([]string{"bzr"}, args...), Dir: b.local, Env: bzrEnv})
}

func (b *bzrBackend) clone(ctx context.Context) error {
	_, err := b.must(ctx, "Bzr branch failed", runner.Cmd{
		Args: []string{"bzr", "branch", b.remote, b.local},
		Env:  bzrEnv,
	})
	return err
}

func (b *bzrBackend) checkRepo(ctx context.Context) error {
	return b.checkTopLevel(ctx, "bzr", "root")
}

// reset is a no-op: revert on checkout discards local changes.
func (b *bzrBackend) reset(context.Context) error {
	return nil
}

func (b *bzrBackend) clean(ctx context.Context) error {
	_, err := b.bzr(ctx, "Bzr clean-tree failed", "clean-tree", "--force", "--unknown", "--ignored")
	return err
}

func (b *bzrBackend) fetch(ctx context.Context) error {
	_, err := b.bzr(ctx, "Bzr update failed", "pull")
	return err
}

// defaultRev is empty: a bare revert goes to the branch tip.
func (b *bzrBackend) defaultRev() string {
	return ""
}

func (b *bzrBackend) checkout(ctx context.Context, rev string) error {
	args := []string{"revert"}
	if rev != "" {
		args = append(args, "-r", rev)
	}
	_, err := b.bzr(ctx, fmt.Sprintf("Bzr revert of '%s' failed", rev), args...)
	return err
}

func (b *bzrBackend) postClean(ctx context.Context) error {
	return b.clean(ctx)
}

func (b *bzrBackend) initSubmodules(context.Context) error {
	return fmt.Errorf("submodules: %w", ErrNotSupported)
}

func (b *bzrBackend) tags(ctx context.Context) ([]string, error) {
	res, err := b.bzr(ctx, "Bzr tags failed", "tags")
	if err != nil {
		return nil, err
	}
	return parseBzrTags(res.String()), nil
}

// parseBzrTags reads "name   revno" lines.
func parseBzrTags(out string) []string {
	var tags []string
	for _, line := range splitLines(out) {
		name, _, _ := strings.Cut(line, "   ")
		tags = append(tags, strings.TrimSpace(name))
	}
	return tags
}

func (b *bzrBackend) latestTags(context.Context) ([]string, error) {
	return nil, fmt.Errorf("latest tags: %w", ErrNotSupported)
}

func (b *bzrBackend) ref(context.Context) (string, error) {
	return "", fmt.Errorf("ref: %w", ErrNotSupported)
}

func (b *bzrBackend) versionCmd() []string {
	return []string{"bzr", "--version"}
}
