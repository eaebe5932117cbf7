package vcs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fdkit/fdkit/pkg/runner"
)

const purgeHint = "'purge' is provided by the following extension"

type hgBackend struct {
	repo
}

var _ backend = &hgBackend{}

func (h *hgBackend) hg(ctx context.Context, msg string, args ...string) (*runner.Result, error) {
	return h.must(ctx, msg, runner.Cmd{Args: append([]string{"hg"}, args...), Dir: h.local})
}

func (h *hgBackend) clone(ctx context.Context) error {
	_, err := h.must(ctx, "Hg clone failed", runner.Cmd{
		Args:   []string{"hg", "clone", "--ssh", "/bin/false", "--", h.remote, h.local},
		Output: true,
	})
	return err
}

func (h *hgBackend) checkRepo(ctx context.Context) error {
	return h.checkTopLevel(ctx, "hg", "root")
}

// reset is a no-op: update -C discards local changes on checkout.
func (h *hgBackend) reset(context.Context) error {
	return nil
}

// clean removes everything hg reports as unknown.
func (h *hgBackend) clean(ctx context.Context) error {
	res, err := h.hg(ctx, "Hg status failed", "status", "-uS")
	if err != nil {
		return err
	}
	for _, line := range splitLines(res.String()) {
		path, ok := strings.CutPrefix(line, "? ")
		if !ok {
			return &Error{Msg: "Unexpected output from hg status -uS: " + line}
		}
		if err := os.RemoveAll(filepath.Join(h.local, path)); err != nil {
			return &Error{Msg: "removing " + path, Err: err}
		}
	}
	return nil
}

func (h *hgBackend) fetch(ctx context.Context) error {
	_, err := h.hg(ctx, "Hg pull failed", "pull", "--ssh", "/bin/false")
	return err
}

func (h *hgBackend) defaultRev() string {
	return "default"
}

func (h *hgBackend) checkout(ctx context.Context, rev string) error {
	_, err := h.hg(ctx, fmt.Sprintf("Hg checkout of '%s' failed", rev), "update", "-C", "--", rev)
	return err
}

// postClean purges untracked files, enabling the purge extension in the
// working copy first if this hg does not ship it enabled.
func (h *hgBackend) postClean(ctx context.Context) error {
	res, err := h.run(ctx, runner.Cmd{Args: []string{"hg", "purge", "--all"}, Dir: h.local})
	if err != nil {
		return err
	}
	if strings.Contains(res.String(), purgeHint) {
		if err := h.enablePurge(); err != nil {
			return err
		}
		_, err := h.hg(ctx, "HG purge failed", "purge", "--all")
		return err
	}
	if res.ExitCode != 0 {
		return &Error{Msg: "HG purge failed", Output: res.String()}
	}
	return nil
}

func (h *hgBackend) enablePurge() error {
	f, err := os.OpenFile(filepath.Join(h.local, ".hg", "hgrc"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &Error{Msg: "opening hgrc", Err: err}
	}
	if _, err := f.WriteString("\n[extensions]\nhgext.purge=\n"); err != nil {
		f.Close()
		return &Error{Msg: "writing hgrc", Err: err}
	}
	return f.Close()
}

func (h *hgBackend) initSubmodules(context.Context) error {
	return fmt.Errorf("submodules: %w", ErrNotSupported)
}

// tags skips the first line of the listing, which is always tip.
func (h *hgBackend) tags(ctx context.Context) ([]string, error) {
	res, err := h.hg(ctx, "Hg tags failed", "tags", "-q")
	if err != nil {
		return nil, err
	}
	lines := splitLines(res.String())
	if len(lines) == 0 {
		return nil, nil
	}
	return lines[1:], nil
}

func (h *hgBackend) latestTags(context.Context) ([]string, error) {
	return nil, fmt.Errorf("latest tags: %w", ErrNotSupported)
}

func (h *hgBackend) ref(context.Context) (string, error) {
	return "", fmt.Errorf("ref: %w", ErrNotSupported)
}

func (h *hgBackend) versionCmd() []string {
	return []string{"hg", "--version"}
}
