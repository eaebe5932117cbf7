package vcs

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/fdkit/fdkit/pkg/runner"
	"github.com/fdkit/fdkit/pkg/store"
)

// requireGit skips the test if git is not available.
func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}
}

func gitCmd(t *testing.T, args ...string) string {
	t.Helper()
	out, err := exec.Command("git", args...).CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// setupBareRepo creates a bare repo with two commits. The first commit is
// tagged v1.0 (lightweight) and has app.txt = "one"; the second is tagged
// v2.0 (annotated) and has app.txt = "two". Returns the bare repo path
// and the work tree it was cloned from.
func setupBareRepo(t *testing.T) (bare, work string) {
	t.Helper()

	work = filepath.Join(t.TempDir(), "work")
	gitCmd(t, "init", "--initial-branch=main", work)
	gitCmd(t, "-C", work, "config", "user.email", "test@test.com")
	gitCmd(t, "-C", work, "config", "user.name", "Test")

	os.WriteFile(filepath.Join(work, "app.txt"), []byte("one"), 0o644)
	os.WriteFile(filepath.Join(work, ".gitignore"), []byte("ignored/\n"), 0o644)
	gitCmd(t, "-C", work, "add", ".")
	gitCmd(t, "-C", work, "commit", "-m", "first")
	gitCmd(t, "-C", work, "tag", "v1.0")

	os.WriteFile(filepath.Join(work, "app.txt"), []byte("two"), 0o644)
	gitCmd(t, "-C", work, "commit", "-am", "second")
	gitCmd(t, "-C", work, "tag", "-a", "v2.0", "-m", "version 2.0")

	bare = filepath.Join(t.TempDir(), "repo.git")
	gitCmd(t, "clone", "--bare", work, bare)
	return bare, work
}

func newGitHandle(t *testing.T, remote string) *Handle {
	t.Helper()
	local := filepath.Join(t.TempDir(), "build", "org.example.app")
	h, err := New(Git, remote, local, runner.New(nil))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return h
}

func readApp(t *testing.T, h *Handle) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(h.Local, "app.txt"))
	if err != nil {
		t.Fatalf("reading app.txt: %v", err)
	}
	return string(data)
}

func TestGitGotoRevision(t *testing.T) {
	requireGit(t)
	bare, work := setupBareRepo(t)

	tests := map[string]struct {
		rev  string
		want string
	}{
		"default branch":  {rev: "", want: "two"},
		"lightweight tag": {rev: "v1.0", want: "one"},
		"annotated tag":   {rev: "v2.0", want: "two"},
		"commit hash":     {rev: gitCmd(t, "-C", work, "rev-parse", "v1.0"), want: "one"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			h := newGitHandle(t, bare)
			if err := h.GotoRevision(context.Background(), tc.rev, true); err != nil {
				t.Fatalf("GotoRevision(%q) error = %v", tc.rev, err)
			}
			if got := readApp(t, h); got != tc.want {
				t.Errorf("app.txt = %q, want %q", got, tc.want)
			}

			data, err := os.ReadFile(h.SidecarPath())
			if err != nil {
				t.Fatalf("sidecar missing: %v", err)
			}
			if string(data) != "git "+bare {
				t.Errorf("sidecar = %q, want %q", data, "git "+bare)
			}
		})
	}
}

func TestGitGotoRevisionIdempotent(t *testing.T) {
	requireGit(t)
	bare, _ := setupBareRepo(t)
	h := newGitHandle(t, bare)
	ctx := context.Background()

	if err := h.GotoRevision(ctx, "v1.0", true); err != nil {
		t.Fatal(err)
	}
	first, err := store.HashDir(h.Local)
	if err != nil {
		t.Fatal(err)
	}

	// Dirty the tree every way a build would.
	os.WriteFile(filepath.Join(h.Local, "app.txt"), []byte("modified"), 0o644)
	os.WriteFile(filepath.Join(h.Local, "untracked.txt"), []byte("x"), 0o644)
	os.MkdirAll(filepath.Join(h.Local, "ignored"), 0o755)
	os.WriteFile(filepath.Join(h.Local, "ignored", "out.bin"), []byte("x"), 0o644)

	if err := h.GotoRevision(ctx, "v1.0", false); err != nil {
		t.Fatal(err)
	}
	second, err := store.HashDir(h.Local)
	if err != nil {
		t.Fatal(err)
	}

	if first != second {
		t.Errorf("working copy differs after second checkout: %s != %s", first, second)
	}
}

func TestGitGotoRevisionFetchesNewCommits(t *testing.T) {
	requireGit(t)
	bare, work := setupBareRepo(t)
	ctx := context.Background()

	h := newGitHandle(t, bare)
	if err := h.GotoRevision(ctx, "", true); err != nil {
		t.Fatal(err)
	}

	os.WriteFile(filepath.Join(work, "app.txt"), []byte("three"), 0o644)
	gitCmd(t, "-C", work, "commit", "-am", "third")
	gitCmd(t, "-C", work, "tag", "v3.0")
	gitCmd(t, "-C", work, "push", "--tags", bare, "main")

	// The same handle already talked to the remote once.
	if err := h.GotoRevision(ctx, "", true); err != nil {
		t.Fatal(err)
	}
	if got := readApp(t, h); got != "two" {
		t.Errorf("app.txt = %q, want %q before refresh", got, "two")
	}

	fresh, err := New(Git, bare, h.Local, runner.New(nil))
	if err != nil {
		t.Fatal(err)
	}
	if err := fresh.GotoRevision(ctx, "v3.0", true); err != nil {
		t.Fatal(err)
	}
	if got := readApp(t, fresh); got != "three" {
		t.Errorf("app.txt = %q, want %q after refresh", got, "three")
	}
}

func TestGitGotoRevisionReclonesOnRemoteChange(t *testing.T) {
	requireGit(t)
	bare, _ := setupBareRepo(t)
	otherBare, _ := setupBareRepo(t)
	ctx := context.Background()

	h := newGitHandle(t, bare)
	if err := h.GotoRevision(ctx, "", true); err != nil {
		t.Fatal(err)
	}
	marker := filepath.Join(h.Local, ".git", "fdkit-test-marker")
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	moved, err := New(Git, otherBare, h.Local, runner.New(nil))
	if err != nil {
		t.Fatal(err)
	}
	if err := moved.GotoRevision(ctx, "", false); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("working copy was not recreated for the new remote")
	}
	data, _ := os.ReadFile(moved.SidecarPath())
	if string(data) != "git "+otherBare {
		t.Errorf("sidecar = %q, want %q", data, "git "+otherBare)
	}
}

func TestGitGotoRevisionRepositoryMismatch(t *testing.T) {
	requireGit(t)
	bare, _ := setupBareRepo(t)

	// A plain directory inside an unrelated repository.
	parent := filepath.Join(t.TempDir(), "parent")
	gitCmd(t, "init", parent)
	keep := filepath.Join(parent, "keep.txt")
	os.WriteFile(keep, []byte("precious"), 0o644)

	local := filepath.Join(parent, "build", "org.example.app")
	os.MkdirAll(local, 0o755)

	h, err := New(Git, bare, local, runner.New(nil))
	if err != nil {
		t.Fatal(err)
	}
	os.WriteFile(h.SidecarPath(), []byte(h.marker()), 0o644)

	err = h.GotoRevision(context.Background(), "", true)
	if err == nil || !strings.Contains(err.Error(), "Repository mismatch") {
		t.Fatalf("GotoRevision() error = %v, want repository mismatch", err)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Errorf("parent repository was touched: %v", err)
	}
}

func TestGitGotoRevisionCloneFailure(t *testing.T) {
	requireGit(t)
	h := newGitHandle(t, filepath.Join(t.TempDir(), "does-not-exist.git"))

	err := h.GotoRevision(context.Background(), "", true)
	var vcsErr *Error
	if !errors.As(err, &vcsErr) || vcsErr.Msg != "Git clone failed" {
		t.Fatalf("GotoRevision() error = %v, want Git clone failed", err)
	}
	if !h.CloneFailed() {
		t.Error("CloneFailed() = false")
	}
}

func TestGitGotoRevisionBadRev(t *testing.T) {
	requireGit(t)
	bare, _ := setupBareRepo(t)
	h := newGitHandle(t, bare)

	err := h.GotoRevision(context.Background(), "no-such-rev", true)
	if err == nil || !strings.Contains(err.Error(), "Git checkout of 'no-such-rev' failed") {
		t.Fatalf("GotoRevision() error = %v", err)
	}
	if _, err := os.Stat(h.SidecarPath()); err != nil {
		t.Errorf("sidecar should be written after a failed checkout: %v", err)
	}
}

func TestGitTagsAndRef(t *testing.T) {
	requireGit(t)
	bare, work := setupBareRepo(t)
	h := newGitHandle(t, bare)
	ctx := context.Background()

	if err := h.GotoRevision(ctx, "v1.0", true); err != nil {
		t.Fatal(err)
	}

	tags, err := h.Tags(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"v1.0", "v2.0"}; !reflect.DeepEqual(tags, want) {
		t.Errorf("Tags() = %v, want %v", tags, want)
	}

	latest, err := h.LatestTags(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"v2.0", "v1.0"}; !reflect.DeepEqual(latest, want) {
		t.Errorf("LatestTags() = %v, want %v", latest, want)
	}

	ref, err := h.Ref(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := gitCmd(t, "-C", work, "rev-parse", "v1.0"); ref != want {
		t.Errorf("Ref() = %q, want %q", ref, want)
	}

	version, err := h.ClientVersion(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(version, "git version") {
		t.Errorf("ClientVersion() = %q", version)
	}
}

func TestGitInitSubmodulesWithoutGitmodules(t *testing.T) {
	requireGit(t)
	bare, _ := setupBareRepo(t)
	h := newGitHandle(t, bare)
	ctx := context.Background()

	if err := h.GotoRevision(ctx, "", true); err != nil {
		t.Fatal(err)
	}
	if err := h.InitSubmodules(ctx); !errors.Is(err, ErrNoSubmodules) {
		t.Errorf("InitSubmodules() error = %v, want ErrNoSubmodules", err)
	}
}

func TestRewriteSubmoduleURLs(t *testing.T) {
	in := `[submodule "lib"]
	path = lib
	url = git@github.com:owner/lib.git
[submodule "other"]
	path = other
	url = git@example.org:owner/other.git
`
	want := `[submodule "lib"]
	path = lib
	url = https://u:p@github.com/owner/lib.git
[submodule "other"]
	path = other
	url = git@example.org:owner/other.git
`
	if got := string(rewriteSubmoduleURLs([]byte(in))); got != want {
		t.Errorf("rewriteSubmoduleURLs() =\n%s\nwant\n%s", got, want)
	}
}

func TestParseDecorations(t *testing.T) {
	tests := map[string]struct {
		input string
		want  []string
	}{
		"head and tag": {
			input: " (HEAD -> main, tag: v2.0, origin/main)\n (tag: v1.0)",
			want:  []string{"v2.0", "v1.0"},
		},
		"two tags on one commit": {
			input: " (tag: v1.1, tag: v1.1-final)",
			want:  []string{"v1.1", "v1.1-final"},
		},
		"no tags": {
			input: " (origin/feature)\n",
			want:  nil,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := parseDecorations(tc.input); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("parseDecorations() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestGitHardening(t *testing.T) {
	args := strings.Join(gitHardening(), " ")
	for _, want := range []string{
		"core.askpass=/bin/true",
		"core.sshCommand=/bin/false",
		"url.https://.insteadOf=ssh://",
		"url.https://u:p@github.com/.insteadOf=git@github.com:",
		"url.https://u:p@gitlab.com.insteadOf=git://gitlab.com",
		"url.https://u:p@bitbucket.org.insteadOf=https://bitbucket.org",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("hardening args missing %q", want)
		}
	}
}
