package runner

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fdkit/fdkit/pkg/config"
)

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestRun(t *testing.T) {
	requireSh(t)

	tests := map[string]struct {
		cmd        Cmd
		wantCode   int
		wantOutput string
		wantStderr string
	}{
		"stdout captured": {
			cmd:        Cmd{Args: []string{"sh", "-c", "echo hello"}},
			wantOutput: "hello\n",
		},
		"non-zero exit is not an error": {
			cmd:      Cmd{Args: []string{"sh", "-c", "exit 4"}},
			wantCode: 4,
		},
		"stderr merged by default": {
			cmd:        Cmd{Args: []string{"sh", "-c", "echo oops >&2"}},
			wantOutput: "oops\n",
		},
		"stderr kept apart": {
			cmd:        Cmd{Args: []string{"sh", "-c", "echo out; echo err >&2"}, SeparateStderr: true},
			wantOutput: "out\n",
			wantStderr: "err\n",
		},
		"env overlay": {
			cmd:        Cmd{Args: []string{"sh", "-c", "echo $FDKIT_TEST_VAR"}, Env: map[string]string{"FDKIT_TEST_VAR": "set"}},
			wantOutput: "set\n",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			res, err := New(nil).Run(context.Background(), tc.cmd)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if res.ExitCode != tc.wantCode {
				t.Errorf("ExitCode = %d, want %d", res.ExitCode, tc.wantCode)
			}
			if got := res.String(); got != tc.wantOutput {
				t.Errorf("Output = %q, want %q", got, tc.wantOutput)
			}
			if got := string(res.Stderr); got != tc.wantStderr {
				t.Errorf("Stderr = %q, want %q", got, tc.wantStderr)
			}
		})
	}
}

func TestRunWorkingDirectory(t *testing.T) {
	requireSh(t)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := New(nil).Run(context.Background(), Cmd{Args: []string{"sh", "-c", "ls"}, Dir: dir})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(res.String(), "marker") {
		t.Errorf("Output = %q, want it to list marker", res.String())
	}
}

func TestRunLargeOutputDoesNotBlock(t *testing.T) {
	requireSh(t)

	// Enough on both streams to overflow a pipe buffer if either went unread.
	script := "i=0; while [ $i -lt 20000 ]; do echo xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx; echo yyyyyyyyyyyyyyyy >&2; i=$((i+1)); done"
	res, err := New(nil).Run(context.Background(), Cmd{Args: []string{"sh", "-c", script}, SeparateStderr: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := strings.Count(res.String(), "\n"); got != 20000 {
		t.Errorf("stdout lines = %d, want 20000", got)
	}
	if got := strings.Count(string(res.Stderr), "\n"); got != 20000 {
		t.Errorf("stderr lines = %d, want 20000", got)
	}
}

func TestRunLaunchError(t *testing.T) {
	_, err := New(nil).Run(context.Background(), Cmd{Args: []string{"fdkit-definitely-not-a-command"}})
	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("Run() error = %v, want *LaunchError", err)
	}
	if !strings.Contains(err.Error(), "fdkit-definitely-not-a-command") {
		t.Errorf("error %q does not name the command", err)
	}
}

func TestRunEmptyCommand(t *testing.T) {
	if _, err := New(nil).Run(context.Background(), Cmd{}); err == nil {
		t.Fatal("Run() with no args should fail")
	}
}

func TestResultStringDropsInvalidUTF8(t *testing.T) {
	res := &Result{Output: []byte("ok\xffdone")}
	if got := res.String(); got != "okdone" {
		t.Errorf("String() = %q, want %q", got, "okdone")
	}
}

func TestResultCheck(t *testing.T) {
	if err := (&Result{}).Check("fine"); err != nil {
		t.Errorf("Check() on success = %v", err)
	}

	err := (&Result{ExitCode: 2, Output: []byte("boom\n")}).Check("Error running init command")
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Check() error = %v, want *ExitError", err)
	}
	if exitErr.Code != 2 || exitErr.Output != "boom\n" {
		t.Errorf("ExitError = %+v", exitErr)
	}
	if want := "Error running init command (exit code 2)\nboom"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestMergeEnv(t *testing.T) {
	got := mergeEnv([]string{"A=1", "B=2"}, map[string]string{"B": "3", "D": "5", "C": "4"})
	want := []string{"A=1", "B=3", "C=4", "D=5"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("mergeEnv() = %v, want %v", got, want)
	}
}

func TestBuildEnv(t *testing.T) {
	cfg := config.Default()
	cfg.SDK.Path = "/opt/sdk"
	cfg.SDK.JavaHomes = map[string]string{"17": "/usr/lib/jvm/17"}

	tests := map[string]struct {
		base     []string
		wantLang string
	}{
		"locale missing": {
			base:     []string{"PATH=/bin"},
			wantLang: "en_US.UTF-8",
		},
		"locale C is replaced": {
			base:     []string{"LANG=C"},
			wantLang: "en_US.UTF-8",
		},
		"locale kept": {
			base:     []string{"LANG=de_DE.UTF-8"},
			wantLang: "de_DE.UTF-8",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			env := envMap(buildEnv(tc.base, cfg))
			if env["LANG"] != tc.wantLang {
				t.Errorf("LANG = %q, want %q", env["LANG"], tc.wantLang)
			}
			if env["ANDROID_HOME"] != "/opt/sdk" || env["ANDROID_SDK"] != "/opt/sdk" {
				t.Errorf("SDK vars = %q/%q, want /opt/sdk", env["ANDROID_HOME"], env["ANDROID_SDK"])
			}
			if env["JAVA17_HOME"] != "/usr/lib/jvm/17" {
				t.Errorf("JAVA17_HOME = %q", env["JAVA17_HOME"])
			}
		})
	}
}

func TestWithNDK(t *testing.T) {
	r := New([]string{"PATH=/usr/bin:/bin"})

	if got := r.WithNDK(""); got != r {
		t.Error("WithNDK(\"\") should return the same runner")
	}

	env := envMap(r.WithNDK("/opt/ndk").Environ())
	if env["PATH"] != "/opt/ndk:/usr/bin:/bin" {
		t.Errorf("PATH = %q", env["PATH"])
	}
	for _, k := range []string{"ANDROID_NDK", "NDK", "ANDROID_NDK_HOME"} {
		if env[k] != "/opt/ndk" {
			t.Errorf("%s = %q, want /opt/ndk", k, env[k])
		}
	}

	again := envMap(r.WithNDK("/opt/ndk").WithNDK("/opt/ndk").Environ())
	if again["PATH"] != "/opt/ndk:/usr/bin:/bin" {
		t.Errorf("PATH after second WithNDK = %q", again["PATH"])
	}
}

func envMap(env []string) map[string]string {
	m := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
	}
	return m
}
