package apksig

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/fdkit/fdkit/pkg/runner"
	"github.com/fdkit/fdkit/pkg/tools"
)

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

// fakeTool writes an executable script that records its arguments to
// <name>.args and then runs body.
func fakeTool(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	script := "#!/bin/sh\nprintf '%s\\n' \"$@\" > \"" + p + ".args\"\n" + body + "\n"
	if err := os.WriteFile(p, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return p
}

func recordedArgs(t *testing.T, tool string) []string {
	t.Helper()
	data, err := os.ReadFile(tool + ".args")
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func newTestVerifier(t *testing.T, configured map[string]string) *Verifier {
	t.Helper()
	dir := t.TempDir()
	// A configured path that is not executable hides the tool from PATH.
	missing := filepath.Join(dir, "missing")
	all := map[string]string{tools.Apksigner: missing, tools.Jarsigner: missing}
	for k, v := range configured {
		all[k] = v
	}
	return &Verifier{
		Tools:     tools.NewFinder(all, ""),
		Runner:    runner.New(nil),
		PolicyDir: dir,
	}
}

func TestVerifyWithApksigner(t *testing.T) {
	requireSh(t)

	tests := map[string]struct {
		exit     string
		minSDK   int
		verbose  bool
		want     bool
		wantArgs []string
	}{
		"verified": {
			exit:     "exit 0",
			want:     true,
			wantArgs: []string{"verify", "app.apk"},
		},
		"rejected": {
			exit:     "echo 'DOES NOT VERIFY' >&2; exit 1",
			wantArgs: []string{"verify", "app.apk"},
		},
		"min sdk and verbose": {
			exit:     "exit 0",
			minSDK:   21,
			verbose:  true,
			want:     true,
			wantArgs: []string{"verify", "--min-sdk-version=21", "--verbose", "app.apk"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			apksigner := fakeTool(t, t.TempDir(), "apksigner", tc.exit)
			v := newTestVerifier(t, map[string]string{tools.Apksigner: apksigner})
			v.Verbose = tc.verbose

			got, err := v.Verify(context.Background(), "app.apk", tc.minSDK)
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if got != tc.want {
				t.Errorf("Verify() = %v, want %v", got, tc.want)
			}
			if args := recordedArgs(t, apksigner); strings.Join(args, " ") != strings.Join(tc.wantArgs, " ") {
				t.Errorf("apksigner args = %v, want %v", args, tc.wantArgs)
			}
		})
	}
}

func TestVerifyFallsBackToJarsigner(t *testing.T) {
	requireSh(t)

	tests := map[string]struct {
		exit int
		want bool
	}{
		"exit 4 is a valid unchained signature": {exit: 4, want: true},
		"exit 0 means unsigned":                 {exit: 0},
		"other failure":                         {exit: 1},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			jarsigner := fakeTool(t, t.TempDir(), "jarsigner", "exit "+strconv.Itoa(tc.exit))
			v := newTestVerifier(t, map[string]string{tools.Jarsigner: jarsigner})

			got, err := v.Verify(context.Background(), "app.apk", 0)
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if got != tc.want {
				t.Errorf("Verify() = %v, want %v", got, tc.want)
			}
			want := "-strict -verify app.apk"
			if args := strings.Join(recordedArgs(t, jarsigner), " "); args != want {
				t.Errorf("jarsigner args = %q, want %q", args, want)
			}
		})
	}
}

func TestVerifyWarnsOnce(t *testing.T) {
	requireSh(t)
	hook := test.NewGlobal()
	defer hook.Reset()

	jarsigner := fakeTool(t, t.TempDir(), "jarsigner", "exit 4")
	v := newTestVerifier(t, map[string]string{tools.Jarsigner: jarsigner})

	for i := 0; i < 3; i++ {
		if ok, err := v.Verify(context.Background(), "app.apk", 0); err != nil || !ok {
			t.Fatalf("Verify() = %v, %v", ok, err)
		}
	}

	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Level == log.WarnLevel && strings.Contains(e.Message, "Use apksigner") {
			warnings++
		}
	}
	if warnings != 1 {
		t.Errorf("degraded-mode warning logged %d times, want 1", warnings)
	}
}

func TestVerifyNoTools(t *testing.T) {
	v := newTestVerifier(t, nil)
	ok, err := v.Verify(context.Background(), "app.apk", 0)
	if err == nil || ok {
		t.Fatalf("Verify() = %v, %v; want an error", ok, err)
	}
}

func TestVerifyJARError(t *testing.T) {
	requireSh(t)
	jarsigner := fakeTool(t, t.TempDir(), "jarsigner", "echo 'jar is unsigned.'; exit 0")
	v := newTestVerifier(t, map[string]string{tools.Jarsigner: jarsigner})

	err := v.VerifyJAR(context.Background(), "lib.jar")
	var verr *VerificationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected VerificationError, got %v", err)
	}
	if !strings.Contains(verr.Output, "jar is unsigned.") {
		t.Errorf("Output = %q", verr.Output)
	}
}

func TestVerifyLegacy(t *testing.T) {
	requireSh(t)

	// The script saves what it saw of the policy file while running.
	body := `f="${1#-J-Djava.security.properties=}"
cat "$f" > "$0.policy"
ls -l "$f" | cut -c1-10 > "$0.mode"
exit $CODE`

	tests := map[string]struct {
		code string
		want bool
	}{
		"exit 4 verifies":    {code: "4", want: true},
		"exit 0 is unsigned": {code: "0"},
		"exit 1 fails":       {code: "1"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			jarsigner := fakeTool(t, t.TempDir(), "jarsigner", body)
			v := newTestVerifier(t, map[string]string{tools.Jarsigner: jarsigner})
			v.Runner = v.Runner.With(map[string]string{"CODE": tc.code})
			v.DisabledAlgorithms = "MD2, RSA keySize < 1024"

			got, err := v.VerifyLegacy(context.Background(), "old.apk")
			if err != nil {
				t.Fatalf("VerifyLegacy() error = %v", err)
			}
			if got != tc.want {
				t.Errorf("VerifyLegacy() = %v, want %v", got, tc.want)
			}

			policy := filepath.Join(v.PolicyDir, ".java.security")
			args := recordedArgs(t, jarsigner)
			wantArgs := []string{"-J-Djava.security.properties=" + policy, "-strict", "-verify", "old.apk"}
			if strings.Join(args, " ") != strings.Join(wantArgs, " ") {
				t.Errorf("args = %v, want %v", args, wantArgs)
			}

			content, err := os.ReadFile(jarsigner + ".policy")
			if err != nil {
				t.Fatal(err)
			}
			if string(content) != "jdk.jar.disabledAlgorithms=MD2, RSA keySize < 1024" {
				t.Errorf("policy content = %q", content)
			}
			mode, err := os.ReadFile(jarsigner + ".mode")
			if err != nil {
				t.Fatal(err)
			}
			if strings.TrimSpace(string(mode)) != "-r--------" {
				t.Errorf("policy mode while running = %q, want -r--------", mode)
			}
			if _, err := os.Stat(policy); !os.IsNotExist(err) {
				t.Errorf("policy file not removed: %v", err)
			}
		})
	}
}

func TestVerifyLegacyReplacesStalePolicy(t *testing.T) {
	requireSh(t)
	jarsigner := fakeTool(t, t.TempDir(), "jarsigner", `cat "${1#-J-Djava.security.properties=}" > "$0.policy"; exit 4`)
	v := newTestVerifier(t, map[string]string{tools.Jarsigner: jarsigner})

	policy := filepath.Join(v.PolicyDir, ".java.security")
	if err := os.WriteFile(policy, []byte("jdk.jar.disabledAlgorithms="), 0o644); err != nil {
		t.Fatal(err)
	}

	if ok, err := v.VerifyLegacy(context.Background(), "old.apk"); err != nil || !ok {
		t.Fatalf("VerifyLegacy() = %v, %v", ok, err)
	}
	content, err := os.ReadFile(jarsigner + ".policy")
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "jdk.jar.disabledAlgorithms=MD2, RSA keySize < 1024" {
		t.Errorf("stale policy was reused: %q", content)
	}
}
