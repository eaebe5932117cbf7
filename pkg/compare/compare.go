// Package compare checks that an APK built from source matches a signed
// release, by moving the release's v1 signature onto the build and
// verifying it. When that fails the two archives are diffed.
package compare

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/fdkit/fdkit/pkg/apksig"
	"github.com/fdkit/fdkit/pkg/runner"
	"github.com/fdkit/fdkit/pkg/tools"
)

// minSigningEntries is the manifest, one .SF and one signature block.
const minSigningEntries = 3

var badChars = regexp.MustCompile(`[/ :;'"]`)

// Result is the outcome of a comparison. Exactly one of OK and Diagnostic
// is set.
type Result struct {
	OK         bool
	Diagnostic string
}

func (r Result) String() string {
	if r.OK {
		return "verified"
	}
	return r.Diagnostic
}

func verified() Result {
	return Result{OK: true}
}

func diagnostic(format string, args ...any) Result {
	return Result{Diagnostic: fmt.Sprintf(format, args...)}
}

// Verifier checks the signature of an APK.
type Verifier interface {
	Verify(ctx context.Context, apk string, minSDK int) (bool, error)
}

// Engine runs comparisons. Tools are optional except for what the Verifier
// needs: diffoscope, apktool and meld are used when present.
type Engine struct {
	Tools    *tools.Finder
	Runner   *runner.Runner
	Verifier Verifier
}

func New(finder *tools.Finder, r *runner.Runner, v Verifier) *Engine {
	return &Engine{Tools: finder, Runner: r, Verifier: v}
}

// ReconcileAndVerify copies the v1 signature of signed onto the contents of
// unsigned, in tmpDir, and verifies the result. Differences between the
// archives are reported in the Result; the error is reserved for I/O and
// tool failures.
func (e *Engine) ReconcileAndVerify(ctx context.Context, signed, unsigned, tmpDir string) (Result, error) {
	for _, p := range []string{signed, unsigned} {
		if fi, err := os.Stat(p); err != nil || !fi.Mode().IsRegular() {
			return diagnostic("can not verify: file does not exists: %s", p), nil
		}
	}

	tmpAPK, res, err := reconcile(signed, unsigned, tmpDir)
	if err != nil || !res.OK {
		return res, err
	}

	ok, err := e.Verifier.Verify(ctx, tmpAPK, 0)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		log.Infof("...NOT verified - %s", tmpAPK)
		return e.CompareAPKs(ctx, signed, tmpAPK, tmpDir, filepath.Dir(unsigned))
	}
	log.Info("...successfully verified")
	return verified(), nil
}

// reconcile writes tmpDir/sigcp_<unsigned> holding the signing entries of
// signed followed by every other entry of unsigned. An OK result carries
// the path of the new archive.
func reconcile(signed, unsigned, tmpDir string) (string, Result, error) {
	sr, err := zip.OpenReader(signed)
	if err != nil {
		return "", Result{}, fmt.Errorf("opening %s: %w", signed, err)
	}
	defer sr.Close()

	// The manifest always counts as a signing entry of unsigned, even
	// when signed lacks it.
	signing := map[string]bool{apksig.ManifestName: true}
	var sigEntries []*zip.File
	for _, f := range sr.File {
		if apksig.IsSigningEntry(f.Name, true) {
			signing[f.Name] = true
			sigEntries = append(sigEntries, f)
		}
	}
	if len(sigEntries) < minSigningEntries {
		return "", diagnostic("Signature files missing from %s", signed), nil
	}

	ur, err := zip.OpenReader(unsigned)
	if err != nil {
		return "", Result{}, fmt.Errorf("opening %s: %w", unsigned, err)
	}
	defer ur.Close()

	tmpAPK := filepath.Join(tmpDir, "sigcp_"+filepath.Base(unsigned))
	out, err := os.Create(tmpAPK)
	if err != nil {
		return "", Result{}, err
	}
	res, err := writeReconciled(out, sigEntries, ur.File, signing, unsigned)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil || !res.OK {
		os.Remove(tmpAPK)
		return "", res, err
	}
	return tmpAPK, res, nil
}

func writeReconciled(out *os.File, sigEntries, entries []*zip.File, signing map[string]bool, unsigned string) (Result, error) {
	zw := zip.NewWriter(out)
	written := map[string]bool{}
	for _, f := range sigEntries {
		if err := zw.Copy(f); err != nil {
			return Result{}, fmt.Errorf("copying %s: %w", f.Name, err)
		}
		written[f.Name] = true
	}
	for _, f := range entries {
		if signing[f.Name] {
			log.Warnf("Ignoring %s from %s", f.Name, unsigned)
			continue
		}
		if written[f.Name] {
			return diagnostic("duplicate filename found: %s", f.Name), nil
		}
		if err := zw.Copy(f); err != nil {
			return Result{}, fmt.Errorf("copying %s: %w", f.Name, err)
		}
		written[f.Name] = true
	}
	if err := zw.Close(); err != nil {
		return Result{}, err
	}
	return verified(), nil
}

// CompareAPKs diffs the contents of two APKs below tmpDir. It passes when
// the only difference is a single line about META-INF. diffoscope reports
// go to logDir, which defaults to tmpDir.
func (e *Engine) CompareAPKs(ctx context.Context, apk1, apk2, tmpDir, logDir string) (Result, error) {
	if logDir == "" {
		logDir = tmpDir
	}
	abs1, err := filepath.Abs(apk1)
	if err != nil {
		return Result{}, err
	}
	abs2, err := filepath.Abs(apk2)
	if err != nil {
		return Result{}, err
	}

	if diffoscope, ok := e.Tools.Find(tools.Diffoscope); ok {
		report := filepath.Join(logDir, filepath.Base(abs1))
		res, err := e.Runner.Run(ctx, runner.Cmd{Args: []string{
			diffoscope,
			"--max-report-size", "12345678", "--max-diff-block-lines", "128",
			"--html", report + ".diffoscope.html",
			"--text", report + ".diffoscope.txt",
			abs1, abs2,
		}})
		if err != nil {
			return Result{}, err
		}
		if res.ExitCode != 0 {
			return diagnostic("Failed to run diffoscope %s", apk1), nil
		}
	}

	dir1 := scratchDir(tmpDir, apk1)
	dir2 := scratchDir(tmpDir, apk2)
	for _, pair := range [][2]string{{abs1, dir1}, {abs2, dir2}} {
		if err := os.RemoveAll(pair[1]); err != nil {
			return Result{}, err
		}
		if err := extract(pair[0], filepath.Join(pair[1], "content")); err != nil {
			return Result{}, err
		}
	}

	if apktool, ok := e.Tools.Find(tools.Apktool); ok {
		for _, pair := range [][3]string{{abs1, dir1, apk1}, {abs2, dir2, apk2}} {
			res, err := e.Runner.Run(ctx, runner.Cmd{
				Args: []string{apktool, "d", pair[0], "--output", "apktool"},
				Dir:  pair[1],
			})
			if err != nil {
				return Result{}, err
			}
			if res.ExitCode != 0 {
				return diagnostic("Failed to run apktool %s", pair[2]), nil
			}
		}
	}

	lines, err := diffTrees(dir1, dir2)
	if err != nil {
		return Result{}, err
	}
	if len(lines) != 1 || !strings.Contains(lines[0], "META-INF") {
		if meld, ok := e.Tools.Find(tools.Meld); ok {
			if _, err := e.Runner.Run(ctx, runner.Cmd{Args: []string{meld, dir1, dir2}}); err != nil {
				log.WithError(err).Warn("could not start meld")
			}
		}
		return diagnostic("Unexpected diff output:\n%s", strings.Join(lines, "\n")), nil
	}

	for _, d := range []string{dir1, dir2} {
		if err := os.RemoveAll(d); err != nil {
			log.WithError(err).Warnf("removing %s", d)
		}
	}
	return verified(), nil
}

// scratchDir flattens the path of apk, minus its extension, into a single
// directory name below tmpDir.
func scratchDir(tmpDir, apk string) string {
	return filepath.Join(tmpDir, badChars.ReplaceAllString(strings.TrimSuffix(apk, filepath.Ext(apk)), "_"))
}
