package apksig

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/fdkit/fdkit/pkg/config"
	"github.com/fdkit/fdkit/pkg/runner"
	"github.com/fdkit/fdkit/pkg/tools"
)

// jarsigner -strict exits with 4 for a valid signature whose certificate
// does not chain to a CA. That is the expected state of every APK; exit 0
// means the archive was not signed at all.
const jarsignerUnchainedSigner = 4

const policyFileName = ".java.security"

// VerificationError is a signature that was checked and rejected.
type VerificationError struct {
	Path   string
	Output string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("JAR signature failed to verify: %s\n%s", e.Path, e.Output)
}

// Verifier checks APK and JAR signatures with apksigner, falling back to
// jarsigner when apksigner is not installed.
type Verifier struct {
	Tools  *tools.Finder
	Runner *runner.Runner

	// DisabledAlgorithms is the jdk.jar.disabledAlgorithms value used by
	// VerifyLegacy.
	DisabledAlgorithms string
	// PolicyDir holds the temporary security policy. Defaults to the
	// working directory.
	PolicyDir string
	Verbose   bool

	warnOnce sync.Once
}

// NewVerifier returns a Verifier configured from cfg.
func NewVerifier(cfg *config.Config, finder *tools.Finder, r *runner.Runner) *Verifier {
	return &Verifier{
		Tools:              finder,
		Runner:             r,
		DisabledAlgorithms: cfg.Verify.DisabledAlgorithms,
		Verbose:            cfg.Verify.Verbose,
	}
}

// Verify reports whether the signature of apk is valid. minSDK is passed
// to apksigner when non-zero. The returned error is reserved for failures
// to run the tools at all.
func (v *Verifier) Verify(ctx context.Context, apk string, minSDK int) (bool, error) {
	apksigner, ok := v.Tools.Find(tools.Apksigner)
	if !ok {
		v.warnOnce.Do(func() {
			log.Warn("Using Java's jarsigner, not recommended for verifying APKs! Use apksigner")
		})
		err := v.VerifyJAR(ctx, apk)
		var verr *VerificationError
		if errors.As(err, &verr) {
			log.Error(err)
			return false, nil
		}
		return err == nil, err
	}

	args := []string{apksigner, "verify"}
	if minSDK > 0 {
		args = append(args, "--min-sdk-version="+strconv.Itoa(minSDK))
	}
	if v.Verbose {
		args = append(args, "--verbose")
	}
	args = append(args, apk)

	res, err := v.Runner.Run(ctx, runner.Cmd{Args: args, SeparateStderr: true})
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		log.Errorf("\n%s: %s%s", apk, res.String(), res.Stderr)
		return false, nil
	}
	if v.Verbose {
		log.Debugf("%s: %s", apk, res.String())
	}
	return true, nil
}

// VerifyJAR checks jar with jarsigner in strict mode. A rejected signature
// is reported as a *VerificationError.
func (v *Verifier) VerifyJAR(ctx context.Context, jar string) error {
	jarsigner, err := v.Tools.MustFind(tools.Jarsigner)
	if err != nil {
		return err
	}
	res, err := v.Runner.Run(ctx, runner.Cmd{Args: []string{jarsigner, "-strict", "-verify", jar}})
	if err != nil {
		return err
	}
	if res.ExitCode != jarsignerUnchainedSigner {
		return &VerificationError{Path: jar, Output: res.String()}
	}
	log.Debugf("JAR signature verified: %s", jar)
	return nil
}

// VerifyLegacy verifies an archived APK whose signature may use algorithms
// the JDK has since disabled. The relaxed policy lives in a read-only file
// that exists only while jarsigner runs.
func (v *Verifier) VerifyLegacy(ctx context.Context, apk string) (bool, error) {
	jarsigner, err := v.Tools.MustFind(tools.Jarsigner)
	if err != nil {
		return false, err
	}

	policy, err := v.writePolicy()
	if err != nil {
		return false, err
	}
	defer func() {
		if err := os.Chmod(policy, 0o600); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.WithError(err).Warn("unlocking security policy")
		}
		if err := os.Remove(policy); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.WithError(err).Warnf("removing %s", policy)
		}
	}()

	res, err := v.Runner.Run(ctx, runner.Cmd{Args: []string{
		jarsigner,
		"-J-Djava.security.properties=" + policy,
		"-strict", "-verify", apk,
	}})
	if err != nil {
		return false, err
	}
	if res.ExitCode == jarsignerUnchainedSigner {
		log.Debugf("JAR signature verified: %s", apk)
		return true, nil
	}
	log.Errorf("Old APK signature failed to verify: %s\n%s", apk, res.String())
	return false, nil
}

// writePolicy never reuses an existing file: a stale one is removed and
// the new one created exclusively, then made read-only.
func (v *Verifier) writePolicy() (string, error) {
	dir := v.PolicyDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = wd
	}
	policy := filepath.Join(dir, policyFileName)

	if err := os.Remove(policy); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("removing stale %s: %w", policy, err)
	}
	f, err := os.OpenFile(policy, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", policy, err)
	}
	algorithms := v.DisabledAlgorithms
	if algorithms == "" {
		algorithms = config.DefaultDisabledAlgorithms
	}
	_, werr := f.WriteString("jdk.jar.disabledAlgorithms=" + algorithms)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Chmod(policy, 0o400)
	}
	if werr != nil {
		os.Remove(policy)
		return "", fmt.Errorf("writing %s: %w", policy, werr)
	}
	return policy, nil
}
