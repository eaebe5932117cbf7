// Package runner executes external commands for the rest of fdkit.
//
// Every invocation blocks until the process exits. Standard output and
// standard error are drained by two goroutines while the process runs so a
// chatty tool can never stall on a full pipe buffer.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Cmd describes one external command invocation.
type Cmd struct {
	Args []string
	Dir  string
	// Env is layered over the runner's base environment.
	Env map[string]string
	// Output echoes the command's output to the debug log as it arrives.
	Output bool
	// SeparateStderr keeps stderr out of Result.Output.
	SeparateStderr bool
}

// Result is the outcome of a command that was started successfully.
// A non-zero ExitCode is not an error; callers interpret it themselves.
type Result struct {
	ExitCode int
	Output   []byte
	Stderr   []byte
}

// String returns the captured output as text, dropping invalid UTF-8.
func (r *Result) String() string {
	return strings.ToValidUTF8(string(r.Output), "")
}

// Check returns nil for a zero exit code and an *ExitError carrying msg
// and the captured output otherwise.
func (r *Result) Check(msg string) error {
	if r.ExitCode == 0 {
		return nil
	}
	return &ExitError{Msg: msg, Code: r.ExitCode, Output: r.String()}
}

// ExitError is a command that ran but failed.
type ExitError struct {
	Msg    string
	Code   int
	Output string
}

func (e *ExitError) Error() string {
	if out := strings.TrimSpace(e.Output); out != "" {
		return fmt.Sprintf("%s (exit code %d)\n%s", e.Msg, e.Code, out)
	}
	return fmt.Sprintf("%s (exit code %d)", e.Msg, e.Code)
}

// LaunchError reports that a command could not be started at all, e.g.
// because the executable does not exist.
type LaunchError struct {
	Args []string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("error while trying to execute %s: %v", strings.Join(e.Args, " "), e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Runner holds the base environment every command is started with.
type Runner struct {
	env []string
}

// New returns a Runner that starts commands with env. A nil env means the
// current process environment.
func New(env []string) *Runner {
	if env == nil {
		env = os.Environ()
	}
	return &Runner{env: env}
}

// Environ returns a copy of the base environment.
func (r *Runner) Environ() []string {
	out := make([]string, len(r.env))
	copy(out, r.env)
	return out
}

// With returns a Runner whose base environment has vars applied.
func (r *Runner) With(vars map[string]string) *Runner {
	return &Runner{env: mergeEnv(r.env, vars)}
}

// Run starts c, waits for it to exit and returns its exit code and output.
func (r *Runner) Run(ctx context.Context, c Cmd) (*Result, error) {
	if len(c.Args) == 0 {
		return nil, errors.New("runner: empty command")
	}

	dir := ""
	if c.Dir != "" {
		dir = filepath.Clean(c.Dir)
		log.WithField("dir", dir).Debug("directory")
	}
	log.WithField("command", strings.Join(c.Args, " ")).Debug("running")

	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	cmd.Dir = dir
	cmd.Env = mergeEnv(r.env, c.Env)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &LaunchError{Args: c.Args, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &LaunchError{Args: c.Args, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Args: c.Args, Err: err}
	}

	var outBuf, errBuf bytes.Buffer
	outW := &lockedWriter{w: &outBuf}
	errW := outW
	if c.SeparateStderr {
		errW = &lockedWriter{w: &errBuf}
	}

	var g errgroup.Group
	g.Go(func() error { return drain(stdout, outW, c.Output) })
	g.Go(func() error { return drain(stderr, errW, c.Output) })

	// Both pipes must hit EOF before Wait closes them.
	drainErr := g.Wait()
	waitErr := cmd.Wait()

	res := &Result{Output: outBuf.Bytes(), Stderr: errBuf.Bytes()}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("waiting for %s: %w", c.Args[0], waitErr)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	if drainErr != nil {
		return nil, fmt.Errorf("reading output of %s: %w", c.Args[0], drainErr)
	}

	return res, nil
}

func drain(r io.Reader, w io.Writer, echo bool) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if echo {
				log.Debug(strings.TrimRight(string(buf[:n]), "\n"))
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			// The read side is closed by Wait once the process is gone.
			if errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// mergeEnv overlays vars on base. Overridden keys keep their position,
// new keys are appended in sorted order.
func mergeEnv(base []string, vars map[string]string) []string {
	out := make([]string, 0, len(base)+len(vars))
	seen := make(map[string]bool, len(vars))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if v, ok := vars[k]; ok {
			out = append(out, k+"="+v)
			seen[k] = true
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+vars[k])
	}
	return out
}
