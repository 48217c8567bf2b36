package doc2pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/alnah/go-doc2pdf/internal/process"
)

// waitDelay bounds how long Wait blocks on output pipes after the process
// group was killed.
const waitDelay = 2 * time.Second

// CommandRunner abstracts command execution to enable testing without real subprocesses.
// A process that ran to completion returns its exit code and a nil error,
// whatever the code. err is reserved for failures to start and for context
// cancellation.
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) (stdout, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner using os/exec. Each command runs in
// its own process group, killed as a whole when ctx ends.
type ExecRunner struct{}

func (r *ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 -- binary comes from configuration
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	process.SetProcessGroup(cmd)
	cmd.Cancel = func() error {
		process.KillProcessGroup(cmd.Process.Pid)
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdout.String(), stderr.String(), -1, ctxErr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), stderr.String(), exitErr.ExitCode(), nil
		}
		return stdout.String(), stderr.String(), -1, err
	}
	return stdout.String(), stderr.String(), 0, nil
}

// RunOutcome is the raw result of one compiler invocation.
type RunOutcome struct {
	Stdout               string
	Stderr               string
	ExitCode             int
	ExitIndicatesSuccess bool
	MarkerMatched        bool
}

// Succeeded reports whether the run counts as successful: a clean exit, or
// the toolchain's success marker in the output. Some compilers exit
// non-zero after recoverable warnings yet still write the PDF.
// The output file must still be verified by the caller.
func (o *RunOutcome) Succeeded() bool {
	return o.ExitIndicatesSuccess || o.MarkerMatched
}

// Diagnostics returns the combined compiler output.
func (o *RunOutcome) Diagnostics() string {
	return (&CompilerExecutionError{Stdout: o.Stdout, Stderr: o.Stderr}).Diagnostics()
}

// Compiler turns the input file of an artifact set into its output PDF.
type Compiler interface {
	// Engine names the toolchain ("latex", "office", "pandoc", "html").
	Engine() string

	// Check reports ErrCompilerUnavailable when the toolchain cannot run.
	Check() error

	// Run compiles set.InputPath into set.OutputPath within timeout.
	Run(ctx context.Context, set *ArtifactSet, opts Options, timeout time.Duration) (*RunOutcome, error)
}

// CompilerRunner runs an external compiler binary described by a Toolchain.
type CompilerRunner struct {
	Toolchain Toolchain
	Runner    CommandRunner
	LookPath  func(file string) (string, error)
}

var _ Compiler = (*CompilerRunner)(nil)

// NewCompilerRunner creates a CompilerRunner with a real command runner.
func NewCompilerRunner(tc Toolchain) *CompilerRunner {
	return &CompilerRunner{
		Toolchain: tc,
		Runner:    &ExecRunner{},
		LookPath:  exec.LookPath,
	}
}

// Engine returns the toolchain name.
func (r *CompilerRunner) Engine() string { return r.Toolchain.Engine }

// Check resolves the compiler binary on PATH.
func (r *CompilerRunner) Check() error {
	lookPath := r.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if _, err := lookPath(r.Toolchain.Binary); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCompilerUnavailable, r.Toolchain.Binary, err)
	}
	return nil
}

// Run invokes the compiler with a finite timeout. A run that is not
// Succeeded returns the outcome together with a *CompilerExecutionError.
func (r *CompilerRunner) Run(ctx context.Context, set *ArtifactSet, opts Options, timeout time.Duration) (*RunOutcome, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dir string
	if r.Toolchain.RunInOutputDir {
		dir = set.OutputDir
	}
	args := r.Toolchain.BuildArgs(set, opts)

	stdout, stderr, code, err := r.Runner.Run(runCtx, dir, r.Toolchain.Binary, args...)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: %s after %s", ErrCompilerTimeout, r.Toolchain.Binary, timeout)
		case errors.Is(err, exec.ErrNotFound):
			return nil, fmt.Errorf("%w: %s: %v", ErrCompilerUnavailable, r.Toolchain.Binary, err)
		default:
			return nil, &CompilerExecutionError{
				Tool:     r.Toolchain.Binary,
				ExitCode: code,
				Stdout:   stdout,
				Stderr:   joinNonEmpty(stderr, err.Error()),
			}
		}
	}

	outcome := &RunOutcome{
		Stdout:               stdout,
		Stderr:               stderr,
		ExitCode:             code,
		ExitIndicatesSuccess: code == 0,
		MarkerMatched:        r.Toolchain.matchesMarker(stdout),
	}
	if !outcome.Succeeded() {
		return outcome, &CompilerExecutionError{
			Tool:     r.Toolchain.Binary,
			ExitCode: code,
			Stdout:   stdout,
			Stderr:   stderr,
		}
	}
	return outcome, nil
}

// joinNonEmpty joins the non-empty parts with newlines.
func joinNonEmpty(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}
