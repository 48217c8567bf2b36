package main

// Notes:
// - runMain: we test dispatch and exit codes. serve and compile are
//   covered in their own files with stub compilers.
// - main() itself is not tested: it only calls maxprocs.Set and os.Exit.
// These are acceptable gaps: we test observable behavior, not implementation details.

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	doc2pdf "github.com/alnah/go-doc2pdf"
)

// ---------------------------------------------------------------------------
// Test Infrastructure - Stub compiler and environment
// ---------------------------------------------------------------------------

var testPDF = []byte("%PDF-1.5 stub")

// stubCompiler writes testPDF, or fails with err.
type stubCompiler struct {
	engine string
	err    error
}

func (c stubCompiler) Engine() string { return c.engine }
func (c stubCompiler) Check() error   { return nil }

func (c stubCompiler) Run(_ context.Context, set *doc2pdf.ArtifactSet, _ doc2pdf.Options, _ time.Duration) (*doc2pdf.RunOutcome, error) {
	if c.err != nil {
		return nil, c.err
	}
	if err := os.WriteFile(set.OutputPath, testPDF, 0o644); err != nil {
		return nil, err
	}
	return &doc2pdf.RunOutcome{ExitIndicatesSuccess: true}, nil
}

// stubCompilers replaces every engine with a stub.
func stubCompilers() []doc2pdf.Option {
	return []doc2pdf.Option{
		doc2pdf.WithCompiler(stubCompiler{engine: doc2pdf.EngineLatex}),
		doc2pdf.WithCompiler(stubCompiler{engine: doc2pdf.EngineOffice}),
		doc2pdf.WithCompiler(stubCompiler{engine: doc2pdf.EnginePandoc}),
		doc2pdf.WithCompiler(stubCompiler{engine: doc2pdf.EngineHTML}),
	}
}

// testEnv returns an Environment with captured output and stub compilers.
func testEnv() (*Environment, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	return &Environment{Stdout: &stdout, Stderr: &stderr, ServiceOptions: stubCompilers()}, &stdout, &stderr
}

// isolateEnv points storage at a temp dir and clears inherited DOC2PDF_*
// variables. Uses t.Setenv, so callers cannot be parallel.
func isolateEnv(t *testing.T) string {
	t.Helper()
	for _, kv := range os.Environ() {
		if name, _, _ := strings.Cut(kv, "="); strings.HasPrefix(name, envPrefix) {
			t.Setenv(name, "")
			_ = os.Unsetenv(name)
		}
	}
	root := filepath.Join(t.TempDir(), "store")
	t.Setenv("DOC2PDF_STORAGE_ROOT", root)
	return root
}

// ---------------------------------------------------------------------------
// TestRunMain - Command dispatch
// ---------------------------------------------------------------------------

func TestRunMain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		args       []string
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{
			name:       "no command",
			args:       []string{"doc2pdf"},
			wantCode:   ExitUsage,
			wantStderr: "Usage: doc2pdf",
		},
		{
			name:       "unknown command",
			args:       []string{"doc2pdf", "convert"},
			wantCode:   ExitUsage,
			wantStderr: "Unknown command: convert",
		},
		{
			name:       "version",
			args:       []string{"doc2pdf", "version"},
			wantCode:   ExitSuccess,
			wantStdout: "doc2pdf " + Version,
		},
		{
			name:       "help",
			args:       []string{"doc2pdf", "help"},
			wantCode:   ExitSuccess,
			wantStdout: "Commands:",
		},
		{
			name:       "help for serve",
			args:       []string{"doc2pdf", "help", "serve"},
			wantCode:   ExitSuccess,
			wantStdout: "Usage: doc2pdf serve",
		},
		{
			name:       "help for unknown command",
			args:       []string{"doc2pdf", "help", "nope"},
			wantCode:   ExitUsage,
			wantStderr: "Unknown command: nope",
		},
		{
			name:       "compile --help",
			args:       []string{"doc2pdf", "compile", "--help"},
			wantCode:   ExitSuccess,
			wantStderr: "Usage: doc2pdf compile",
		},
		{
			name:       "unknown flag",
			args:       []string{"doc2pdf", "compile", "--bogus"},
			wantCode:   ExitUsage,
			wantStderr: "bogus",
		},
		{
			name:       "serve with positional args",
			args:       []string{"doc2pdf", "serve", "extra"},
			wantCode:   ExitUsage,
			wantStderr: "serve takes no arguments",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env, stdout, stderr := testEnv()
			code := runMain(tt.args, env)

			if code != tt.wantCode {
				t.Errorf("runMain() = %d, want %d\nstderr: %s", code, tt.wantCode, stderr)
			}
			if tt.wantStdout != "" && !strings.Contains(stdout.String(), tt.wantStdout) {
				t.Errorf("stdout = %q, want it to contain %q", stdout, tt.wantStdout)
			}
			if tt.wantStderr != "" && !strings.Contains(stderr.String(), tt.wantStderr) {
				t.Errorf("stderr = %q, want it to contain %q", stderr, tt.wantStderr)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// TestHasVerboseFlag / TestMaxprocsLogger - Startup helpers
// ---------------------------------------------------------------------------

func TestHasVerboseFlag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		args []string
		want bool
	}{
		{[]string{"serve"}, false},
		{[]string{"serve", "-v"}, true},
		{[]string{"compile", "in.tex", "--verbose"}, true},
		{[]string{"compile", "--", "-v"}, false},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			t.Parallel()

			if got := hasVerboseFlag(tt.args); got != tt.want {
				t.Errorf("hasVerboseFlag(%q) = %v, want %v", tt.args, got, tt.want)
			}
		})
	}
}

func TestMaxprocsLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	maxprocsLogger(&buf, false)("GOMAXPROCS=%d", 4)
	if buf.Len() != 0 {
		t.Errorf("quiet logger wrote %q", buf.String())
	}

	maxprocsLogger(&buf, true)("GOMAXPROCS=%d", 4)
	if buf.String() != "GOMAXPROCS=4\n" {
		t.Errorf("verbose logger wrote %q, want %q", buf.String(), "GOMAXPROCS=4\n")
	}
}
