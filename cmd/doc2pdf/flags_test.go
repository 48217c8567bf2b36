package main

// Notes:
// - Parsers are tested for short and long forms and for usage errors.
// - mergeServeFlags: only explicitly set flags override config, and the
//   merged result is validated.
// These are acceptable gaps: we test observable behavior, not implementation details.

import (
	"errors"
	"io"
	"slices"
	"testing"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/alnah/go-doc2pdf/internal/config"
)

// ---------------------------------------------------------------------------
// TestParseServeFlags - serve flags
// ---------------------------------------------------------------------------

func TestParseServeFlags(t *testing.T) {
	t.Parallel()

	f, err := parseServeFlags([]string{
		"-a", ":9000",
		"--root", "/srv/doc2pdf",
		"--allow-origin", "https://a.example",
		"--allow-origin", "https://b.example",
		"-t", "90s",
		"-j", "4",
		"--no-sandbox",
		"-c", "server",
		"-v",
	}, io.Discard)
	if err != nil {
		t.Fatalf("parseServeFlags() error = %v", err)
	}

	if f.addr != ":9000" || f.root != "/srv/doc2pdf" {
		t.Errorf("addr = %q, root = %q", f.addr, f.root)
	}
	if !slices.Equal(f.origins, []string{"https://a.example", "https://b.example"}) {
		t.Errorf("origins = %q", f.origins)
	}
	if f.compiler.timeout != "90s" || f.compiler.maxConcurrent != 4 || !f.compiler.noSandbox {
		t.Errorf("compiler = %+v", f.compiler)
	}
	if f.common.config != "server" || !f.common.verbose {
		t.Errorf("common = %+v", f.common)
	}
}

func TestParseFlags_Errors(t *testing.T) {
	t.Parallel()

	t.Run("unknown flag is a usage error", func(t *testing.T) {
		t.Parallel()

		_, err := parseServeFlags([]string{"--bogus"}, io.Discard)
		if !errors.Is(err, ErrUsage) {
			t.Errorf("error = %v, want ErrUsage", err)
		}
	})

	t.Run("bad int is a usage error", func(t *testing.T) {
		t.Parallel()

		_, _, err := parseCompileFlags([]string{"-j", "many"}, io.Discard)
		if !errors.Is(err, ErrUsage) {
			t.Errorf("error = %v, want ErrUsage", err)
		}
	})

	t.Run("help is not an error code", func(t *testing.T) {
		t.Parallel()

		_, err := parseDoctorFlags([]string{"--help"}, io.Discard)
		if !errors.Is(err, flag.ErrHelp) {
			t.Errorf("error = %v, want ErrHelp", err)
		}
		if errors.Is(err, ErrUsage) {
			t.Error("help must not be a usage error")
		}
	})
}

// ---------------------------------------------------------------------------
// TestParseCompileFlags - compile flags and positional args
// ---------------------------------------------------------------------------

func TestParseCompileFlags(t *testing.T) {
	t.Parallel()

	f, args, err := parseCompileFlags([]string{
		"report.docx",
		"-o", "out.pdf",
		"-k", "document",
		"-p", "a4",
		"--orientation", "landscape",
		"--margin", "2cm",
		"--no-preserve",
	}, io.Discard)
	if err != nil {
		t.Fatalf("parseCompileFlags() error = %v", err)
	}

	if !slices.Equal(args, []string{"report.docx"}) {
		t.Errorf("args = %q", args)
	}
	if f.output != "out.pdf" || f.kind != "document" {
		t.Errorf("output = %q, kind = %q", f.output, f.kind)
	}
	want := layoutFlags{pageSize: "a4", orientation: "landscape", margin: "2cm", noPreserve: true}
	if f.layout != want {
		t.Errorf("layout = %+v, want %+v", f.layout, want)
	}
}

// ---------------------------------------------------------------------------
// TestMergeServeFlags - Flag precedence
// ---------------------------------------------------------------------------

func TestMergeServeFlags(t *testing.T) {
	t.Parallel()

	t.Run("set flags win", func(t *testing.T) {
		t.Parallel()

		cfg := config.DefaultConfig()
		f := &serveFlags{
			addr:     ":9000",
			root:     t.TempDir(),
			origins:  []string{"https://app.example"},
			compiler: compilerFlags{timeout: "2m", maxConcurrent: 3, noSandbox: true},
		}

		if err := mergeServeFlags(f, cfg); err != nil {
			t.Fatalf("mergeServeFlags() error = %v", err)
		}
		if cfg.Server.Addr != ":9000" || cfg.Storage.Root != f.root {
			t.Errorf("server = %+v, storage = %+v", cfg.Server, cfg.Storage)
		}
		if cfg.Compiler.Timeout.Std() != 2*time.Minute || cfg.Compiler.MaxConcurrent != 3 {
			t.Errorf("compiler = %+v", cfg.Compiler)
		}
		if !cfg.Browser.NoSandbox {
			t.Error("NoSandbox not applied")
		}
	})

	t.Run("unset flags keep config", func(t *testing.T) {
		t.Parallel()

		cfg := config.DefaultConfig()
		cfg.Server.Addr = ":7000"
		if err := mergeServeFlags(&serveFlags{}, cfg); err != nil {
			t.Fatalf("mergeServeFlags() error = %v", err)
		}
		if cfg.Server.Addr != ":7000" {
			t.Errorf("Addr = %q, want :7000", cfg.Server.Addr)
		}
	})

	t.Run("bad timeout", func(t *testing.T) {
		t.Parallel()

		err := mergeServeFlags(&serveFlags{compiler: compilerFlags{timeout: "soon"}}, config.DefaultConfig())
		if !errors.Is(err, ErrUsage) {
			t.Errorf("error = %v, want ErrUsage", err)
		}
	})

	t.Run("merged config is validated", func(t *testing.T) {
		t.Parallel()

		err := mergeServeFlags(&serveFlags{origins: []string{"not a url"}}, config.DefaultConfig())
		if !errors.Is(err, config.ErrInvalidValue) {
			t.Errorf("error = %v, want ErrInvalidValue", err)
		}
	})
}
