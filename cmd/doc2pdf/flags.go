package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/alnah/go-doc2pdf/internal/config"
)

// commonFlags holds flags shared across commands.
type commonFlags struct {
	config  string
	quiet   bool
	verbose bool
}

// compilerFlags holds compiler settings shared by serve and compile.
type compilerFlags struct {
	timeout       string
	maxConcurrent int
	noSandbox     bool
}

// serveFlags holds all flags for the serve command.
type serveFlags struct {
	common   commonFlags
	compiler compilerFlags
	addr     string
	root     string
	origins  []string
}

// layoutFlags holds page layout options passed to the converter.
type layoutFlags struct {
	pageSize    string
	orientation string
	margin      string
	noPreserve  bool
}

// compileFlags holds all flags for the compile command.
type compileFlags struct {
	common   commonFlags
	compiler compilerFlags
	layout   layoutFlags
	output   string
	kind     string
}

// doctorFlags holds flags for the doctor command.
type doctorFlags struct {
	common commonFlags
	json   bool
}

// addCommonFlags adds common flags to a FlagSet.
func addCommonFlags(fs *flag.FlagSet, f *commonFlags) {
	fs.StringVarP(&f.config, "config", "c", "", "config file name or path")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "only show errors")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")
}

// addCompilerFlags adds compiler flags to a FlagSet.
func addCompilerFlags(fs *flag.FlagSet, f *compilerFlags) {
	fs.StringVarP(&f.timeout, "timeout", "t", "", "per-compilation timeout (e.g., 30s, 2m)")
	fs.IntVarP(&f.maxConcurrent, "max-concurrent", "j", 0, "simultaneous compilations (0 = auto)")
	fs.BoolVar(&f.noSandbox, "no-sandbox", false, "run Chrome without its sandbox")
}

// addLayoutFlags adds page layout flags to a FlagSet.
func addLayoutFlags(fs *flag.FlagSet, f *layoutFlags) {
	fs.StringVarP(&f.pageSize, "page-size", "p", "", "page size: letter, a4, legal")
	fs.StringVar(&f.orientation, "orientation", "", "page orientation: portrait, landscape")
	fs.StringVar(&f.margin, "margin", "", "page margin, e.g. 1in, 2.5cm, 20mm")
	fs.BoolVar(&f.noPreserve, "no-preserve", false, "convert documents with pandoc instead of LibreOffice")
}

// newFlagSet creates a FlagSet that reports errors instead of exiting.
func newFlagSet(name string, usage func(io.Writer), stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { usage(stderr) }
	return fs
}

// parseArgs parses args, marking failures other than --help as usage errors.
func parseArgs(fs *flag.FlagSet, args []string) error {
	err := fs.Parse(args)
	if err == nil || errors.Is(err, flag.ErrHelp) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUsage, err)
}

// parseServeFlags parses serve command flags.
func parseServeFlags(args []string, stderr io.Writer) (*serveFlags, error) {
	f := &serveFlags{}
	fs := newFlagSet("serve", printServeUsage, stderr)

	fs.StringVarP(&f.addr, "addr", "a", "", "listen address (default :8080)")
	fs.StringVar(&f.root, "root", "", "artifact root directory")
	fs.StringSliceVar(&f.origins, "allow-origin", nil, "allowed CORS origin (repeatable)")
	addCommonFlags(fs, &f.common)
	addCompilerFlags(fs, &f.compiler)

	if err := parseArgs(fs, args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("%w: serve takes no arguments, got %q", ErrUsage, fs.Args())
	}
	return f, nil
}

// parseCompileFlags parses compile command flags and returns positional args.
func parseCompileFlags(args []string, stderr io.Writer) (*compileFlags, []string, error) {
	f := &compileFlags{}
	fs := newFlagSet("compile", printCompileUsage, stderr)

	fs.StringVarP(&f.output, "output", "o", "", "output PDF path")
	fs.StringVarP(&f.kind, "kind", "k", "", "source kind: latex, html, document (default: from extension)")
	addCommonFlags(fs, &f.common)
	addCompilerFlags(fs, &f.compiler)
	addLayoutFlags(fs, &f.layout)

	if err := parseArgs(fs, args); err != nil {
		return nil, nil, err
	}
	return f, fs.Args(), nil
}

// parseDoctorFlags parses doctor command flags.
func parseDoctorFlags(args []string, stderr io.Writer) (*doctorFlags, error) {
	f := &doctorFlags{}
	fs := newFlagSet("doctor", printDoctorUsage, stderr)

	fs.BoolVar(&f.json, "json", false, "output JSON")
	addCommonFlags(fs, &f.common)

	if err := parseArgs(fs, args); err != nil {
		return nil, err
	}
	return f, nil
}

// parseConfigFlags parses config command flags.
func parseConfigFlags(args []string, stderr io.Writer) (*commonFlags, error) {
	f := &commonFlags{}
	fs := newFlagSet("config", printConfigUsage, stderr)
	addCommonFlags(fs, f)

	if err := parseArgs(fs, args); err != nil {
		return nil, err
	}
	return f, nil
}

// mergeCompilerFlags applies explicitly set compiler flags over cfg.
func mergeCompilerFlags(f *compilerFlags, cfg *config.Config) error {
	if f.timeout != "" {
		d, err := time.ParseDuration(f.timeout)
		if err != nil {
			return fmt.Errorf("%w: --timeout: %v", ErrUsage, err)
		}
		cfg.Compiler.Timeout = config.Duration(d)
	}
	if f.maxConcurrent != 0 {
		cfg.Compiler.MaxConcurrent = f.maxConcurrent
	}
	if f.noSandbox {
		cfg.Browser.NoSandbox = true
	}
	return nil
}

// mergeServeFlags applies explicitly set serve flags over cfg and
// validates the result.
func mergeServeFlags(f *serveFlags, cfg *config.Config) error {
	if f.addr != "" {
		cfg.Server.Addr = f.addr
	}
	if f.root != "" {
		cfg.Storage.Root = f.root
	}
	if len(f.origins) > 0 {
		cfg.Server.AllowedOrigins = f.origins
	}
	if err := mergeCompilerFlags(&f.compiler, cfg); err != nil {
		return err
	}
	return cfg.Validate()
}
