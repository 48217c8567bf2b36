package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	doc2pdf "github.com/alnah/go-doc2pdf"
	"github.com/alnah/go-doc2pdf/internal/fileutil"
	"github.com/alnah/go-doc2pdf/internal/hints"
)

// Sentinel errors for CLI operations.
var (
	ErrUsage       = errors.New("invalid usage")
	ErrNoInput     = errors.New("no input specified")
	ErrReadInput   = errors.New("failed to read input file")
	ErrWritePDF    = errors.New("failed to write PDF file")
	ErrUnknownKind = errors.New("cannot determine source kind")
)

// pdfFilePerm is the mode of written PDF files.
const pdfFilePerm = 0o644

// Source kind names accepted by --kind.
var kindNames = map[string]doc2pdf.SourceKind{
	"latex":    doc2pdf.KindMarkup,
	"tex":      doc2pdf.KindMarkup,
	"html":     doc2pdf.KindHTML,
	"document": doc2pdf.KindBinaryDocument,
}

// runCompile compiles one local file to PDF without going through HTTP.
func runCompile(ctx context.Context, args []string, env *Environment) error {
	flags, positional, err := parseCompileFlags(args, env.Stderr)
	if err != nil {
		return err
	}
	if len(positional) == 0 {
		return ErrNoInput
	}
	if len(positional) > 1 {
		return fmt.Errorf("%w: compile takes one input, got %d", ErrUsage, len(positional))
	}
	input := positional[0]

	kind, err := resolveKind(flags.kind, input)
	if err != nil {
		return err
	}
	opts, err := layoutOptions(&flags.layout)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(&flags.common, env)
	if err != nil {
		return err
	}
	if err := mergeCompilerFlags(&flags.compiler, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// #nosec G304 -- the user names the file to compile
	content, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReadInput, err)
	}

	logger := newLogger(env.Stderr, flags.common.verbose, true)
	defer func() { _ = logger.Sync() }()

	st, err := openStores(cfg, logger, nil)
	if err != nil {
		return err
	}
	svc, err := newService(cfg, st, logger, nil, env.ServiceOptions...)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	res, err := svc.Compile(ctx, doc2pdf.Request{
		Kind:     kind,
		Content:  content,
		Filename: filepath.Base(input),
		Options:  opts,
	})
	if err != nil {
		return withCompileHint(err, kind, opts)
	}

	output := resolveOutputPath(input, flags.output)
	if err := fileutil.WriteFileAtomic(output, res.PDF, pdfFilePerm); err != nil {
		return fmt.Errorf("%w: %w", ErrWritePDF, err)
	}

	if !flags.common.quiet {
		if flags.common.verbose {
			fmt.Fprintf(env.Stdout, "Created %s (%s, %s)\n", output, res.Engine, res.Duration.Round(time.Millisecond))
		} else {
			fmt.Fprintf(env.Stdout, "Created %s\n", output)
		}
	}
	return nil
}

// resolveKind picks the source kind from --kind or the input extension.
func resolveKind(name, input string) (doc2pdf.SourceKind, error) {
	if name != "" {
		kind, ok := kindNames[strings.ToLower(name)]
		if !ok {
			return "", fmt.Errorf("%w: unknown kind %q (latex, html, document)", ErrUnknownKind, name)
		}
		return kind, nil
	}

	ext := strings.ToLower(filepath.Ext(input))
	switch {
	case ext == ".tex" || ext == ".latex":
		return doc2pdf.KindMarkup, nil
	case ext == ".html" || ext == ".htm":
		return doc2pdf.KindHTML, nil
	case slices.Contains(doc2pdf.SupportedDocumentExtensions, ext):
		return doc2pdf.KindBinaryDocument, nil
	}
	return "", fmt.Errorf("%w: %q has no known extension, use --kind", ErrUnknownKind, input)
}

// layoutOptions converts layout flags to Options. Unlike the HTTP API,
// the CLI rejects values it cannot parse.
func layoutOptions(f *layoutFlags) (doc2pdf.Options, error) {
	raw := map[string]string{}
	if f.pageSize != "" {
		raw[doc2pdf.OptionPageSize] = f.pageSize
	}
	if f.orientation != "" {
		raw[doc2pdf.OptionOrientation] = f.orientation
	}
	if f.margin != "" {
		raw[doc2pdf.OptionMargin] = f.margin
	}
	if f.noPreserve {
		raw[doc2pdf.OptionPreserveFormatting] = "false"
	}

	opts, ignored := doc2pdf.ParseOptions(raw)
	if len(ignored) > 0 {
		return doc2pdf.Options{}, fmt.Errorf("%w: invalid value for %s", ErrUsage, strings.Join(ignored, ", "))
	}
	return opts, nil
}

// resolveOutputPath returns output, or input with a .pdf extension.
func resolveOutputPath(input, output string) string {
	if output != "" {
		return output
	}
	return strings.TrimSuffix(input, filepath.Ext(input)) + ".pdf"
}

// withCompileHint appends an actionable hint to compilation errors.
func withCompileHint(err error, kind doc2pdf.SourceKind, opts doc2pdf.Options) error {
	var hint string
	switch {
	case errors.Is(err, doc2pdf.ErrBrowserConnect):
		hint = hints.ForBrowserConnect()
	case errors.Is(err, doc2pdf.ErrCompilerUnavailable):
		hint = hints.ForCompilerMissing(engineFor(kind, opts))
	case errors.Is(err, doc2pdf.ErrCompilerTimeout):
		hint = hints.ForTimeout()
	}
	if hint == "" {
		return err
	}
	return fmt.Errorf("%w%s", err, hint)
}

// engineFor mirrors the service routing, for hints only.
func engineFor(kind doc2pdf.SourceKind, opts doc2pdf.Options) string {
	switch kind {
	case doc2pdf.KindMarkup:
		return doc2pdf.EngineLatex
	case doc2pdf.KindHTML:
		return doc2pdf.EngineHTML
	}
	if opts.PreservesFormatting() {
		return doc2pdf.EngineOffice
	}
	return doc2pdf.EnginePandoc
}
