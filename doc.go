// Package doc2pdf compiles documents to PDF with external compilers.
//
// # Quick Start
//
// Create an artifact store and a service, then compile:
//
//	store, err := doc2pdf.NewArtifactStore("/var/lib/doc2pdf")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := doc2pdf.New(store, doc2pdf.WithTimeout(30*time.Second))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//
//	res, err := svc.Compile(ctx, doc2pdf.Request{
//	    Kind:    doc2pdf.KindMarkup,
//	    Content: []byte(`\documentclass{article}\begin{document}Hi\end{document}`),
//	})
//
// # Source Kinds and Engines
//
// Each request kind is routed to one engine:
//
//   - KindMarkup: pdflatex ("latex")
//   - KindBinaryDocument: LibreOffice ("office") when formatting is
//     preserved, the default; pandoc ("pandoc") otherwise, which honors
//     page size, margin and orientation
//   - KindHTML: headless Chrome via go-rod ("html")
//
// Replace any engine with WithCompiler.
//
// # Artifact Lifecycle
//
// A compilation moves through StageReceived, StageInputWritten,
// StageCompiling, StageOutputVerified and StageCleaned. Paths are derived
// from the request identifier, and every file the compiler may create is
// removed before Compile returns. A run counts as successful only if the
// output PDF exists and is non-empty, whatever the exit status says.
//
// # Errors
//
// Failures are returned as *CompileError, which carries the stage reached,
// a short message extracted from compiler output and the full diagnostic
// text. Classify them with errors.Is against the sentinel errors
// (ErrInvalidInput, ErrCompilerUnavailable, ErrCompilerTimeout,
// ErrCompilerExecution, ErrCompilationFailed, ...).
//
// # Concurrency
//
// A Service is safe for concurrent use. WithMaxConcurrent caps how many
// compiler processes run at once; the default is derived from GOMAXPROCS.
package doc2pdf
