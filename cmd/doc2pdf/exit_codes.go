package main

import (
	"errors"
	"os"

	doc2pdf "github.com/alnah/go-doc2pdf"
	"github.com/alnah/go-doc2pdf/internal/config"
)

// Exit codes for the doc2pdf CLI.
// Follows Unix conventions: 0=success, 1=general, 2=usage, and custom codes < 126.
const (
	ExitSuccess  = 0 // Command completed
	ExitGeneral  = 1 // General/unexpected error
	ExitUsage    = 2 // Invalid flags, config, or input
	ExitIO       = 3 // File not found, permission denied, storage errors
	ExitCompiler = 4 // Compiler missing, timed out, or failed
)

// exitCodeFor returns the appropriate exit code for an error.
// It uses errors.Is to check wrapped errors, so callers must use fmt.Errorf("%w", err).
func exitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	// Compiler errors (exit 4)
	if errors.Is(err, doc2pdf.ErrCompilerUnavailable) ||
		errors.Is(err, doc2pdf.ErrCompilerTimeout) ||
		errors.Is(err, doc2pdf.ErrCompilerExecution) ||
		errors.Is(err, doc2pdf.ErrCompilationFailed) ||
		errors.Is(err, doc2pdf.ErrBrowserConnect) ||
		errors.Is(err, doc2pdf.ErrPageCreate) ||
		errors.Is(err, doc2pdf.ErrPageLoad) ||
		errors.Is(err, doc2pdf.ErrPDFGeneration) {
		return ExitCompiler
	}

	// Usage/config/validation errors (exit 2)
	if errors.Is(err, config.ErrConfigNotFound) ||
		errors.Is(err, config.ErrConfigParse) ||
		errors.Is(err, config.ErrFieldTooLong) ||
		errors.Is(err, config.ErrInvalidValue) ||
		errors.Is(err, config.ErrEmptyConfigName) ||
		errors.Is(err, doc2pdf.ErrInvalidInput) ||
		errors.Is(err, doc2pdf.ErrEmptyDocument) ||
		errors.Is(err, doc2pdf.ErrUnsupportedFormat) ||
		errors.Is(err, ErrUsage) ||
		errors.Is(err, ErrUnknownKind) {
		return ExitUsage
	}

	// I/O errors (exit 3)
	if errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, os.ErrPermission) ||
		errors.Is(err, doc2pdf.ErrIO) ||
		errors.Is(err, doc2pdf.ErrAllocation) ||
		errors.Is(err, ErrNoInput) ||
		errors.Is(err, ErrReadInput) ||
		errors.Is(err, ErrWritePDF) {
		return ExitIO
	}

	return ExitGeneral
}
