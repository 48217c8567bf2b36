package doc2pdf

import (
	"errors"
	"fmt"
)

// Sentinel errors for library operations.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrCompilerUnavailable = errors.New("compiler executable not found")
	ErrCompilerTimeout     = errors.New("compiler timed out")
	ErrCompilerExecution   = errors.New("compiler execution failed")
	ErrCompilationFailed   = errors.New("compilation failed")

	// Artifact storage errors.
	ErrAllocation = errors.New("artifact allocation failed")
	ErrIO         = errors.New("artifact I/O failed")
	ErrNotFound   = errors.New("artifact not found")

	// Saved document errors.
	ErrDocumentNotFound   = errors.New("saved document not found")
	ErrInvalidDocumentID  = errors.New("invalid document identifier")
	ErrUnsupportedFormat  = errors.New("unsupported document format")
	ErrEmptyDocument      = errors.New("document content cannot be empty")
	ErrServiceUnavailable = errors.New("compilation service is shutting down")
)

// CompilerExecutionError reports a compiler run that neither exited cleanly
// nor printed its success marker. The raw streams are kept for diagnostics.
type CompilerExecutionError struct {
	Tool     string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *CompilerExecutionError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
}

func (e *CompilerExecutionError) Unwrap() error { return ErrCompilerExecution }

// Diagnostics returns the combined compiler output.
func (e *CompilerExecutionError) Diagnostics() string {
	switch {
	case e.Stdout == "":
		return e.Stderr
	case e.Stderr == "":
		return e.Stdout
	default:
		return e.Stdout + "\n" + e.Stderr
	}
}

// CompileError is the failure side of a compilation: a short message fit for
// end users, the raw diagnostic text, and the stage the request reached.
type CompileError struct {
	RequestID string
	Stage     Stage
	Message   string
	Detail    string
	Err       error
}

func (e *CompileError) Error() string {
	if e.Message == "" || e.Message == e.Err.Error() {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Message)
}

func (e *CompileError) Unwrap() error { return e.Err }

// newCompileError builds a CompileError whose message defaults to err's text.
func newCompileError(requestID string, stage Stage, err error) *CompileError {
	ce := &CompileError{
		RequestID: requestID,
		Stage:     stage,
		Err:       err,
		Message:   err.Error(),
	}
	var execErr *CompilerExecutionError
	if errors.As(err, &execErr) {
		ce.Detail = execErr.Diagnostics()
	}
	return ce
}
