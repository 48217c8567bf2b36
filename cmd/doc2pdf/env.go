package main

import (
	"io"
	"os"

	doc2pdf "github.com/alnah/go-doc2pdf"
)

// Environment holds injectable dependencies for testability.
type Environment struct {
	Stdout io.Writer
	Stderr io.Writer

	// ServiceOptions are appended after the configured ones, so a test can
	// swap a compiler without touching PATH.
	ServiceOptions []doc2pdf.Option
}

// DefaultEnv returns the production environment.
func DefaultEnv() *Environment {
	return &Environment{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}
