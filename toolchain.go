package doc2pdf

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"
)

// Engine names.
const (
	EngineLatex  = "latex"
	EngineOffice = "office"
	EnginePandoc = "pandoc"
	EngineHTML   = "html"
)

// Default compiler binaries, resolved on PATH.
const (
	DefaultLatexBin  = "pdflatex"
	DefaultOfficeBin = "soffice"
	DefaultPandocBin = "pandoc"
)

// Success markers printed by compilers that wrote a PDF.
const (
	latexSuccessMarker  = "Output written on"
	officeSuccessMarker = "using filter"
)

// Toolchain describes how to invoke one external compiler.
type Toolchain struct {
	Engine         string
	Binary         string
	Marker         string // empty: exit code only
	RunInOutputDir bool
	BuildArgs      func(set *ArtifactSet, opts Options) []string
}

// matchesMarker reports whether stdout carries the success marker.
// Stderr is never consulted.
func (t Toolchain) matchesMarker(stdout string) bool {
	if t.Marker == "" {
		return false
	}
	return strings.Contains(stdout, t.Marker)
}

// LatexToolchain compiles markup with pdflatex in non-interactive mode.
// Layout options are left to the document preamble.
func LatexToolchain(bin string) Toolchain {
	if bin == "" {
		bin = DefaultLatexBin
	}
	return Toolchain{
		Engine:         EngineLatex,
		Binary:         bin,
		Marker:         latexSuccessMarker,
		RunInOutputDir: true,
		BuildArgs: func(set *ArtifactSet, _ Options) []string {
			return []string{
				"-interaction=nonstopmode",
				"-halt-on-error",
				"-file-line-error",
				"-output-directory", set.OutputDir,
				set.InputPath,
			}
		},
	}
}

// OfficeToolchain converts binary documents with LibreOffice, keeping the
// original layout. Layout options do not apply.
func OfficeToolchain(bin string) Toolchain {
	if bin == "" {
		bin = DefaultOfficeBin
	}
	return Toolchain{
		Engine: EngineOffice,
		Binary: bin,
		Marker: officeSuccessMarker,
		BuildArgs: func(set *ArtifactSet, _ Options) []string {
			return []string{
				"--headless",
				"--norestore",
				"--convert-to", "pdf",
				"--outdir", set.OutputDir,
				set.InputPath,
			}
		},
	}
}

// PandocToolchain converts binary documents through pandoc and a LaTeX
// engine, applying page size, margin and orientation.
func PandocToolchain(bin, pdfEngine string) Toolchain {
	if bin == "" {
		bin = DefaultPandocBin
	}
	if pdfEngine == "" {
		pdfEngine = DefaultLatexBin
	}
	return Toolchain{
		Engine: EnginePandoc,
		Binary: bin,
		BuildArgs: func(set *ArtifactSet, opts Options) []string {
			args := []string{
				set.InputPath,
				"-o", set.OutputPath,
				"--pdf-engine=" + pdfEngine,
				"-V", "papersize=" + opts.pageSize(),
				"-V", fmt.Sprintf("geometry:margin=%.2fin", opts.margin()),
			}
			if opts.landscape() {
				args = append(args, "-V", "classoption=landscape")
			}
			return args
		},
	}
}

// diagnosticPatterns match the compiler lines worth showing to a user:
// TeX errors ("! Undefined control sequence."), file:line errors and fatal
// errors.
var diagnosticPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^!\s*\S`),
	regexp.MustCompile(`^[^\s:]+:\d+:\s*\S`),
	regexp.MustCompile(`(?i)fatal error`),
}

// genericFailureMessage is used when no diagnostic line is found.
const genericFailureMessage = "compilation failed: no PDF was produced"

// ExtractDiagnostic returns the first line of output that looks like a
// compiler error, or false if there is none.
func ExtractDiagnostic(output string) (string, bool) {
	sc := bufio.NewScanner(strings.NewReader(output))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		for _, p := range diagnosticPatterns {
			if p.MatchString(line) {
				return line, true
			}
		}
	}
	return "", false
}

// failureMessage picks the user-facing message for failed output.
func failureMessage(output string) string {
	if line, ok := ExtractDiagnostic(output); ok {
		return line
	}
	return genericFailureMessage
}
