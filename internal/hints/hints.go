// Package hints provides actionable error hints for common failure scenarios.
// Hints are formatted consistently as "\n  hint: <text>" for appending to error messages.
package hints

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/alnah/go-doc2pdf/internal/fileutil"
)

// Environment variables named in hints. The CLI reads the same names.
const (
	EnvBrowserBin = "DOC2PDF_BROWSER_BIN"
	EnvNoSandbox  = "DOC2PDF_NO_SANDBOX"
)

// IsInContainer detects if running inside a Docker container or similar.
// Checks for /.dockerenv file which Docker creates automatically.
var IsInContainer = func() bool {
	return fileutil.FileExists("/.dockerenv")
}

// inCI reports whether a common CI environment variable is set.
func inCI() bool {
	return os.Getenv("CI") != "" ||
		os.Getenv("GITHUB_ACTIONS") != "" ||
		os.Getenv("GITLAB_CI") != "" ||
		os.Getenv("JENKINS_URL") != ""
}

// ForBrowserConnect returns hints for browser connection errors.
// Detects CI/Docker environment and suggests relevant environment variables.
func ForBrowserConnect() string {
	var hints []string

	if (inCI() || IsInContainer()) && os.Getenv(EnvNoSandbox) != "1" {
		hints = append(hints, "set "+EnvNoSandbox+"=1 for Docker/CI")
	}
	if os.Getenv(EnvBrowserBin) == "" {
		hints = append(hints, "set "+EnvBrowserBin+" to use a custom Chrome")
	}

	return formatHints(hints)
}

// installHints maps an engine name to the package that provides it.
var installHints = map[string]string{
	"latex":  "install a TeX distribution (TeX Live, MiKTeX) or set compiler.latexBin",
	"office": "install LibreOffice or set compiler.officeBin",
	"pandoc": "install pandoc with a PDF engine (pdflatex) or set compiler.pandocBin",
	"html":   "install Chrome/Chromium or set " + EnvBrowserBin,
}

// ForCompilerMissing returns the install hint for an engine.
func ForCompilerMissing(engine string) string {
	return format(installHints[engine])
}

// ForTimeout returns a hint about increasing timeout for slow compilations.
func ForTimeout() string {
	return format("for large documents, raise compiler.timeout or use --timeout")
}

// ForConfigNotFound returns hints for config file not found errors.
// Suggests --config flag and creating a config in the user config directory.
func ForConfigNotFound(searchedPaths []string) string {
	hint := "use --config /path/to/file.yaml"

	marker := string(filepath.Separator) + "doc2pdf" + string(filepath.Separator)
	for _, p := range searchedPaths {
		if strings.Contains(p, marker) {
			hint += " or create " + p
			break
		}
	}

	return format(hint)
}

// ForStorageRoot returns hints for artifact directory creation errors.
func ForStorageRoot() string {
	return format("check storage.root exists or can be created and is writable")
}

// ForListen returns hints for listener errors.
func ForListen(addr string) string {
	return format("is another process using " + addr + "? change server.addr or use --addr")
}

// format creates a single hint string with consistent formatting.
func format(hint string) string {
	if hint == "" {
		return ""
	}
	return "\n  hint: " + hint
}

// formatHints joins multiple hints with consistent formatting.
func formatHints(hints []string) string {
	if len(hints) == 0 {
		return ""
	}
	return format(strings.Join(hints, "; "))
}
