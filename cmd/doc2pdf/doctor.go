package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-rod/rod/lib/launcher"
	flag "github.com/spf13/pflag"

	doc2pdf "github.com/alnah/go-doc2pdf"
	"github.com/alnah/go-doc2pdf/internal/config"
	"github.com/alnah/go-doc2pdf/internal/hints"
)

// Doctor statuses.
const (
	statusReady    = "ready"
	statusWarnings = "warnings"
	statusErrors   = "errors"
)

// doctorResult holds all diagnostic information.
type doctorResult struct {
	Status    string         `json:"status"` // "ready", "warnings", "errors"
	Compilers []compilerInfo `json:"compilers"`
	Chrome    chromeInfo     `json:"chrome"`
	Env       envInfo        `json:"environment"`
	Storage   storageInfo    `json:"storage"`
	Warnings  []string       `json:"warnings,omitempty"`
	Errors    []string       `json:"errors,omitempty"`
}

// compilerInfo holds the lookup result for one external compiler.
type compilerInfo struct {
	Engine string `json:"engine"`
	Binary string `json:"binary"`
	Found  bool   `json:"found"`
	Path   string `json:"path,omitempty"`
}

// chromeInfo holds Chrome/Chromium detection results.
type chromeInfo struct {
	Found   bool   `json:"found"`
	Path    string `json:"path,omitempty"`
	Version string `json:"version,omitempty"`
	Sandbox bool   `json:"sandbox"`
}

// envInfo holds environment detection results.
type envInfo struct {
	OS            string `json:"os"`
	Arch          string `json:"arch"`
	Container     bool   `json:"container"`
	ContainerHint string `json:"container_hint,omitempty"`
	CI            bool   `json:"ci"`
}

// storageInfo holds artifact root checks.
type storageInfo struct {
	Root     string `json:"root"`
	Writable bool   `json:"writable"`
}

// runDoctorCmd executes the doctor command and returns an exit code.
// Exit codes: 0 = OK (including warnings), 1 = errors found, 2 = bad flags or config.
func runDoctorCmd(args []string, env *Environment) int {
	flags, err := parseDoctorFlags(args, env.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return ExitSuccess
	}
	if err != nil {
		fmt.Fprintln(env.Stderr, "error:", err)
		return ExitUsage
	}
	cfg, err := loadConfig(&flags.common, env)
	if err != nil {
		fmt.Fprintln(env.Stderr, "error:", err)
		return exitCodeFor(err)
	}

	result := runDoctor(cfg)

	if flags.json {
		enc := json.NewEncoder(env.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
	} else {
		printDoctorResult(env.Stdout, result)
	}

	if result.Status == statusErrors {
		return ExitGeneral
	}
	return ExitSuccess
}

// runDoctor performs all diagnostic checks.
func runDoctor(cfg *config.Config) *doctorResult {
	result := &doctorResult{
		Status: statusReady,
		Env: envInfo{
			OS:   runtime.GOOS,
			Arch: runtime.GOARCH,
		},
	}

	checkCompilers(result, cfg)
	checkChrome(result, cfg)
	checkEnvironment(result, cfg)
	checkStorage(result, cfg)

	// Determine final status
	if len(result.Errors) > 0 {
		result.Status = statusErrors
	} else if len(result.Warnings) > 0 {
		result.Status = statusWarnings
	}

	return result
}

// checkCompilers looks up every external compiler. Missing ones are
// warnings: the server still starts and reports them per request.
func checkCompilers(result *doctorResult, cfg *config.Config) {
	toolchains := []doc2pdf.Toolchain{
		doc2pdf.LatexToolchain(cfg.Compiler.LatexBin),
		doc2pdf.OfficeToolchain(cfg.Compiler.OfficeBin),
		doc2pdf.PandocToolchain(cfg.Compiler.PandocBin, ""),
	}
	for _, tc := range toolchains {
		info := compilerInfo{Engine: tc.Engine, Binary: tc.Binary}
		if path, err := exec.LookPath(tc.Binary); err == nil {
			info.Found = true
			info.Path = path
		} else {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s compiler %q not found%s", tc.Engine, tc.Binary, hints.ForCompilerMissing(tc.Engine)))
		}
		result.Compilers = append(result.Compilers, info)
	}
}

// checkChrome detects the Chrome/Chromium installation used for HTML.
func checkChrome(result *doctorResult, cfg *config.Config) {
	chromePath := cfg.Browser.Bin

	if chromePath == "" {
		// Use rod's launcher to locate Chrome
		var found bool
		chromePath, found = launcher.LookPath()
		if !found {
			result.Warnings = append(result.Warnings,
				"Chrome/Chromium not found; HTML rendering will download Chromium on first use. Install Chrome or set "+hints.EnvBrowserBin)
			return
		}
	}

	// Verify it exists
	if _, err := os.Stat(chromePath); err != nil {
		if resolved, lookErr := exec.LookPath(chromePath); lookErr == nil {
			chromePath = resolved
		} else {
			result.Errors = append(result.Errors,
				fmt.Sprintf("Chrome not found at %s", chromePath))
			return
		}
	}

	result.Chrome.Found = true
	result.Chrome.Path = chromePath

	// #nosec G204 -- chromePath comes from config or rod's lookup
	out, err := exec.Command(chromePath, "--version").Output()
	if err == nil {
		result.Chrome.Version = strings.TrimSpace(string(out))
	} else {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Could not get Chrome version: %v", err))
	}

	result.Chrome.Sandbox = !cfg.Browser.NoSandbox
}

// checkEnvironment detects container and CI environments.
func checkEnvironment(result *doctorResult, cfg *config.Config) {
	// Detect container (multi-signal approach)
	result.Env.Container, result.Env.ContainerHint = isContainer()

	// Detect CI environments
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "CIRCLECI"}
	for _, v := range ciVars {
		if os.Getenv(v) != "" {
			result.Env.CI = true
			break
		}
	}

	// Warn if container/CI without sandbox disabled
	if (result.Env.Container || result.Env.CI) && !cfg.Browser.NoSandbox {
		result.Warnings = append(result.Warnings,
			"Container/CI detected but the Chrome sandbox is on. Set "+hints.EnvNoSandbox+"=1 or browser.noSandbox")
	}
}

// isContainer detects if running in a container environment.
// Returns (isContainer, hint) where hint indicates which signal was detected.
func isContainer() (bool, string) {
	// Explicit override (highest priority)
	if os.Getenv("DOC2PDF_CONTAINER") == "1" {
		return true, "DOC2PDF_CONTAINER=1"
	}
	// Docker
	if hints.IsInContainer() {
		return true, "/.dockerenv"
	}
	// Podman / systemd-nspawn / general container indicator
	if v := os.Getenv("container"); v != "" {
		return true, "container=" + v
	}
	// Kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return true, "KUBERNETES_SERVICE_HOST"
	}
	return false, ""
}

// checkStorage verifies the artifact root can be created and written.
func checkStorage(result *doctorResult, cfg *config.Config) {
	root := cfg.Storage.Root
	result.Storage.Root = root

	if err := os.MkdirAll(root, 0o750); err != nil {
		result.Errors = append(result.Errors,
			fmt.Sprintf("Storage root cannot be created: %s%s", root, hints.ForStorageRoot()))
		return
	}
	testFile := filepath.Join(root, ".doctor-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		result.Errors = append(result.Errors,
			fmt.Sprintf("Storage root not writable: %s%s", root, hints.ForStorageRoot()))
		return
	}
	_ = os.Remove(testFile)
	result.Storage.Writable = true
}

// printDoctorResult outputs human-readable diagnostic results.
func printDoctorResult(w io.Writer, r *doctorResult) {
	fmt.Fprintln(w, "doc2pdf doctor")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Compilers")
	for _, c := range r.Compilers {
		if c.Found {
			fmt.Fprintf(w, "  [OK] %s: %s\n", c.Engine, c.Path)
		} else {
			fmt.Fprintf(w, "  [WARN] %s: %s not found\n", c.Engine, c.Binary)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Chrome/Chromium")
	if r.Chrome.Found {
		fmt.Fprintf(w, "  [OK] Found at %s\n", r.Chrome.Path)
		if r.Chrome.Version != "" {
			fmt.Fprintf(w, "  [OK] Version: %s\n", r.Chrome.Version)
		}
		if r.Chrome.Sandbox {
			fmt.Fprintln(w, "  [OK] Sandbox: enabled")
		} else {
			fmt.Fprintln(w, "  [OK] Sandbox: disabled")
		}
	} else {
		fmt.Fprintln(w, "  [WARN] Not found")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Environment")
	fmt.Fprintf(w, "  [OK] Platform: %s/%s\n", r.Env.OS, r.Env.Arch)
	if r.Env.Container {
		fmt.Fprintf(w, "  [OK] Container: detected (%s)\n", r.Env.ContainerHint)
	}
	if r.Env.CI {
		fmt.Fprintln(w, "  [OK] CI: detected")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Storage")
	if r.Storage.Writable {
		fmt.Fprintf(w, "  [OK] Root: %s (writable)\n", r.Storage.Root)
	} else {
		fmt.Fprintf(w, "  [ERROR] Root: %s (not writable)\n", r.Storage.Root)
	}
	fmt.Fprintln(w)

	if len(r.Warnings) > 0 {
		fmt.Fprintln(w, "Warnings:")
		for _, warn := range r.Warnings {
			fmt.Fprintf(w, "  [WARN] %s\n", warn)
		}
		fmt.Fprintln(w)
	}

	if len(r.Errors) > 0 {
		fmt.Fprintln(w, "Errors:")
		for _, err := range r.Errors {
			fmt.Fprintf(w, "  [ERROR] %s\n", err)
		}
		fmt.Fprintln(w)
	}

	switch r.Status {
	case statusReady:
		fmt.Fprintln(w, "Status: Ready to serve")
	case statusWarnings:
		fmt.Fprintln(w, "Status: Ready with warnings")
	case statusErrors:
		fmt.Fprintln(w, "Status: Not ready (see errors above)")
	}
}
