package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alnah/go-doc2pdf/internal/config"
	"github.com/alnah/go-doc2pdf/internal/hints"
)

// envPrefix marks the variables read by doc2pdf.
const envPrefix = "DOC2PDF_"

// envConfig holds configuration from environment variables.
// Provides container-friendly overrides without requiring YAML files.
// Zero values mean "not set".
type envConfig struct {
	// Tier 1 - Essential
	ConfigPath string        // DOC2PDF_CONFIG: config file name or path
	Addr       string        // DOC2PDF_ADDR: listen address
	Root       string        // DOC2PDF_STORAGE_ROOT: artifact root directory
	Timeout    time.Duration // DOC2PDF_TIMEOUT: per-compilation timeout

	// Tier 2 - Server
	AllowedOrigins []string      // DOC2PDF_ALLOWED_ORIGINS: comma-separated
	MaxUploadBytes int64         // DOC2PDF_MAX_UPLOAD_BYTES
	Retention      time.Duration // DOC2PDF_RETENTION
	MaxConcurrent  int           // DOC2PDF_MAX_CONCURRENT

	// Tier 3 - Toolchain
	LatexBin   string // DOC2PDF_LATEX_BIN
	OfficeBin  string // DOC2PDF_OFFICE_BIN
	PandocBin  string // DOC2PDF_PANDOC_BIN
	BrowserBin string // DOC2PDF_BROWSER_BIN
	NoSandbox  bool   // DOC2PDF_NO_SANDBOX=1
}

// knownEnvVars lists valid DOC2PDF_* environment variables.
// Used to detect typos and warn users about unknown variables.
var knownEnvVars = map[string]bool{
	// Tier 1 - Essential
	"DOC2PDF_CONFIG":       true,
	"DOC2PDF_ADDR":         true,
	"DOC2PDF_STORAGE_ROOT": true,
	"DOC2PDF_TIMEOUT":      true,
	// Tier 2 - Server
	"DOC2PDF_ALLOWED_ORIGINS":  true,
	"DOC2PDF_MAX_UPLOAD_BYTES": true,
	"DOC2PDF_RETENTION":        true,
	"DOC2PDF_MAX_CONCURRENT":   true,
	// Tier 3 - Toolchain
	"DOC2PDF_LATEX_BIN":  true,
	"DOC2PDF_OFFICE_BIN": true,
	"DOC2PDF_PANDOC_BIN": true,
	hints.EnvBrowserBin:  true,
	hints.EnvNoSandbox:   true,
	// Read by doctor only
	"DOC2PDF_CONTAINER": true,
}

// loadEnvConfig reads configuration from environment variables.
// Unparseable numbers and durations are ignored, like unset ones.
func loadEnvConfig() *envConfig {
	cfg := &envConfig{
		// Tier 1
		ConfigPath: os.Getenv("DOC2PDF_CONFIG"),
		Addr:       os.Getenv("DOC2PDF_ADDR"),
		Root:       os.Getenv("DOC2PDF_STORAGE_ROOT"),
		Timeout:    envDuration("DOC2PDF_TIMEOUT"),
		// Tier 2
		AllowedOrigins: splitList(os.Getenv("DOC2PDF_ALLOWED_ORIGINS")),
		Retention:      envDuration("DOC2PDF_RETENTION"),
		// Tier 3
		LatexBin:   os.Getenv("DOC2PDF_LATEX_BIN"),
		OfficeBin:  os.Getenv("DOC2PDF_OFFICE_BIN"),
		PandocBin:  os.Getenv("DOC2PDF_PANDOC_BIN"),
		BrowserBin: os.Getenv(hints.EnvBrowserBin),
		NoSandbox:  os.Getenv(hints.EnvNoSandbox) == "1",
	}

	if v := os.Getenv("DOC2PDF_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("DOC2PDF_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrent = n
		}
	}

	return cfg
}

// envDuration parses a positive duration variable, zero if unset or invalid.
func envDuration(name string) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

// splitList splits a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// warnUnknownEnvVars logs warnings for unrecognized DOC2PDF_* variables.
// Helps catch typos like DOC2PDF_TIMOUT instead of DOC2PDF_TIMEOUT.
func warnUnknownEnvVars(w io.Writer) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, envPrefix) {
			name := strings.SplitN(env, "=", 2)[0]
			if !knownEnvVars[name] {
				fmt.Fprintf(w, "warning: unknown environment variable %s (typo?)\n", name)
			}
		}
	}
}

// applyEnvConfig overrides config file values with set environment variables.
// Precedence: CLI flags > env vars > config file > defaults
// (CLI flags are applied later via mergeFlags).
func applyEnvConfig(env *envConfig, cfg *config.Config) {
	// Tier 1
	if env.Addr != "" {
		cfg.Server.Addr = env.Addr
	}
	if env.Root != "" {
		cfg.Storage.Root = env.Root
	}
	if env.Timeout > 0 {
		cfg.Compiler.Timeout = config.Duration(env.Timeout)
	}

	// Tier 2
	if len(env.AllowedOrigins) > 0 {
		cfg.Server.AllowedOrigins = env.AllowedOrigins
	}
	if env.MaxUploadBytes > 0 {
		cfg.Server.MaxUploadBytes = env.MaxUploadBytes
	}
	if env.Retention > 0 {
		cfg.Storage.Retention = config.Duration(env.Retention)
	}
	if env.MaxConcurrent > 0 {
		cfg.Compiler.MaxConcurrent = env.MaxConcurrent
	}

	// Tier 3
	if env.LatexBin != "" {
		cfg.Compiler.LatexBin = env.LatexBin
	}
	if env.OfficeBin != "" {
		cfg.Compiler.OfficeBin = env.OfficeBin
	}
	if env.PandocBin != "" {
		cfg.Compiler.PandocBin = env.PandocBin
	}
	if env.BrowserBin != "" {
		cfg.Browser.Bin = env.BrowserBin
	}
	if env.NoSandbox {
		cfg.Browser.NoSandbox = true
	}
}
