// Package config loads and validates the server configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alnah/go-doc2pdf/internal/fileutil"
	"github.com/alnah/go-doc2pdf/internal/yamlutil"
)

// Sentinel errors for config operations.
var (
	ErrConfigNotFound  = errors.New("config file not found")
	ErrEmptyConfigName = errors.New("config name cannot be empty")
	ErrConfigParse     = errors.New("failed to parse config")
	ErrFieldTooLong    = errors.New("field exceeds maximum length")
	ErrInvalidValue    = errors.New("invalid config value")
)

// Field limits.
const (
	MaxPathLength     = 4096
	MaxOriginLength   = 2048
	MaxOrigins        = 64
	MaxUploadLimit    = 1 << 30 // 1 GiB
	MinTimeout        = time.Second
	MaxTimeout        = 30 * time.Minute
	MinRetention      = time.Minute
	MaxMaxConcurrent  = 64
	MinSweepInterval  = 10 * time.Second
	DefaultUploadSize = 25 << 20 // 25 MiB
)

// appDirName is the directory searched under the user config dir.
const appDirName = "doc2pdf"

// Duration is a time.Duration written as "90s", "5m" or "1h" in YAML.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText renders the duration in Go syntax.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all configuration for the compilation server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Compiler CompilerConfig `yaml:"compiler"`
	Browser  BrowserConfig  `yaml:"browser"`
}

// ServerConfig defines the HTTP listener.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowedOrigins"` // CORS allow-list; empty = no cross-origin access
	MaxUploadBytes int64    `yaml:"maxUploadBytes"`
}

// StorageConfig defines where artifacts and saved uploads live.
type StorageConfig struct {
	Root          string   `yaml:"root"`
	Retention     Duration `yaml:"retention"`     // saved documents and orphaned artifacts
	SweepInterval Duration `yaml:"sweepInterval"` // janitor period
}

// CompilerConfig defines the external compilers.
type CompilerConfig struct {
	Timeout       Duration `yaml:"timeout"`
	MaxConcurrent int      `yaml:"maxConcurrent"` // 0 = derived from CPU count
	LatexBin      string   `yaml:"latexBin"`
	OfficeBin     string   `yaml:"officeBin"`
	PandocBin     string   `yaml:"pandocBin"`
	Recheck       bool     `yaml:"recheck"` // look compilers up again on every request
}

// BrowserConfig defines the Chrome instance used for HTML rendering.
type BrowserConfig struct {
	Bin       string `yaml:"bin"`
	NoSandbox bool   `yaml:"noSandbox"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			MaxUploadBytes: DefaultUploadSize,
		},
		Storage: StorageConfig{
			Root:          filepath.Join(os.TempDir(), appDirName),
			Retention:     Duration(time.Hour),
			SweepInterval: Duration(10 * time.Minute),
		},
		Compiler: CompilerConfig{
			Timeout: Duration(60 * time.Second),
			Recheck: true,
		},
	}
}

// Validate checks bounds and formats.
// Called automatically by LoadConfig, but available for consumers
// who construct Config manually or apply overrides afterwards.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("%w: server.addr: required", ErrInvalidValue)
	}
	if c.Server.MaxUploadBytes <= 0 || c.Server.MaxUploadBytes > MaxUploadLimit {
		return fmt.Errorf("%w: server.maxUploadBytes: must be between 1 and %d, got %d",
			ErrInvalidValue, MaxUploadLimit, c.Server.MaxUploadBytes)
	}
	if len(c.Server.AllowedOrigins) > MaxOrigins {
		return fmt.Errorf("%w: server.allowedOrigins: at most %d entries", ErrInvalidValue, MaxOrigins)
	}
	for i, origin := range c.Server.AllowedOrigins {
		field := fmt.Sprintf("server.allowedOrigins[%d]", i)
		if err := validateFieldLength(field, origin, MaxOriginLength); err != nil {
			return err
		}
		if err := validateOrigin(field, origin); err != nil {
			return err
		}
	}

	if strings.TrimSpace(c.Storage.Root) == "" {
		return fmt.Errorf("%w: storage.root: required", ErrInvalidValue)
	}
	if err := validateFieldLength("storage.root", c.Storage.Root, MaxPathLength); err != nil {
		return err
	}
	if c.Storage.Retention.Std() < MinRetention {
		return fmt.Errorf("%w: storage.retention: must be at least %s, got %s",
			ErrInvalidValue, MinRetention, c.Storage.Retention.Std())
	}
	if c.Storage.SweepInterval.Std() < MinSweepInterval {
		return fmt.Errorf("%w: storage.sweepInterval: must be at least %s, got %s",
			ErrInvalidValue, MinSweepInterval, c.Storage.SweepInterval.Std())
	}

	if t := c.Compiler.Timeout.Std(); t < MinTimeout || t > MaxTimeout {
		return fmt.Errorf("%w: compiler.timeout: must be between %s and %s, got %s",
			ErrInvalidValue, MinTimeout, MaxTimeout, t)
	}
	// The janitor sweeps artifacts older than the retention period; a
	// compilation still running must never be old enough to qualify.
	if c.Storage.Retention.Std() <= c.Compiler.Timeout.Std() {
		return fmt.Errorf("%w: storage.retention: must exceed compiler.timeout (%s), got %s",
			ErrInvalidValue, c.Compiler.Timeout.Std(), c.Storage.Retention.Std())
	}
	if c.Compiler.MaxConcurrent < 0 || c.Compiler.MaxConcurrent > MaxMaxConcurrent {
		return fmt.Errorf("%w: compiler.maxConcurrent: must be between 0 and %d, got %d",
			ErrInvalidValue, MaxMaxConcurrent, c.Compiler.MaxConcurrent)
	}
	for field, value := range map[string]string{
		"compiler.latexBin":  c.Compiler.LatexBin,
		"compiler.officeBin": c.Compiler.OfficeBin,
		"compiler.pandocBin": c.Compiler.PandocBin,
		"browser.bin":        c.Browser.Bin,
	} {
		if err := validateFieldLength(field, value, MaxPathLength); err != nil {
			return err
		}
	}

	return nil
}

// validateOrigin accepts scheme://host[:port] with no path, query or fragment.
func validateOrigin(field, origin string) error {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" ||
		(u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return fmt.Errorf("%w: %s: %q is not an origin (scheme://host[:port])", ErrInvalidValue, field, origin)
	}
	return nil
}

// validateFieldLength checks if a field exceeds its maximum allowed length.
func validateFieldLength(fieldName, value string, maxLength int) error {
	if len(value) > maxLength {
		return fmt.Errorf("%w: %s (%d chars, max %d)", ErrFieldTooLong, fieldName, len(value), maxLength)
	}
	return nil
}

// LoadConfig loads configuration from a file path or config name.
// If nameOrPath contains a path separator, it's treated as a file path.
// Otherwise, it's treated as a config name and searched in standard locations.
// Fields absent from the file keep their DefaultConfig value.
// Returns error if the file is not found (no silent fallback).
func LoadConfig(nameOrPath string) (*Config, error) {
	if nameOrPath == "" {
		return nil, ErrEmptyConfigName
	}

	var configPath string
	var err error

	if fileutil.IsFilePath(nameOrPath) {
		configPath = nameOrPath
	} else {
		configPath, err = resolveConfigPath(nameOrPath)
		if err != nil {
			return nil, err
		}
	}

	cfg := DefaultConfig()
	if err := yamlutil.ReadFileStrict(configPath, cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, configPath)
		}
		return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SearchPaths returns the candidate files for a config name, in lookup order.
// Tries extensions in order: .yaml, .yml
// Tries locations in order: current directory, <user config dir>/doc2pdf/
func SearchPaths(name string) []string {
	extensions := []string{".yaml", ".yml"}
	paths := make([]string, 0, len(extensions)*2)
	for _, ext := range extensions {
		paths = append(paths, name+ext)
	}
	if userConfigDir, err := os.UserConfigDir(); err == nil {
		for _, ext := range extensions {
			paths = append(paths, filepath.Join(userConfigDir, appDirName, name+ext))
		}
	}
	return paths
}

// resolveConfigPath searches for a config file by name in standard locations.
func resolveConfigPath(name string) (string, error) {
	tried := SearchPaths(name)
	for _, p := range tried {
		if fileutil.FileExists(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrConfigNotFound, strings.Join(tried, ", "))
}
