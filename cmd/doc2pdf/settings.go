package main

import (
	"errors"
	"fmt"

	"github.com/alnah/go-doc2pdf/internal/config"
	"github.com/alnah/go-doc2pdf/internal/fileutil"
	"github.com/alnah/go-doc2pdf/internal/hints"
)

// loadConfig resolves the effective configuration:
// defaults, then the config file, then DOC2PDF_* variables.
// Flags are merged by each command afterwards.
func loadConfig(f *commonFlags, env *Environment) (*config.Config, error) {
	envCfg := loadEnvConfig()
	if !f.quiet {
		warnUnknownEnvVars(env.Stderr)
	}

	name := f.config
	if name == "" {
		name = envCfg.ConfigPath
	}

	cfg := config.DefaultConfig()
	if name != "" {
		loaded, err := config.LoadConfig(name)
		if err != nil {
			if errors.Is(err, config.ErrConfigNotFound) && !fileutil.IsFilePath(name) {
				return nil, fmt.Errorf("%w%s", err, hints.ForConfigNotFound(config.SearchPaths(name)))
			}
			return nil, err
		}
		cfg = loaded
	}

	applyEnvConfig(envCfg, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
