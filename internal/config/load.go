package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Secrets  Secrets
	Warnings []Warning
	Exists   bool
}

// Load resolves, reads, parses, and validates the runtime configuration and
// reads secrets from the environment.
func Load(explicitPath string) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	loaded := Loaded{Path: resolvedPath, Config: Default()}

	content, err := os.ReadFile(resolvedPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		loaded.Warnings = append(loaded.Warnings, Warning{
			Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath),
		})
	case err != nil:
		return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
	default:
		cfg, err := Parse(string(content), loaded.Config)
		if err != nil {
			return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, err)
		}
		loaded.Config = cfg
		loaded.Exists = true
	}

	secrets, err := LoadSecrets(filepath.Dir(resolvedPath), ".")
	if err != nil {
		return Loaded{}, err
	}
	loaded.Secrets = secrets

	warnings, err := Validate(loaded.Config, secrets)
	if err != nil {
		return Loaded{}, fmt.Errorf("invalid config %q: %w", resolvedPath, err)
	}
	loaded.Warnings = append(loaded.Warnings, warnings...)
	return loaded, nil
}

// LoadSecrets reads optional .env files from dirs into the process
// environment, without overriding variables already set, then decodes the
// secrets.
func LoadSecrets(dirs ...string) (Secrets, error) {
	seen := make(map[string]struct{}, len(dirs))
	for _, dir := range dirs {
		path, err := filepath.Abs(filepath.Join(dir, ".env"))
		if err != nil {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}

		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return Secrets{}, fmt.Errorf("load env file %q: %w", path, err)
		}
	}

	var secrets Secrets
	if err := envconfig.Process("", &secrets); err != nil {
		return Secrets{}, fmt.Errorf("read environment: %w", err)
	}
	return secrets, nil
}
