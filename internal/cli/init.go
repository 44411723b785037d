package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mistakeknot/interlock/internal/config"
)

const configHeader = "# interlock configuration. Every key can be overridden with an\n# INTERLOCK_<SECTION>_<KEY> environment variable.\n"

// ErrConfigExists is returned when the target file exists and force is off.
var ErrConfigExists = errors.New("config file already exists")

// InitConfigFile writes the default configuration to path, optionally
// switching the storage driver. Existing files are kept unless force is set.
func InitConfigFile(path, driver string, force bool) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("config file path required")
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat config file: %w", err)
		}
	}

	cfg := config.Default()
	if driver = strings.TrimSpace(driver); driver != "" {
		cfg.Storage.Driver = driver
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return config.ValidationErrors(errs)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, append([]byte(configHeader), data...), 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
