package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

const configHeader = `# calcache Configuration File
#
# Every key can be overridden with an environment variable:
#   engine.cache.max_size  ->  CALCACHE_ENGINE_CACHE_MAX_SIZE
#
# Durations accept Go syntax ("500ms", "30s", "5m").
# Generate a JSON schema for editor completion with: calcache config schema

`

// InitConfig writes the default configuration to the default location.
// It returns the path written. An existing file is only replaced when
// force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes the default configuration to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}

	data, err := Marshal(GetDefaultConfig())
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	buf.Write(data)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
