package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const defaultConfigTOML = `# drift configuration
parallel = true
parallel_limit = 4
search_limit = 20

[paths]
# root = "~/.local/share/drift"
# bin = "~/.local/share/drift/bin"

[sandbox]
fs_read = ["~"]
fs_write = []
net = true

[download]
timeout_secs = 0
max_retries = 2

[logging]
level = "info"
color = "auto"

[[repositories]]
name = "pkgforge"
url = "https://bin.pkgforge.dev/x86_64"
metadata = "metadata.json"
`

// DefaultConfigPath returns the expected config file location.
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(homeDir, ".config", "drift", "config.toml"), nil
}

// WriteDefault writes the default configuration to path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s, not overriding it", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTOML), 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}
