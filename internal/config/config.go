package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the process-wide configuration. It is constructed once at
// startup and passed by reference into every component; nothing reads
// ambient global state after Load returns.
type Config struct {
	Profile       string
	Parallel      bool             `mapstructure:"parallel"`
	ParallelLimit int              `mapstructure:"parallel_limit"`
	SearchLimit   int              `mapstructure:"search_limit"`
	Paths         PathsConfig      `mapstructure:"paths"`
	Sandbox       SandboxConfig    `mapstructure:"sandbox"`
	Download      DownloadConfig   `mapstructure:"download"`
	Logging       LoggingConfig    `mapstructure:"logging"`
	Repositories  []Repository     `mapstructure:"repositories"`
	Profiles      map[string]Paths `mapstructure:"profiles"`
}

// Paths are the per-profile overridable directories.
type Paths struct {
	Root string `mapstructure:"root"`
	Bin  string `mapstructure:"bin"`
}

// PathsConfig contains the resolved directory layout for the active profile.
type PathsConfig struct {
	Root        string `mapstructure:"root"`
	Bin         string `mapstructure:"bin"`
	Packages    string `mapstructure:"packages"`
	Cache       string `mapstructure:"cache"`
	RegistryDB  string `mapstructure:"registry_db"`
	InstalledDB string `mapstructure:"installed_db"`
	LogFile     string `mapstructure:"log_file"`
}

// SandboxConfig is the global default sandbox policy. Per-repository and
// per-package rules override it field by field.
type SandboxConfig struct {
	FSRead  []string `mapstructure:"fs_read"`
	FSWrite []string `mapstructure:"fs_write"`
	Net     bool     `mapstructure:"net"`
}

// SandboxOverride is a partial sandbox policy on a repository. Unset fields
// (nil) inherit from the global default.
type SandboxOverride struct {
	FSRead  []string `mapstructure:"fs_read"`
	FSWrite []string `mapstructure:"fs_write"`
	Net     *bool    `mapstructure:"net"`
}

// DownloadConfig tunes the download scheduler.
type DownloadConfig struct {
	TimeoutSecs int `mapstructure:"timeout_secs"`
	MaxRetries  int `mapstructure:"max_retries"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	Color string `mapstructure:"color"`
}

// Repository is a named remote metadata source.
type Repository struct {
	Name     string           `mapstructure:"name"`
	URL      string           `mapstructure:"url"`
	Metadata string           `mapstructure:"metadata"`
	Disabled bool             `mapstructure:"disabled"`
	Sandbox  *SandboxOverride `mapstructure:"sandbox"`
}

// MetadataURL is the full URL of the repository's metadata document.
func (r Repository) MetadataURL() string {
	name := r.Metadata
	if name == "" {
		name = "metadata.json"
	}
	return strings.TrimRight(r.URL, "/") + "/" + name
}

// Load loads configuration from file and environment. profile selects a
// named install root; empty means the default layout. The returned value is
// immutable for the process lifetime; switching profiles requires a new
// invocation.
func Load(profile string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")

	homeDir, err := os.UserHomeDir()
	if err == nil {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "drift"))
	}
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("DRIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No config file: defaults apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Profile = profile

	if profile != "" {
		override, ok := cfg.Profiles[profile]
		if !ok {
			return nil, fmt.Errorf("unknown profile %q", profile)
		}
		if override.Root != "" {
			cfg.Paths.Root = override.Root
		}
		if override.Bin != "" {
			cfg.Paths.Bin = override.Bin
		}
		// Derived paths follow the profile root.
		cfg.Paths.Packages = ""
		cfg.Paths.Cache = ""
		cfg.Paths.RegistryDB = ""
		cfg.Paths.InstalledDB = ""
		cfg.Paths.LogFile = ""
	}

	cfg.Paths.Root = expandPath(cfg.Paths.Root)
	cfg.Paths.Bin = expandPath(cfg.Paths.Bin)
	fillDerivedPaths(&cfg.Paths)

	if cfg.ParallelLimit < 1 {
		cfg.ParallelLimit = 1
	}
	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		homeDir = os.Getenv("HOME")
	}
	if homeDir == "" {
		homeDir = "."
	}
	root := filepath.Join(homeDir, ".local", "share", "drift")

	v.SetDefault("parallel", true)
	v.SetDefault("parallel_limit", 4)
	v.SetDefault("search_limit", 20)

	v.SetDefault("paths.root", root)
	v.SetDefault("paths.bin", filepath.Join(root, "bin"))

	v.SetDefault("sandbox.fs_read", []string{"~"})
	v.SetDefault("sandbox.fs_write", []string{})
	v.SetDefault("sandbox.net", true)

	v.SetDefault("download.timeout_secs", 0)
	v.SetDefault("download.max_retries", 2)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.color", "auto")
}

// fillDerivedPaths derives the store and cache locations from the root when
// they are not configured explicitly.
func fillDerivedPaths(p *PathsConfig) {
	if p.Bin == "" {
		p.Bin = filepath.Join(p.Root, "bin")
	}
	if p.Packages == "" {
		p.Packages = filepath.Join(p.Root, "packages")
	}
	if p.Cache == "" {
		p.Cache = filepath.Join(p.Root, "cache")
	}
	if p.RegistryDB == "" {
		p.RegistryDB = filepath.Join(p.Root, "registry.db")
	}
	if p.InstalledDB == "" {
		p.InstalledDB = filepath.Join(p.Root, "installed.db")
	}
	if p.LogFile == "" {
		p.LogFile = filepath.Join(p.Root, "drift.log")
	}
}

// EnabledRepositories filters out disabled repositories. Disabled
// repositories keep their installed packages but are excluded from sync and
// resolution.
func (c *Config) EnabledRepositories() []Repository {
	out := make([]Repository, 0, len(c.Repositories))
	for _, r := range c.Repositories {
		if !r.Disabled {
			out = append(out, r)
		}
	}
	return out
}

// RepositorySandbox returns the sandbox default for a repository name, or
// nil when the repository defines none.
func (c *Config) RepositorySandbox(repoName string) *SandboxOverride {
	for _, r := range c.Repositories {
		if r.Name == repoName {
			return r.Sandbox
		}
	}
	return nil
}

// expandPath expands ~ and environment variables in paths.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[1:])
		}
	}
	return os.ExpandEnv(path)
}
