// Package config loads the nixbump configuration: the YAML config file,
// the optional .env file, and NIXBUMP_* environment overrides.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	ErrFlakeRootNotSet   = errors.New("flake root is not configured")
	ErrFlakeRootNotFound = errors.New("flake root does not exist")
	ErrNotAFlake         = errors.New("flake root has no flake.nix")
)

// Config represents the application configuration.
type Config struct {
	// Flake holds the flake repository settings
	Flake FlakeConfig `yaml:"flake"`
	// GitHub holds GitHub API settings
	GitHub GitHubConfig `yaml:"github"`
	// Cachix holds binary cache settings
	Cachix CachixConfig `yaml:"cachix"`
	// Update holds update run defaults
	Update UpdateConfig `yaml:"update"`
}

// FlakeConfig holds flake repository settings.
type FlakeConfig struct {
	// Root is the flake repository path
	Root string `yaml:"root"`
	// PackageDirs are the directories under Root scanned for definitions
	PackageDirs []string `yaml:"package_dirs"`
}

// GitHubConfig holds GitHub API settings.
type GitHubConfig struct {
	Token string `yaml:"token"` // Personal access token for higher rate limits
}

// CachixConfig holds binary cache settings.
type CachixConfig struct {
	// Cache is the cachix cache name pushed to with --cache
	Cache string `yaml:"cache"`
}

// UpdateConfig holds update run defaults.
type UpdateConfig struct {
	// Exclude lists package names never updated
	Exclude []string `yaml:"exclude"`
	// Jobs is the default worker pool size
	Jobs int `yaml:"jobs"`
	// BuildTimeoutMinutes bounds one package build
	BuildTimeoutMinutes int `yaml:"build_timeout_minutes"`
}

// ConfigPaths returns all possible config file paths in priority order
// 1. ~/.config/nixbump/config.yaml (XDG standard - priority)
// 2. ~/.nixbump/config.yaml (legacy fallback)
func ConfigPaths() ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	// Check XDG_CONFIG_HOME first, fallback to ~/.config
	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}

	return []string{
		filepath.Join(xdgConfig, "nixbump", "config.yaml"),
		filepath.Join(home, ".nixbump", "config.yaml"),
	}, nil
}

// FindConfigPath returns the first existing config file path.
// Returns the default path if no config file exists yet.
func FindConfigPath() (string, error) {
	paths, err := ConfigPaths()
	if err != nil {
		return "", err
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	// No config exists, return default (XDG) path for creation
	return paths[0], nil
}

// CacheDir returns the directory holding the probe cache.
func CacheDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	xdgCache := os.Getenv("XDG_CACHE_HOME")
	if xdgCache == "" {
		xdgCache = filepath.Join(home, ".cache")
	}
	return filepath.Join(xdgCache, "nixbump"), nil
}

// Load reads the configuration: .env from the working directory, then the
// first available config file, then NIXBUMP_* environment overrides.
func Load() (*Config, error) {
	// Missing .env is fine; only an unreadable one is an error.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	configPath, err := FindConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, err := LoadFrom(configPath)
	if err != nil {
		return nil, err
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadFrom reads configuration from a specific file path, creating a
// default config when the file does not exist yet.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultConfig()
			if saveErr := cfg.SaveTo(path); saveErr != nil {
				return nil, saveErr
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Flake: FlakeConfig{
			PackageDirs: []string{"packages"},
		},
		Update: UpdateConfig{
			Jobs:                4,
			BuildTimeoutMinutes: 60,
		},
	}
}

// applyEnv overlays NIXBUMP_* and GITHUB_TOKEN environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("NIXBUMP_FLAKE_ROOT"); v != "" {
		c.Flake.Root = v
	}
	if v := os.Getenv("NIXBUMP_CACHIX_CACHE"); v != "" {
		c.Cachix.Cache = v
	}
	if v := os.Getenv("NIXBUMP_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Update.Jobs = n
		}
	}
	if v := os.Getenv("NIXBUMP_GITHUB_TOKEN"); v != "" {
		c.GitHub.Token = v
	} else if v := os.Getenv("GITHUB_TOKEN"); v != "" && c.GitHub.Token == "" {
		c.GitHub.Token = v
	}
}

// SaveTo writes configuration to a specific file path.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// BuildTimeout returns the per-package build timeout.
func (c *Config) BuildTimeout() time.Duration {
	minutes := c.Update.BuildTimeoutMinutes
	if minutes <= 0 {
		minutes = 60
	}
	return time.Duration(minutes) * time.Minute
}

// FlakeRoot returns the validated flake root. The working directory is used
// when no root is configured, so running inside the flake just works.
func (c *Config) FlakeRoot() (string, error) {
	path := c.Flake.Root
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		path = wd
	}

	// Expand home directory if needed
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrFlakeRootNotFound
		}
		return "", err
	}
	if !info.IsDir() {
		return "", ErrFlakeRootNotFound
	}

	if _, err := os.Stat(filepath.Join(path, "flake.nix")); os.IsNotExist(err) {
		return "", ErrNotAFlake
	}
	return path, nil
}

// PackageRoots returns the absolute package directories under the flake
// root. Configured directories that do not exist are dropped; when none are
// left the flake root itself is scanned.
func (c *Config) PackageRoots(flakeRoot string) []string {
	var roots []string
	for _, dir := range c.Flake.PackageDirs {
		path := dir
		if !filepath.IsAbs(path) {
			path = filepath.Join(flakeRoot, dir)
		}
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			roots = append(roots, path)
		}
	}
	if len(roots) == 0 {
		roots = []string{flakeRoot}
	}
	return roots
}
