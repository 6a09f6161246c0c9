// Package env locates the zpkg home directory and loads the tool
// configuration from $ZPKG_HOME/config.toml and ZPKG_* environment
// variables.
package env

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	// HomeEnv overrides the zpkg home directory.
	HomeEnv = "ZPKG_HOME"

	// ConfigFileName is the name of the configuration file in the home
	// directory, without extension.
	ConfigFileName = "config"
	ConfigFileExt  = "toml"
)

// Config is the tool configuration.
type Config struct {
	// Registry is the local registry directory.
	Registry string `mapstructure:"registry"`

	// RecipePaths are recipe directories consulted before the registry.
	RecipePaths []string `mapstructure:"recipe_paths"`

	// Profile is the descriptor profile used when none is given.
	Profile string `mapstructure:"profile"`

	// Settings override host settings, e.g. {"build_type": "Debug"}.
	Settings map[string]string `mapstructure:"settings"`

	// Jobs is the number of parallel native build jobs; 0 lets the build
	// system decide.
	Jobs int `mapstructure:"jobs"`

	Verbose bool `mapstructure:"verbose"`
}

// Home returns the zpkg home directory: $ZPKG_HOME when set, otherwise
// ".zpkg" in the user cache directory.
func Home() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return filepath.Abs(dir)
	}
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(userCacheDir, ".zpkg"), nil
}

// RegistryDir returns the default registry directory, creating it.
func RegistryDir() (string, error) {
	home, err := Home()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, "registry")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// Load reads the configuration. Values come, by increasing precedence,
// from defaults, the config file in the home directory and ZPKG_*
// environment variables (ZPKG_REGISTRY, ZPKG_PROFILE, ...). A missing
// config file is not an error.
func Load() (*Config, string, error) {
	home, err := Home()
	if err != nil {
		return nil, "", err
	}
	v := viper.New()
	v.SetDefault("registry", filepath.Join(home, "registry"))
	v.SetDefault("recipe_paths", []string{})
	v.SetDefault("profile", "")
	v.SetDefault("jobs", 0)
	v.SetDefault("verbose", false)

	v.SetEnvPrefix("ZPKG")
	v.AutomaticEnv()

	v.SetConfigName(ConfigFileName)
	v.SetConfigType(ConfigFileExt)
	v.AddConfigPath(home)

	resolvedPath := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, "", fmt.Errorf("read config: %w", err)
		}
	} else {
		resolvedPath = v.ConfigFileUsed()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, resolvedPath, nil
}
